package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStaticToken(t *testing.T) {
	token, err := StaticToken("abc").Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "abc" {
		t.Errorf("Token = %q, want abc", token)
	}

	if _, err := StaticToken("").Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
}

func TestFileTokenSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")

	if err := os.WriteFile(path, []byte("  first-token\n"), 0600); err != nil {
		t.Fatalf("failed to write token file: %v", err)
	}

	src := FileTokenSource{Path: path}
	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "first-token" {
		t.Errorf("Token = %q, want first-token", token)
	}

	// Rotated tokens are picked up on the next call
	if err := os.WriteFile(path, []byte("second-token"), 0600); err != nil {
		t.Fatalf("failed to rewrite token file: %v", err)
	}
	token, err = src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "second-token" {
		t.Errorf("Token = %q, want second-token", token)
	}
}

func TestFileTokenSource_Errors(t *testing.T) {
	if _, err := (FileTokenSource{}).Token(context.Background()); err == nil {
		t.Error("expected error for empty path")
	}

	missing := FileTokenSource{Path: filepath.Join(t.TempDir(), "missing")}
	if _, err := missing.Token(context.Background()); err == nil {
		t.Error("expected error for missing file")
	}

	empty := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(empty, []byte("\n"), 0600); err != nil {
		t.Fatalf("failed to write token file: %v", err)
	}
	if _, err := (FileTokenSource{Path: empty}).Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
}

func TestTokenFunc(t *testing.T) {
	calls := 0
	src := TokenFunc(func(ctx context.Context) (string, error) {
		calls++
		return "fn-token", nil
	})

	token, err := src.Token(context.Background())
	if err != nil || token != "fn-token" {
		t.Errorf("Token = %q, %v", token, err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestIssuer_IssueVerify(t *testing.T) {
	issuer, err := NewIssuer("test-secret", "livehub")
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}

	token, err := issuer.Issue("user-1", true, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.UserID() != "user-1" {
		t.Errorf("UserID = %q, want user-1", claims.UserID())
	}
	if !claims.Admin {
		t.Error("expected Admin = true")
	}
}

func TestIssuer_RejectsWrongSecret(t *testing.T) {
	a, _ := NewIssuer("secret-a", "livehub")
	b, _ := NewIssuer("secret-b", "livehub")

	token, err := a.Issue("user-1", false, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestIssuer_RejectsExpired(t *testing.T) {
	issuer, _ := NewIssuer("secret", "livehub")
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return base }

	token, err := issuer.Issue("user-1", false, time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	issuer.now = func() time.Time { return base.Add(time.Hour) }
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestIssuer_RejectsGarbage(t *testing.T) {
	issuer, _ := NewIssuer("secret", "")
	if _, err := issuer.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewIssuer_RequiresSecret(t *testing.T) {
	if _, err := NewIssuer("", "x"); !errors.Is(err, ErrNoSecret) {
		t.Errorf("expected ErrNoSecret, got %v", err)
	}
}
