package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Miravalier/NonsensePage-sub001/internal/auth"
	"github.com/Miravalier/NonsensePage-sub001/internal/connection"
	"github.com/Miravalier/NonsensePage-sub001/internal/wire"
)

func newLiveConn(t *testing.T, url string, tokens auth.TokenSource, opts ...connection.Option) *connection.Conn {
	t.Helper()

	cfg := connection.DefaultConfig()
	cfg.URL = url
	cfg.BackoffFloor = 10 * time.Millisecond
	cfg.BackoffStep = 10 * time.Millisecond

	c := connection.New(cfg, tokens, opts...)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.Stop(ctx)
	})
	return c
}

func TestConnAgainstHub(t *testing.T) {
	h, server, issuer := newTestHub(t)
	h.Handle("drop", func(ctx context.Context, c *Client, msg wire.Message) (any, error) {
		c.Close()
		return nil, nil
	})

	conn := newLiveConn(t, wsURL(server), auth.StaticToken(mustToken(t, issuer, "u-7", true)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.WaitActive(ctx); err != nil {
		t.Fatalf("WaitActive failed: %v", err)
	}
	if got := conn.Identity(); got.UserID != "u-7" || !got.Admin {
		t.Errorf("Identity() = %+v, want u-7 admin", got)
	}

	reply, err := conn.Request(ctx, map[string]any{"type": "ping"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if reply.Type != "pong" {
		t.Errorf("reply type = %q, want pong", reply.Type)
	}

	updates := make(chan wire.Message, 8)
	conn.Subscribe("room", func(m wire.Message) { updates <- m })
	waitFor(t, "subscription", func() bool { return h.Stats().Pools == 1 })

	h.Publish("room", map[string]any{"type": "update", "n": 1})
	select {
	case m := <-updates:
		if m.Pool != "room" {
			t.Errorf("delivery pool = %q, want room", m.Pool)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for pool delivery")
	}

	// Server drops the socket; the session comes back with its subscription.
	conn.Send(map[string]any{"type": "drop"})
	waitFor(t, "reconnect", func() bool { return conn.Stats().Reconnects >= 1 })
	if err := conn.WaitActive(ctx); err != nil {
		t.Fatalf("WaitActive after drop failed: %v", err)
	}
	waitFor(t, "resubscription", func() bool { return h.Stats().Pools == 1 && h.Stats().Clients == 1 })

	h.Publish("room", map[string]any{"type": "update", "n": 2})
	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for delivery after reconnect")
	}

	reply, err = conn.Request(ctx, map[string]any{"type": "nonsense"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if reply.Kind != wire.KindError || reply.Reason != "unknown request" {
		t.Errorf("reply = %v %q, want unknown request error", reply.Kind, reply.Reason)
	}
}

func TestConnAgainstHub_AuthRejected(t *testing.T) {
	_, server, _ := newTestHub(t)

	reasons := make(chan string, 1)
	conn := newLiveConn(t, wsURL(server), auth.StaticToken("not-a-jwt"),
		connection.WithAuthFailureHandler(func(r string) { reasons <- r }))

	select {
	case <-reasons:
	case <-time.After(2 * time.Second):
		t.Fatal("auth failure not reported")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := conn.WaitActive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitActive = %v, want deadline exceeded", err)
	}
	if conn.State() != connection.StateClosed {
		t.Errorf("state = %v, want closed", conn.State())
	}
}
