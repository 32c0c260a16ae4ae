// livehub serves the live endpoint for local development and tests:
// token-authenticated websockets, pool fan-out and a few demo request types.
// Usage: go run ./cmd/livehub -config configs/livehub.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Miravalier/NonsensePage-sub001/internal/auth"
	"github.com/Miravalier/NonsensePage-sub001/internal/config"
	"github.com/Miravalier/NonsensePage-sub001/internal/hub"
	"github.com/Miravalier/NonsensePage-sub001/internal/logging"
	"github.com/Miravalier/NonsensePage-sub001/internal/server"
	"github.com/Miravalier/NonsensePage-sub001/internal/version"
	"github.com/Miravalier/NonsensePage-sub001/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to config file (empty reads the environment only)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting livehub",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := cfg.ValidateHub(); err != nil {
		logger.Error("invalid hub config", "error", err)
		os.Exit(1)
	}

	issuer, err := auth.NewIssuer(cfg.Hub.Secret, cfg.Hub.Issuer)
	if err != nil {
		logger.Error("failed to create token issuer", "error", err)
		os.Exit(1)
	}

	h := hub.New(hub.Config{
		WriteTimeout:   cfg.Hub.WriteTimeout,
		PingInterval:   cfg.Hub.PingInterval,
		ReadTimeout:    cfg.Hub.ReadTimeout,
		ReadLimit:      cfg.Hub.ReadLimit,
		SendBuffer:     cfg.Hub.SendBuffer,
		AllowedOrigins: cfg.Hub.AllowedOrigins,
	}, issuer, logger)
	registerDemoHandlers(h)

	srv := server.New(server.Config{
		Listen:         cfg.Hub.Listen,
		Path:           cfg.Live.Path,
		AllowedOrigins: cfg.Hub.AllowedOrigins,
		DevTokens:      cfg.Hub.DevTokens,
		TokenTTL:       cfg.Hub.TokenTTL,
	}, h, issuer, logger)

	if cfg.Hub.DevTokens {
		logger.Warn("dev tokens enabled, anyone can mint credentials", "endpoint", "/api/token")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	st := h.Stats()
	logger.Info("livehub stopped",
		"published", st.Published,
		"auth_failures", st.AuthFailures,
		"slow_clients", st.SlowClients,
	)
}

// registerDemoHandlers adds request types useful when poking at the hub by hand.
func registerDemoHandlers(h *hub.Hub) {
	h.Handle("whoami", func(ctx context.Context, c *hub.Client, msg wire.Message) (any, error) {
		claims := c.Claims()
		return map[string]any{
			"type":    "whoami",
			"id":      claims.UserID(),
			"admin":   claims.Admin,
			"session": c.ID(),
		}, nil
	})

	h.Handle("echo", func(ctx context.Context, c *hub.Client, msg wire.Message) (any, error) {
		data, _ := msg.Field(wire.KeyData)
		return map[string]any{"type": "echo", "data": data}, nil
	})

	h.Handle("time", func(ctx context.Context, c *hub.Client, msg wire.Message) (any, error) {
		return map[string]any{"type": "time", "now": time.Now().UTC().Format(time.RFC3339Nano)}, nil
	})
}
