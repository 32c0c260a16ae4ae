// livetail connects to a live hub, subscribes to pools and streams every
// delivery to stdout as one JSON line.
// Usage: go run ./cmd/livetail -config configs/livetail.yaml -pool lobby -pool game:42
//
// Settings can also come from the environment (or a .env file):
//
//	LIVE_ORIGIN      - http(s) origin of the site serving the live endpoint
//	LIVE_TOKEN       - auth token, or LIVE_TOKEN_FILE to read it from disk
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/Miravalier/NonsensePage-sub001/internal/auth"
	"github.com/Miravalier/NonsensePage-sub001/internal/config"
	"github.com/Miravalier/NonsensePage-sub001/internal/connection"
	"github.com/Miravalier/NonsensePage-sub001/internal/logging"
	"github.com/Miravalier/NonsensePage-sub001/internal/version"
	"github.com/Miravalier/NonsensePage-sub001/internal/wire"
)

type poolList []string

func (p *poolList) String() string { return strings.Join(*p, ",") }

func (p *poolList) Set(v string) error {
	if v == "" {
		return errors.New("pool name is empty")
	}
	*p = append(*p, v)
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to config file (empty reads the environment only)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	origin := flag.String("origin", "", "override live.origin")
	pingEvery := flag.Duration("ping", 0, "send a ping request at this interval (0 disables)")
	statsEvery := flag.Duration("stats", 30*time.Second, "log connection stats at this interval (0 disables)")
	var pools poolList
	flag.Var(&pools, "pool", "pool to subscribe to (repeatable)")
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
	if *origin != "" {
		cfg.Live.Origin = *origin
		cfg.Live.URL = ""
	}

	// Deliveries own stdout, logs go to stderr.
	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting livetail",
		"version", version.Version,
		"commit", version.Commit,
		"pools", pools.String(),
	)

	if err := cfg.ValidateClient(); err != nil {
		logger.Error("invalid client config", "error", err)
		os.Exit(1)
	}

	connCfg, err := connectionConfig(cfg)
	if err != nil {
		logger.Error("failed to resolve live endpoint", "error", err)
		os.Exit(1)
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

	out := &lineWriter{w: os.Stdout}
	conn := connection.New(connCfg, tokenSource(cfg.Live),
		connection.WithLogger(logger),
		connection.WithAuthFailureHandler(func(reason string) {
			logger.Error("hub rejected credentials", "reason", reason)
			cancel()
		}),
		connection.WithFatalHandler(func(err error) {
			logger.Error("giving up on hub", "error", err)
			cancel()
		}),
		connection.WithUnhandledHandler(func(msg wire.Message) {
			out.write("", msg)
		}),
	)

	stopWatch := conn.WatchStatus(func(st connection.Status) {
		logger.Info("connection status", "state", st.State, "active", st.Active)
	})
	defer stopWatch()

	for _, pool := range pools {
		conn.Subscribe(pool, func(msg wire.Message) {
			out.write(pool, msg)
		})
	}

	logger.Info("connecting", "url", connCfg.URL)
	if err := conn.Start(ctx); err != nil {
		logger.Error("failed to start connection", "error", err)
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)
	if *statsEvery > 0 {
		g.Go(func() error {
			return every(ctx, *statsEvery, func() {
				st := conn.Stats()
				logger.Info("connection stats",
					"state", st.State,
					"session", st.SessionID,
					"pools", st.Pools,
					"pending", st.PendingRequests,
					"buffered", st.BufferedFrames,
					"reconnects", st.Reconnects,
					"received", st.FramesReceived,
					"sent", st.FramesSent,
					"malformed", st.MalformedFrames,
				)
			})
		})
	}
	if *pingEvery > 0 {
		g.Go(func() error {
			return every(ctx, *pingEvery, func() { ping(ctx, conn, *pingEvery, logger) })
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("livetail failed", "error", err)
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	conn.Stop(shutdownCtx)

	logger.Info("livetail stopped")
}

func connectionConfig(cfg *config.Config) (connection.Config, error) {
	endpoint := cfg.Live.URL
	if endpoint == "" {
		var err error
		endpoint, err = connection.DeriveURL(cfg.Live.Origin, cfg.Live.Path)
		if err != nil {
			return connection.Config{}, err
		}
	}

	c := connection.DefaultConfig()
	c.URL = endpoint
	c.BackoffFloor = cfg.Connection.BackoffFloor
	c.BackoffStep = cfg.Connection.BackoffStep
	c.BackoffMax = cfg.Connection.BackoffMax
	c.MaxReconnectAttempts = cfg.Connection.MaxReconnectAttempts
	c.RequestTimeout = cfg.Connection.RequestTimeout
	c.Transport = connection.TransportConfig{
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		WriteTimeout:     cfg.Connection.WriteTimeout,
		PingInterval:     cfg.Connection.PingInterval,
		PingTimeout:      cfg.Connection.PingTimeout,
		UserAgent:        version.UserAgent("livetail"),
	}
	return c, nil
}

func tokenSource(live config.LiveConfig) auth.TokenSource {
	if live.TokenFile != "" {
		return auth.FileTokenSource{Path: live.TokenFile}
	}
	return auth.StaticToken(live.Token)
}

func ping(ctx context.Context, conn *connection.Conn, timeout time.Duration, logger *slog.Logger) {
	if !conn.Active() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	reply, err := conn.Request(ctx, map[string]string{"type": "ping"})
	if err != nil {
		logger.Warn("ping failed", "error", err)
		return
	}
	logger.Debug("ping", "reply", reply.Type, "rtt", time.Since(start))
}

func every(ctx context.Context, d time.Duration, fn func()) error {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}

// lineWriter serializes deliveries from concurrent callbacks.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) write(pool string, msg wire.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case msg.Kind == wire.KindBinary:
		fmt.Fprintf(l.w, "%s\tbinary\t%d bytes\n", pool, len(msg.Payload))
	case pool == "":
		fmt.Fprintf(l.w, "-\t%s\t%s\n", msg.Type, msg.Raw)
	default:
		fmt.Fprintf(l.w, "%s\t%s\t%s\n", pool, msg.Type, msg.Raw)
	}
}
