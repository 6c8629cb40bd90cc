// Command wirebeam runs the rendezvous relay server: OTP issuance over HTTP
// and blind message relay between paired WebSocket clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wirebeam/wirebeam/internal/logctx"
	"github.com/wirebeam/wirebeam/relayhttp"
	"github.com/wirebeam/wirebeam/sessions"
	"github.com/wirebeam/wirebeam/sessions/memoryhost"
	"github.com/wirebeam/wirebeam/sessions/redishost"
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wirebeam:", err)
		os.Exit(1)
	}
}

func execute() error {
	var configPath string

	root := &cobra.Command{
		Use:           "wirebeam",
		Short:         "Rendezvous relay for direct file transfers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML config file")
	root.AddCommand(serveCmd(&configPath))
	return root.Execute()
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			slog.SetDefault(log)
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func newLogger(cfg Config) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}

	var inner slog.Handler
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		inner = slog.NewJSONHandler(os.Stderr, opts)
	default:
		inner = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(logctx.Handler{Handler: inner}), nil
}

func newStore(cfg Config) (sessions.Store, func() error, error) {
	if cfg.RedisAddr != "" {
		h, err := redishost.New(
			redishost.Config{RedisAddr: cfg.RedisAddr},
			redishost.WithTTL(cfg.SessionTTL),
			redishost.WithOTPLength(cfg.OTPLength),
		)
		if err != nil {
			return nil, nil, err
		}
		return h, h.Close, nil
	}
	h := memoryhost.New(
		memoryhost.WithTTL(cfg.SessionTTL),
		memoryhost.WithOTPLength(cfg.OTPLength),
	)
	return h, func() error { return nil }, nil
}

func serve(ctx context.Context, cfg Config, log *slog.Logger) error {
	store, closeStore, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer func() { _ = closeStore() }()

	handler, err := relayhttp.New(store,
		relayhttp.WithLogger(log),
		relayhttp.WithServerName(cfg.ServerName),
		relayhttp.WithStaticDir(cfg.StaticDir),
		relayhttp.WithTemplateDir(cfg.TemplateDir),
		relayhttp.WithGraceDelay(cfg.GraceDelay),
		relayhttp.WithSweepInterval(cfg.SweepInterval),
	)
	if err != nil {
		return fmt.Errorf("relay handler: %w", err)
	}
	defer func() { _ = handler.Close() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := handler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("expiry supervisor stopped", slog.String("err", err.Error()))
		}
	}()

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	backend := "memory"
	if cfg.RedisAddr != "" {
		backend = "redis"
	}
	log.Info("relay listening",
		slog.String("addr", cfg.Addr),
		slog.String("store", backend),
		slog.Duration("session_ttl", cfg.SessionTTL),
		slog.Duration("grace_delay", cfg.GraceDelay),
	)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}
