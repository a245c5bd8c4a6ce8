package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/andy6609/chat-relay/internal/api"
	"github.com/andy6609/chat-relay/internal/auth"
	"github.com/andy6609/chat-relay/internal/chat"
	"github.com/andy6609/chat-relay/internal/config"
	"github.com/andy6609/chat-relay/internal/identity"
	"github.com/andy6609/chat-relay/internal/presence"
	"github.com/andy6609/chat-relay/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	level, _ := cfg.Level()
	policy, _ := cfg.Policy()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, policy, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, policy presence.SupersedePolicy, logger *slog.Logger) error {
	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		users   identity.Store
		mirrors fanout
	)
	if cfg.DatabaseURL != "" {
		pg, err := identity.OpenPostgres(startCtx, cfg.DatabaseURL, cfg.BcryptCost)
		if err != nil {
			return err
		}
		defer pg.Close()
		users = pg
		mirrors = append(mirrors, pg)
		logger.Info("account store ready", "backend", "postgres")
	} else {
		users = identity.NewMemoryStore(cfg.BcryptCost)
		logger.Info("account store ready", "backend", "memory")
	}

	if cfg.RedisAddr != "" {
		rp, err := storage.NewRedisPresence(startCtx, storage.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.RedisTTL,
		})
		if err != nil {
			return err
		}
		defer rp.Close()
		mirrors = append(mirrors, rp)
		logger.Info("presence mirror ready", "backend", "redis", "addr", cfg.RedisAddr)
	}

	var mirror *presence.MirrorQueue
	if len(mirrors) > 0 {
		mirror = presence.NewMirrorQueue(mirrors, cfg.MirrorBuffer, cfg.MirrorTimeout, logger)
		go mirror.Run()
	}

	conns := chat.NewConns(logger)
	reg := presence.NewRegistry()
	lc := presence.NewLifecycle(reg, presence.LifecycleOptions{
		Policy: policy,
		Closer: conns,
		Mirror: mirror,
		Logger: logger,
	})
	hub := presence.NewHub(cfg.HubBuffer, reg, lc, presence.NewRouter(reg, conns, logger), logger)
	go hub.Run()

	var (
		tokens api.TokenIssuer
		parser chat.TokenParser
	)
	if cfg.JWTSecret != "" {
		issuer := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL)
		tokens, parser = issuer, issuer
	}

	gw := chat.NewGateway(hub, conns, users, parser, chat.Options{
		MaxMessageLen:  cfg.MaxMessageLen,
		RateLimit:      rate.Limit(cfg.RateLimit),
		RateBurst:      cfg.RateBurst,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger)

	tcp := chat.NewServer(cfg.Addr, gw, logger)
	if err := tcp.Start(); err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Deps{
			Users:          users,
			Tokens:         tokens,
			Online:         hub,
			WS:             gw.ServeWS,
			Logger:         logger,
			AllowedOrigins: cfg.AllowedOrigins,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
		close(httpErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-httpErr:
		runErr = err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	tcp.Stop()
	conns.CloseAll("server shutting down")
	// WebSocket sessions are hijacked, so Shutdown does not wait for them;
	// their leaves must reach the hub before it stops.
	gw.Wait()

	hub.Stop()
	hub.Wait()
	if mirror != nil {
		mirror.Stop()
		mirror.Wait()
	}
	return runErr
}

// fanout mirrors presence to every configured backend.
type fanout []presence.Mirror

func (f fanout) RecordConnection(ctx context.Context, username, connectionToken string) error {
	var errs []error
	for _, m := range f {
		errs = append(errs, m.RecordConnection(ctx, username, connectionToken))
	}
	return errors.Join(errs...)
}

func (f fanout) ClearConnection(ctx context.Context, username string) error {
	var errs []error
	for _, m := range f {
		errs = append(errs, m.ClearConnection(ctx, username))
	}
	return errors.Join(errs...)
}
