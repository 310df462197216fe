// Package main runs the standalone Pylos websocket server.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pylos/internal/app"
	"pylos/internal/auth"
	"pylos/internal/config"
	"pylos/internal/logging"
	"pylos/internal/ports/ws"
	"pylos/internal/session"
	"pylos/internal/storage/sqlite"

	"golang.org/x/sync/errgroup"
)

const (
	tokenIssuer     = "pylos"
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func run(ctx context.Context, cfg config.ServerConfig) error {
	logger, err := logging.NewZap(cfg.LogDev)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.GameConfigPath != "" {
		if err := config.LoadGameConfig(cfg.GameConfigPath); err != nil {
			return err
		}
	}
	game := config.GetGameConfig()

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var tokens *auth.TokenService
	if cfg.AuthSecret != "" {
		if tokens, err = auth.NewTokenService(cfg.AuthSecret, tokenIssuer, 0); err != nil {
			return err
		}
	}

	registry := session.NewRegistry(ctx, session.Options{
		Service:      app.NewService(game.InitialTokens),
		Profiles:     store,
		Logger:       logger.WithField("component", "session"),
		Pace:         game.Pace(),
		WriteTimeout: game.WriteTimeout(),
	})
	server, err := ws.NewServer(ws.Config{
		Registry: registry,
		Players:  store,
		Tokens:   tokens,
		Logger:   logger.WithField("component", "ws"),
		Origins:  cfg.Origins,
		MsgRate:  cfg.MsgRate,
		MsgBurst: cfg.MsgBurst,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("run: listening on %s (db %s, pace %s)", cfg.Addr, cfg.DBPath, game.Pace())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("run: shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
