package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/quellen-dev/lobbyd/internal/api"
	"github.com/quellen-dev/lobbyd/internal/app"
	"github.com/quellen-dev/lobbyd/internal/app/maintenance"
	"github.com/quellen-dev/lobbyd/internal/events"
	"github.com/quellen-dev/lobbyd/internal/game"
	"github.com/quellen-dev/lobbyd/internal/gateway"
	"github.com/quellen-dev/lobbyd/internal/roster"
	"github.com/quellen-dev/lobbyd/internal/transport"
)

// runtimeStack bundles the long-lived pieces behind the HTTP server.
type runtimeStack struct {
	Table   *roster.Table[*game.PlayerState]
	Feed    *events.Hub
	Lobby   *gateway.Gateway
	Conns   *transport.Hub
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// bootstrapRuntime wires the roster table, the lobby gateway, both websocket
// hubs, the maintenance jobs, and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			if shutdownErr := stack.Shutdown(context.Background()); shutdownErr != nil {
				log.Warn("partial bootstrap cleanup", zap.Error(shutdownErr))
			}
		}
	}()

	// gin runs in release mode unless GIN_DEBUG=true asks for its debug output
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.Table = roster.NewTable[*game.PlayerState]()
	stack.Feed = events.NewHub(cfg.Events.ReplayLimit)
	stack.Lobby = gateway.New(stack.Table, stack.Feed)
	stack.Conns = transport.NewHub(stack.Lobby, cfg.Server.AllowedOrigins)
	stack.Lobby.AttachSender(stack.Conns)

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(stack.Conns, stack.Lobby,
			maintenance.WithSchedule(cfg.Maintenance.Schedule),
			maintenance.WithJoinTimeout(cfg.Maintenance.JoinTimeout),
			maintenance.WithAbandonedTimeout(cfg.Maintenance.AbandonedTimeout),
		)
		if err = stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Router, err = api.NewRouter(stack.Lobby, stack.Conns, stack.Feed, cfg)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	if cfg.Session.AutoStart {
		stack.Lobby.StartSession()
		log.Info("session auto-started")
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs and tears down every client connection. The
// context bounds how long it waits for in-flight maintenance runs.
func (s *runtimeStack) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}

	var errs error

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("maintenance jobs did not stop: %w", ctx.Err()))
		}
	}

	if s.Lobby != nil {
		s.Lobby.ResetServer()
	} else if s.Conns != nil {
		s.Conns.CloseAll()
	}

	return errs
}
