package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samhotchkiss/agentdesk/internal/config"
	"github.com/samhotchkiss/agentdesk/internal/deskapi"
	"github.com/samhotchkiss/agentdesk/internal/widget"
	"github.com/samhotchkiss/agentdesk/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub()
	go hub.Run(ctx)

	gateway, err := buildGateway(cfg, hub)
	if err != nil {
		log.Fatalf("Failed to build widget gateway: %v", err)
	}
	defer gateway.Registry.Close()

	sweeper := widget.NewSweeper(gateway.Registry, cfg.Widget.SweepInterval)
	sweeper.Logf = log.Printf
	go sweeper.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           gateway.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("AgentDesk widget gateway starting on port %s (%s)", cfg.Port, cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	stop()
	log.Printf("Shutting down widget gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Widget.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: widget gateway forced to shut down: %v", err)
	}
}

// buildGateway wires the public backend client, the session registry and,
// when enabled, the upstream push subscriber into a widget server.
func buildGateway(cfg config.Config, hub *ws.Hub) (*widget.Server, error) {
	backend, err := deskapi.NewPublicClient(cfg.DeskAPI.BaseURL, &http.Client{Timeout: cfg.DeskAPI.Timeout})
	if err != nil {
		return nil, err
	}

	gateway := &widget.Server{
		Backend:          backend,
		Hub:              hub,
		Registry:         widget.NewRegistry(cfg.Widget.SessionIdleTTL, cfg.Widget.MaxSessions),
		AllowedOrigins:   cfg.Widget.AllowedOrigins,
		WSAllowedOrigins: cfg.Widget.WSAllowedOrigins,
		RequestTimeout:   cfg.Widget.RequestTimeout,
	}

	if cfg.Widget.FollowUpstream {
		subscriber, err := deskapi.NewSubscriber(&deskapi.Client{
			BaseURL: cfg.DeskAPI.BaseURL,
			Token:   cfg.DeskAPI.Token,
		})
		if err != nil {
			return nil, err
		}
		gateway.Upstream = subscriber
	}
	return gateway, nil
}
