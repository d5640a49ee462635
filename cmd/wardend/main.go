package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warden/internal/app"
	"warden/internal/auth"
	"warden/internal/platform/config"
	"warden/internal/platform/httpserver"
	"warden/internal/platform/logger"
	"warden/internal/scheduler"
	httptransport "warden/internal/transport/http"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal services packages.
func main() {
	log := logger.New()
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	a, err := app.New(cfg, log)
	if err != nil {
		log.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	ctx := context.Background()
	if a.Snapshotter != nil {
		if err := a.Snapshotter.Load(ctx, a.Sessions); err != nil {
			log.Warn("session snapshot restore failed", slog.String("error", err.Error()))
		}
	}

	sched := scheduler.New(a.Pulls, a.Sessions, a.Audit, log)
	for _, src := range a.Registry.List() {
		interval := src.SyncInterval
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		sched.AddSource(src.Name, interval)
	}
	sched.AddSessionSweep(cfg.SweepInterval)
	sched.Start()

	retrievers := []auth.Retriever{
		auth.BasicAuthRetriever{},
		auth.FormRetriever{},
		auth.BearerTokenRetriever{Tokens: a.Tokens},
		auth.CookieRetriever{
			Resolve: func(r *http.Request, sessionID string) (string, error) {
				s, err := a.Sessions.Get(r.Context(), sessionID)
				if err != nil {
					return "", err
				}
				return s.Login, nil
			},
		},
	}
	handler := httptransport.NewHandler(a.Authn, a.Sessions, a.Pulls, a.Principals, a.Audit, "managers", log, retrievers)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	log.Info("starting wardend", slog.String("addr", cfg.Addr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	sched.Stop()
	if a.Snapshotter != nil {
		if err := a.Snapshotter.Save(ctx, a.Sessions); err != nil {
			log.Warn("session snapshot save failed", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
