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

	"github.com/joho/godotenv"

	"github.com/hugomdz/consultavirtual/internal/backend"
	"github.com/hugomdz/consultavirtual/internal/config"
	"github.com/hugomdz/consultavirtual/internal/httpapi"
	"github.com/hugomdz/consultavirtual/internal/observability"
	"github.com/hugomdz/consultavirtual/internal/session"
)

func main() {
	// Local development keeps its settings in a .env file; absence is fine.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var querier backend.Querier
	switch cfg.BackendMode {
	case "mock":
		querier = backend.NewMock()
		log.Printf("backend: mock responses")
	default:
		querier = backend.NewClient(cfg.BackendBaseURL, cfg.BackendTimeout, cfg.HistoryLimit)
		log.Printf("backend: %s", cfg.BackendBaseURL)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)

	api := httpapi.New(cfg, sessions, querier, metrics)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		api.ReleaseStore(s.ID)
	})

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
