package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	jww "github.com/spf13/jwalterweatherman"

	"github.com/suPer8Hu/testerhub/internal/app"
	"github.com/suPer8Hu/testerhub/internal/config"
	"github.com/suPer8Hu/testerhub/internal/db"
	"github.com/suPer8Hu/testerhub/internal/httpapi"
	"github.com/suPer8Hu/testerhub/internal/logging"
	"github.com/suPer8Hu/testerhub/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()
	if err := logging.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		jww.FATAL.Fatalf("init logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends, err := app.Open(ctx, cfg)
	if err != nil {
		jww.FATAL.Fatalf("open backends: %v", err)
	}
	defer backends.Close()

	if err := db.Migrate(backends.DB); err != nil {
		jww.FATAL.Fatalf("migrate: %v", err)
	}

	deps := app.Deps{DB: backends.DB, Broker: backends.Broker, Cache: backends.Cache()}
	if cfg.ReconcileMode == "queue" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			jww.FATAL.Fatalf("rabbit publisher: %v", err)
		}
		defer pub.Close()
		deps.Jobs = pub
	}

	a := app.New(cfg, deps)
	router := httpapi.NewRouter(cfg, a.Profiles, a.Chat)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// no WriteTimeout: SSE and WebSocket responses are long-lived
	}

	go func() {
		jww.INFO.Printf("api listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			jww.FATAL.Fatalf("listen on %s: %v", cfg.HTTPAddr, err)
		}
	}()

	<-ctx.Done()
	jww.INFO.Println("shutting down api...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		jww.ERROR.Printf("forced shutdown: %v", err)
	}
	jww.INFO.Println("api exited")
}
