package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quibble-app/quibble/internal/cache"
	"github.com/quibble-app/quibble/internal/captcha"
	"github.com/quibble-app/quibble/internal/config"
	"github.com/quibble-app/quibble/internal/hub"
	httpapp "github.com/quibble-app/quibble/internal/http"
	"github.com/quibble-app/quibble/internal/pipeline"
	"github.com/quibble-app/quibble/internal/queue"
	"github.com/quibble-app/quibble/internal/rate"
	"github.com/quibble-app/quibble/internal/sanitize"
	"github.com/quibble-app/quibble/internal/store/sqlite"
	"github.com/quibble-app/quibble/internal/tree"
	"github.com/quibble-app/quibble/pkg/logger"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "-v", "--version":
			fmt.Println("quibble v0.1.0")
			return
		case "serve", "server":
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
			fmt.Fprintln(os.Stderr, "Usage: quibble [serve]")
			os.Exit(1)
		}
	}
	runServer()
}

func runServer() {
	mainLog := logger.New("quibble")
	cfg := config.Load()

	st, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		mainLog.Fatalf("failed to open db: %v", err)
	}
	defer st.Close()

	broadcast := hub.New(logger.New("hub"))
	trees := tree.NewMaterializer(st)
	listCache := cache.New()
	jobs := queue.New(cfg.Fanout.QueueSize)

	workers := queue.NewWorkerPool(jobs, st, trees, queue.HubBroadcaster{Hub: broadcast}, logger.New("fanout"), queue.WorkerConfig{
		Workers:     cfg.Fanout.Workers,
		MaxDepth:    cfg.MaxDepth,
		MaxAttempts: cfg.Fanout.MaxAttempts,
		Backoff:     cfg.Fanout.Backoff,
	})
	workers.Start()

	captchaSvc := captcha.NewService(st, cfg.HashSecret, cfg.CaptchaTTL)
	pl := pipeline.New(st, captchaSvc, sanitize.New(), listCache, jobs, logger.New("pipeline"), cfg.RequireCaptcha)
	limiter := rate.NewMemory()

	server := httpapp.NewServer(st, pl, captchaSvc, trees, broadcast, listCache, limiter, cfg, logger.New("http"))

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		mainLog.Printf("listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			mainLog.Fatalf("server error: %v", err)
		}
	}()

	// Expired challenges pile up if nobody consumes them; sweep hourly.
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := st.PurgeExpiredChallenges(context.Background()); err == nil && n > 0 {
					mainLog.Printf("purged %d expired challenges", n)
				}
			case <-sweepDone:
				return
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	mainLog.Println("shutting down...")

	close(sweepDone)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	workers.Stop()
}
