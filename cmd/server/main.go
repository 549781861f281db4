package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"go-chatroom/internal/app"
	"go-chatroom/internal/auth"
	"go-chatroom/internal/chat"
	"go-chatroom/internal/config"
	"go-chatroom/internal/dispatch"
	"go-chatroom/internal/logging"
	"go-chatroom/internal/queue"
	"go-chatroom/internal/task"
)

func main() {
	// 1. Config & Flags
	addr := flag.String("addr", "", "http service address (overrides CHAT_ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Storage & Auth
	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	authSvc, err := auth.NewService(cfg.AdminSecret, cfg.JWTSecret, cfg.CronSecret)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	// 3. Task processors and the transport rooms delegate through
	services := app.TaskServices(cfg, backend, logger)
	router, err := task.NewRouter(services...)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	nc, err := app.ConnectNATS(cfg, "go-chatroom-server", logger)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	dispatcher, err := app.NewDispatcher(cfg, router, nc)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	// 4. Chat rooms
	hub := chat.NewHub(backend, dispatcher, chat.RoomConfig{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		HistoryPage:       cfg.HistoryPage,
		CheckCron:         authSvc.CheckCron,
	}, logger)
	router.Start(ctx, hub)

	receiver := dispatch.NewReceiver(router, logger)
	if nc != nil {
		if _, err := receiver.SubscribeNATS(nc); err != nil {
			log.Fatalf("❌ %v", err)
		}
	}

	// 5. Batch queues
	managers := app.QueueManagers(cfg, backend, services, logger)
	scheduler, err := queue.NewScheduler(cfg.QueueSchedule, cfg.ResultRetention, logger, managers...)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	scheduler.Start()

	// 6. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/api/admin/login", authSvc.LoginHandler)
	r.Method(http.MethodPost, dispatch.TaskPath, receiver)

	chat.NewHandler(hub, cfg.AuthGrace, logger).
		WithCallbackSecret(cfg.CallbackSecret).
		Mount(r, authSvc.Middleware)
	queue.NewHandler(cfg.ResultRetention, logger, managers...).Mount(r, authSvc.Middleware)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("🚀 server starting", "addr", cfg.Addr, "store", cfg.StoreBackend, "transport", cfg.DispatchTransport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"server": func(ctx context.Context) error {
			logger.Info("graceful shutdown initiated")
			errs := []error{srv.Shutdown(ctx), scheduler.Stop(ctx)}
			for _, m := range managers {
				m.Stop()
			}
			// Processors finish their backlog, delivering callbacks to rooms
			// that are still running.
			router.Stop()
			cancel()
			hub.Shutdown()
			if nc != nil {
				errs = append(errs, nc.Drain())
			}
			errs = append(errs, backend.Close())
			return errors.Join(errs...)
		},
	})

	exitCode := <-wait
	logger.Info("server exited", "code", exitCode)
	os.Exit(exitCode)
}
