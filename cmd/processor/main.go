// Command processor runs the task executors out of process. Rooms reach it
// through DISPATCH_TRANSPORT=http or nats, and results are posted back to
// the chat server at CALLBACK_URL.
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
	"go-chatroom/internal/chat"
	"go-chatroom/internal/config"
	"go-chatroom/internal/dispatch"
	"go-chatroom/internal/logging"
	"go-chatroom/internal/task"
)

func main() {
	addr := flag.String("addr", ":8081", "task receiver address")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With("component", "processor")
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	router, err := task.NewRouter(app.TaskServices(cfg, backend, logger)...)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	router.Start(ctx, chat.NewCallbackClient(cfg.CallbackURL, nil).WithSecret(cfg.CallbackSecret))

	receiver := dispatch.NewReceiver(router, logger)
	nc, err := app.ConnectNATS(cfg, "go-chatroom-processor", logger)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if nc != nil {
		if _, err := receiver.SubscribeNATS(nc); err != nil {
			log.Fatalf("❌ %v", err)
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodPost, dispatch.TaskPath, receiver)

	srv := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("🚀 processor starting", "addr", *addr, "callback", cfg.CallbackURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"processor": func(ctx context.Context) error {
			var errs []error
			if nc != nil {
				errs = append(errs, nc.Drain())
			}
			errs = append(errs, srv.Shutdown(ctx))
			router.Stop()
			cancel()
			errs = append(errs, backend.Close())
			return errors.Join(errs...)
		},
	})
	os.Exit(<-wait)
}
