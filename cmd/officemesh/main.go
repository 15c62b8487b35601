// Command officemesh serves a document editing session over HTTP. The
// document engine runs in-process (sim), as a sandboxed wasm module, as a
// native child process, or attaches remotely over /api/engine/ws.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/api"
	"github.com/ricochet1k/officemesh/internal/config"
	"github.com/ricochet1k/officemesh/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := config.Flags("officemesh")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logging.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.Listen),
			zap.String("engine", cfg.Engine.Kind),
			zap.Bool("read_only", cfg.Session.ReadOnly))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		app.close(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Close the session first so SSE and websocket handlers see their
	// streams end before the server waits on them.
	app.close(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// routes mounts the API. Engines attach without a browser, so their
// endpoint skips CSRF.
func routes(handler *api.Handler, cfg config.APIConfig) http.Handler {
	r := chi.NewRouter()
	if cfg.CSRF {
		r.Use(api.CSRF{
			Secure: cfg.SecureCookies,
			Exempt: []string{"/api/engine/"},
		}.Middleware)
	}
	handler.Mount(r)
	return r
}
