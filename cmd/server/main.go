// Command server runs the token-vending API, handing out account SAS tokens
// for the storage account it's configured with.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bcspragu/blobsas/config"
	"github.com/bcspragu/blobsas/db"
	"github.com/bcspragu/blobsas/db/mem"
	"github.com/bcspragu/blobsas/db/sqlite"
	"github.com/bcspragu/blobsas/server"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
}

func (w *ResponseWriter) WriteHeader(status int) {
	w.StatusCode = status
	w.ResponseWriter.WriteHeader(status)
}

func logRequests(logger *slog.Logger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
		h.ServeHTTP(ww, r)
		// Don't log the query string, it may carry a token.
		logger.Info("handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.StatusCode,
			"duration", time.Since(start))
	})
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Parse[config.Server]()
	if err != nil {
		return err
	}

	acct, err := cfg.ResolveAccount()
	if err != nil {
		return err
	}
	cred, err := acct.Credential()
	if err != nil {
		return fmt.Errorf("failed to load account credential: %w", err)
	}

	var ledger db.Ledger
	if cfg.DBPath == "" {
		logger.Warn("no SAS_DB_PATH set, issued tokens will only be recorded in memory")
		ledger = mem.New()
	} else {
		sdb, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return err
		}
		defer sdb.Close()
		ledger = sdb
	}

	srv := server.New(cred, ledger, server.Options{
		Endpoint:        acct.BlobEndpoint,
		Container:       cfg.Container,
		DefaultLifetime: cfg.DefaultLifetime,
		MaxLifetime:     cfg.MaxLifetime,
		Logger:          logger,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           logRequests(logger, srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "account", acct.Name, "endpoint", acct.BlobEndpoint)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http.ListenAndServe: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
