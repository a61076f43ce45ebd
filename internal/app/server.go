package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dshills/ragsync/internal/auth"
	"github.com/dshills/ragsync/internal/config"
)

// shutdownTimeout bounds graceful HTTP shutdown
const shutdownTimeout = 10 * time.Second

// NewHTTPServer wraps handler with the configured authentication
func NewHTTPServer(host string, port int, handler http.Handler, settings config.AuthSettings) (*http.Server, error) {
	authMiddleware, err := auth.NewMiddleware(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth middleware: %w", err)
	}
	return &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           authMiddleware(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// ServeHTTP runs srv until ctx is cancelled, then shuts it down gracefully
func ServeHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening (HTTP)", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("Shutting down HTTP server", "addr", srv.Addr)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
	}
	return nil
}
