package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"go.uber.org/zap"

	"github.com/defenseunicorns/perfkit-hub/internal/log"
)

// Handler returns a mux serving the runtime profiles under /debug/pprof/.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// StartPprofServer serves the runtime profiles on addr until ctx is canceled.
// It returns an error if addr is empty or cannot be listened on.
func StartPprofServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("address cannot be empty")
	}
	return Serve(ctx, "pprof", addr, Handler())
}

// Serve runs an HTTP server for handler on addr until ctx is canceled, then shuts it down.
func Serve(ctx context.Context, name, addr string, handler http.Handler) error {
	logger := log.NewLogger(ctx)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", addr, err)
	}
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("server", name), zap.String("addr", listener.Addr().String()))
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server failed: %w", name, err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server", zap.String("server", name), zap.String("addr", addr))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
