package infra

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPServer wraps http.Server with context-driven startup and shutdown.
type HTTPServer struct {
	name   string
	server *http.Server
	grace  time.Duration
	logger zerolog.Logger
}

// NewHTTPServer creates a server on addr using the configured timeouts. name
// only labels log lines ("api", "metrics").
func NewHTTPServer(name, addr string, cfg *Config, handler http.Handler, logger zerolog.Logger) *HTTPServer {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}
	grace := cfg.HTTPWriteTimeout
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &HTTPServer{name: name, server: srv, grace: grace, logger: logger}
}

// Run serves until ctx is cancelled, then drains in-flight requests for up
// to the write timeout. A clean shutdown returns nil.
func (s *HTTPServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("server", s.name).Str("addr", s.server.Addr).Msg("http: listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.grace)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Str("server", s.name).Msg("http: stopped")
	return nil
}
