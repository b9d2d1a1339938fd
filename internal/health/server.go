package health

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/voxrelay/internal/observe"
)

// Server is the admin HTTP server. It serves the probes, the optional
// operator endpoints and /metrics behind [observe.Middleware].
type Server struct {
	srv *http.Server
}

// ServerOption configures a [Server].
type ServerOption func(*serverOptions)

type serverOptions struct {
	admin   *Admin
	metrics http.Handler
	obs     *observe.Metrics
}

// WithAdmin mounts the operator endpoints.
func WithAdmin(a *Admin) ServerOption {
	return func(o *serverOptions) { o.admin = a }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(o *serverOptions) { o.metrics = h }
}

// WithObserve sets the metrics the request middleware records into.
// Default: [observe.DefaultMetrics].
func WithObserve(m *observe.Metrics) ServerOption {
	return func(o *serverOptions) { o.obs = m }
}

// NewServer builds a server listening on addr.
func NewServer(addr string, h *Handler, opts ...ServerOption) *Server {
	o := serverOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.obs == nil {
		o.obs = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	h.Register(mux)
	if o.admin != nil {
		o.admin.Register(mux)
	}
	if o.metrics != nil {
		mux.Handle("GET /metrics", o.metrics)
	}

	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(o.obs)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Handler returns the wrapped root handler.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Serve listens and serves until ctx is cancelled, then shuts down within
// the given grace period. A listen failure is returned immediately.
func (s *Server) Serve(ctx context.Context, grace time.Duration) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	slog.Info("admin server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}
