package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const httpServerReadHeaderTimeout = 5 * time.Second

// Server serves /metrics and /healthz.
type Server struct {
	listenAddress string
	gatherer      prometheus.Gatherer
	logger        *zap.Logger
}

func NewServer(listenAddress string, gatherer prometheus.Gatherer, logger *zap.Logger) Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Server{
		listenAddress: listenAddress,
		gatherer:      gatherer,
		logger:        logger,
	}
}

// Handler returns the router.
func (s Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Run serves until ctx is done.
func (s Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.listenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: httpServerReadHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()

		if err := httpServer.Shutdown(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("httpServer.Shutdown", zap.Error(err))
		}
	}()

	s.logger.Info("metrics server started", zap.String("address", s.listenAddress))

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("httpServer.ListenAndServe: %w", err)
	}

	s.logger.Info("metrics server stopped")

	return nil
}
