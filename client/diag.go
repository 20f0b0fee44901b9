package client

import (
	"context"
	"net/http"
	"time"

	"github.com/bleq/bleq/client/logger"
	"github.com/go-chi/chi"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewDiagHandler returns the diagnostics HTTP handler exposing prometheus
// metrics and a liveness probe.
func NewDiagHandler() http.Handler {
	router := chi.NewRouter()

	router.Handle("/metrics", promhttp.Handler())

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return router
}

// DiagServer serves the diagnostics handler on a dedicated listener.
type DiagServer struct {
	log    logger.Logger
	server *http.Server
}

func NewDiagServer(log logger.Logger, addr string) *DiagServer {
	return &DiagServer{
		log: log.WithNamespaceAppended("diag"),
		server: &http.Server{
			Addr:    addr,
			Handler: NewDiagHandler(),
		},
	}
}

// Start blocks serving until Close is called.
func (s *DiagServer) Start() error {
	s.log.Info("Diagnostics server listening", logger.Ctx{"addr": s.server.Addr})

	err := s.server.ListenAndServe()
	if errors.Cause(err) == http.ErrServerClosed {
		return nil
	}

	return errors.Trace(err)
}

func (s *DiagServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return errors.Trace(s.server.Shutdown(ctx))
}
