package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quillmq/quill/internal/runtime"
	logpkg "github.com/quillmq/quill/pkg/log"
)

// Server is the REST transport over a Runtime. It owns no queueing logic;
// every handler validates, calls the backend, and maps errors to status
// codes.
type Server struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
	srv    *http.Server
	lis    net.Listener
}

// New builds the router and returns an unstarted server.
func New(rt *runtime.Runtime, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	s := &Server{rt: rt, logger: logger.With(logpkg.Component("http"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v2", func(r chi.Router) {
		r.Get("/queues", s.handleQueueList)
		r.Route("/queues/{queue}", func(r chi.Router) {
			r.Put("/", s.handleQueueCreate)
			r.Get("/", s.handleQueueGet)
			r.Delete("/", s.handleQueueDelete)
			r.Put("/metadata", s.handleQueueSetMetadata)
			r.Get("/stats", s.handleQueueStats)

			r.Post("/messages", s.handleMessagePost)
			r.Get("/messages", s.handleMessageList)
			r.Delete("/messages", s.handleMessageBulkDelete)
			r.Get("/messages/{message}", s.handleMessageGet)
			r.Delete("/messages/{message}", s.handleMessageDelete)

			r.Post("/claims", s.handleClaimCreate)
			r.Get("/claims/{claim}", s.handleClaimGet)
			r.Patch("/claims/{claim}", s.handleClaimUpdate)
			r.Delete("/claims/{claim}", s.handleClaimDelete)
		})
	})

	s.srv = &http.Server{Handler: r}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http server listening", logpkg.Str("addr", l.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close force-closes the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
