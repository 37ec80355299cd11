package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Server struct {
	HTTP        *http.Server
	serviceName string
}

type Options struct {
	Addr        string
	ServiceName string
	Router      chi.Router
	// ReadHeaderTimeout defaults to 5s.
	ReadHeaderTimeout time.Duration
}

func New(opts Options) *Server {
	if opts.Router == nil {
		opts.Router = chi.NewRouter()
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 5 * time.Second
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           opts.Router,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
	}
	return &Server{HTTP: srv, serviceName: opts.ServiceName}
}

func (s *Server) Start(log *zap.Logger) error {
	log.Info("http server starting", zap.String("addr", s.HTTP.Addr), zap.String("service", s.serviceName))
	return s.HTTP.ListenAndServe()
}

// Shutdown drains in-flight requests, bounded by timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.HTTP.Shutdown(ctx)
}
