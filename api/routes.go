package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(h.logRequests)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/node", h.handleGetNode)
		r.Get("/peers", h.handleGetPeers)

		r.Post("/send", h.handleSend)
		r.Post("/receive", h.handleReceive)
		r.Get("/transfers", h.handleGetTransfers)

		r.Post("/messages", h.handleSendMessage)
		r.Get("/messages", h.handleGetMessages)
		r.Get("/messages/subscribe", h.handleSubscribe)
	})

	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
			"request":  middleware.GetReqID(r.Context()),
		}).Debug("api request")
	})
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger logrus.FieldLogger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, listener, handler, logger)
}

// ServeListener serves on an existing listener until ctx is done.
func ServeListener(ctx context.Context, listener net.Listener, handler http.Handler, logger logrus.FieldLogger) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	if logger != nil {
		logger.WithField("addr", listener.Addr().String()).Info("control API listening")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
