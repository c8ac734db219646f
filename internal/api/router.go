package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ierr "github.com/AnuragDani/subscription-billing/internal/errors"
	"github.com/AnuragDani/subscription-billing/internal/logger"
)

// RouterOptions carries the optional endpoints mounted next to the API
type RouterOptions struct {
	Registry  *prometheus.Registry
	WebSocket http.HandlerFunc
}

// NewRouter registers every route on a gorilla/mux router
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	r.Use(recoverMiddleware(h.log), requestLogMiddleware(h.log))

	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	r.HandleFunc("/subscriptions", h.CreateSubscription).Methods("POST")
	r.HandleFunc("/subscriptions/{id}", h.GetSubscription).Methods("GET")
	r.HandleFunc("/subscriptions/{id}/pause", h.PauseSubscription).Methods("POST")
	r.HandleFunc("/subscriptions/{id}/resume", h.ResumeSubscription).Methods("POST")
	r.HandleFunc("/subscriptions/{id}/cancel", h.CancelSubscription).Methods("POST")
	r.HandleFunc("/subscriptions/{id}/first-payment", h.ResolveFirstPayment).Methods("POST")
	r.HandleFunc("/subscriptions/{id}/renew", h.RenewSubscription).Methods("POST")
	r.HandleFunc("/subscriptions/{id}/history", h.GetHistory).Methods("GET")
	r.HandleFunc("/subscriptions/{id}/payments", h.GetPayments).Methods("GET")

	r.HandleFunc("/renewals/run", h.RunRenewals).Methods("POST")
	r.HandleFunc("/scheduler/status", h.GetSchedulerStatus).Methods("GET")

	if opts.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}
	if opts.WebSocket != nil {
		r.HandleFunc("/ws", opts.WebSocket)
	}
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func requestLogMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}
			w.Header().Set("X-Request-ID", requestID)

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			log.Debug("http request",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start))
		})
	}
}

func recoverMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic serving request", "path", r.URL.Path, "panic", rec)
					respondJSON(w, http.StatusInternalServerError, ierr.NewErrorResponse(ierr.NewError("internal error").Error()))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
