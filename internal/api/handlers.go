// Package api exposes the administrative operations and the scheduler
// trigger over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	ierr "github.com/AnuragDani/subscription-billing/internal/errors"
	"github.com/AnuragDani/subscription-billing/internal/lifecycle"
	"github.com/AnuragDani/subscription-billing/internal/logger"
	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/orchestrator"
	"github.com/AnuragDani/subscription-billing/internal/scheduler"
)

// SubscriptionService is the set of administrative operations served here
type SubscriptionService interface {
	Create(ctx context.Context, spec lifecycle.CreateSpec) (*models.Subscription, error)
	Pause(ctx context.Context, id, reason string) (*models.Subscription, error)
	Resume(ctx context.Context, id string) (*models.Subscription, error)
	Cancel(ctx context.Context, id, reason string, immediate bool) (*models.Subscription, error)
	ResolveFirstPayment(ctx context.Context, id string, result lifecycle.FirstPayment) (*models.Subscription, error)
	Get(ctx context.Context, id string) (*models.Subscription, error)
	History(ctx context.Context, id string) ([]models.HistoryEntry, error)
	Payments(ctx context.Context, id string) ([]models.PaymentRecord, error)
}

// Renewer attempts a single renewal on demand
type Renewer interface {
	AttemptRenewal(ctx context.Context, id string) (*orchestrator.Outcome, error)
}

// BatchRunner is the scheduler entry point exposed to operators
type BatchRunner interface {
	TriggerManual(ctx context.Context) (*scheduler.BatchSummary, error)
	Status() *scheduler.Status
}

// Pinger reports backend health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler handles HTTP requests for the billing engine
type Handler struct {
	subscriptions SubscriptionService
	renewer       Renewer
	batches       BatchRunner
	db            Pinger
	log           *logger.Logger
}

func NewHandler(subscriptions SubscriptionService, renewer Renewer, batches BatchRunner, db Pinger, log *logger.Logger) *Handler {
	return &Handler{
		subscriptions: subscriptions,
		renewer:       renewer,
		batches:       batches,
		db:            db,
		log:           log,
	}
}

// PauseRequest is the body of POST /subscriptions/{id}/pause
type PauseRequest struct {
	Reason string `json:"reason"`
}

// CancelRequest is the body of POST /subscriptions/{id}/cancel
type CancelRequest struct {
	Reason    string `json:"reason"`
	Immediate bool   `json:"immediate"`
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"service": "billing-engine",
		"status":  "healthy",
	}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			response["status"] = "degraded"
			response["database_error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if h.batches != nil {
		response["scheduler_running"] = h.batches.Status().Running
	}

	respondJSON(w, status, response)
}

// CreateSubscription handles POST /subscriptions
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var spec lifecycle.CreateSpec
	if !decode(w, r, &spec) {
		return
	}

	sub, err := h.subscriptions.Create(r.Context(), spec)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sub)
}

// GetSubscription handles GET /subscriptions/{id}
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// PauseSubscription handles POST /subscriptions/{id}/pause
func (h *Handler) PauseSubscription(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	sub, err := h.subscriptions.Pause(r.Context(), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// ResumeSubscription handles POST /subscriptions/{id}/resume
func (h *Handler) ResumeSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.Resume(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// CancelSubscription handles POST /subscriptions/{id}/cancel
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	sub, err := h.subscriptions.Cancel(r.Context(), mux.Vars(r)["id"], req.Reason, req.Immediate)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// ResolveFirstPayment handles POST /subscriptions/{id}/first-payment
func (h *Handler) ResolveFirstPayment(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.FirstPayment
	if !decode(w, r, &req) {
		return
	}

	sub, err := h.subscriptions.ResolveFirstPayment(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// RenewSubscription handles POST /subscriptions/{id}/renew
func (h *Handler) RenewSubscription(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.renewer.AttemptRenewal(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

// GetHistory handles GET /subscriptions/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.subscriptions.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"history": entries,
		"count":   len(entries),
	})
}

// GetPayments handles GET /subscriptions/{id}/payments
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.subscriptions.Payments(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"payments": payments,
		"count":    len(payments),
	})
}

// RunRenewals handles POST /renewals/run
func (h *Handler) RunRenewals(w http.ResponseWriter, r *http.Request) {
	h.log.Info("manual renewal run requested", "remote_addr", r.RemoteAddr)

	summary, err := h.batches.TriggerManual(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"summary":  summary,
		"duration": summary.Duration.String(),
	})
}

// GetSchedulerStatus handles GET /scheduler/status
func (h *Handler) GetSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.batches.Status())
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := ierr.HTTPStatusFromErr(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err)
	}
	respondJSON(w, status, ierr.NewErrorResponse(err))
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, ierr.NewErrorResponse(
			ierr.WithError(err).WithHint("Invalid request body").Mark(ierr.ErrInvalidSpec)))
		return false
	}
	return true
}

// decodeOptional accepts an empty body
func decodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decode(w, r, dst)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
