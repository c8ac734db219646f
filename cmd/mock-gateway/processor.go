package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/AnuragDani/subscription-billing/internal/gateway"
	"github.com/AnuragDani/subscription-billing/internal/logger"
)

// MockProcessor simulates a payment gateway for local runs
type MockProcessor struct {
	mu            sync.RWMutex
	isHealthy     bool
	failureRate   float64
	responseTime  time.Duration
	rng           *rand.Rand
	stats         ProcessorStats
	idempotent    map[string]processorReply
	subscriptions map[string]string
	log           *logger.Logger
}

type ProcessorStats struct {
	TotalRequests     int     `json:"total_requests"`
	SuccessfulCharges int     `json:"successful_charges"`
	FailedCharges     int     `json:"failed_charges"`
	ReplayedCharges   int     `json:"replayed_charges"`
	SuccessRate       float64 `json:"success_rate"`
}

type processorReply struct {
	status   int
	response gateway.HTTPChargeResponse
}

var declines = []struct {
	code    string
	message string
	status  int
}{
	{"card_declined", "Payment declined by issuing bank", http.StatusPaymentRequired},
	{"insufficient_funds", "Insufficient funds on card", http.StatusPaymentRequired},
	{"expired_card", "Card has expired", http.StatusPaymentRequired},
	{"processing_error", "Issuer could not process the charge", http.StatusPaymentRequired},
}

func NewMockProcessor(failureRate float64, responseTime time.Duration, log *logger.Logger) *MockProcessor {
	return &MockProcessor{
		isHealthy:     true,
		failureRate:   failureRate,
		responseTime:  responseTime,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		idempotent:    make(map[string]processorReply),
		subscriptions: make(map[string]string),
		log:           log,
	}
}

func (p *MockProcessor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/charge", p.charge).Methods("POST")
	r.HandleFunc("/subscriptions/{ref}/{action:cancel|pause|resume}", p.subscriptionAction).Methods("POST")

	// Admin endpoints for testing
	r.HandleFunc("/admin/set-failure-rate", p.setFailureRate).Methods("POST")
	r.HandleFunc("/admin/toggle-status", p.toggleStatus).Methods("POST")
	r.HandleFunc("/admin/stats", p.getStats).Methods("GET")

	r.HandleFunc("/health", p.health).Methods("GET")
	return r
}

func (p *MockProcessor) charge(w http.ResponseWriter, r *http.Request) {
	time.Sleep(p.responseTime)

	var req gateway.HTTPChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 || req.Currency == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TotalRequests++

	// Replays of a settled attempt return the original answer
	if req.IdempotencyKey != "" {
		if reply, ok := p.idempotent[req.IdempotencyKey]; ok {
			p.stats.ReplayedCharges++
			writeJSON(w, reply.status, reply.response)
			return
		}
	}

	if !p.isHealthy {
		p.stats.FailedCharges++
		writeJSON(w, http.StatusServiceUnavailable, gateway.HTTPChargeResponse{
			ErrorCode:     "processor_unavailable",
			ErrorMessage:  "Payment processor temporarily unavailable",
			ProcessorUsed: "mock_gateway",
		})
		return
	}

	reply := processorReply{status: http.StatusOK}
	if p.rng.Float64() < p.failureRate {
		d := declines[p.rng.Intn(len(declines))]
		p.stats.FailedCharges++
		reply.status = d.status
		reply.response = gateway.HTTPChargeResponse{
			ErrorCode:     d.code,
			ErrorMessage:  d.message,
			ProcessorUsed: "mock_gateway",
		}
	} else {
		p.stats.SuccessfulCharges++
		reply.response = gateway.HTTPChargeResponse{
			Success:       true,
			TransactionID: fmt.Sprintf("txn_mock_%s", uuid.New().String()[:8]),
			ProcessorUsed: "mock_gateway",
		}
	}
	p.stats.SuccessRate = float64(p.stats.SuccessfulCharges) / float64(p.stats.TotalRequests-p.stats.ReplayedCharges) * 100

	if req.IdempotencyKey != "" {
		p.idempotent[req.IdempotencyKey] = reply
	}
	p.log.Debug("charge processed",
		"subscription_ref", req.SubscriptionRef,
		"amount", req.Amount,
		"currency", req.Currency,
		"success", reply.response.Success,
		"error_code", reply.response.ErrorCode)
	writeJSON(w, reply.status, reply.response)
}

func (p *MockProcessor) subscriptionAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	p.mu.Lock()
	p.subscriptions[vars["ref"]] = vars["action"]
	p.mu.Unlock()

	p.log.Info("subscription sync received", "ref", vars["ref"], "action", vars["action"])
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"ref":     vars["ref"],
		"state":   vars["action"],
	})
}

func (p *MockProcessor) setFailureRate(w http.ResponseWriter, r *http.Request) {
	rate, err := strconv.ParseFloat(r.URL.Query().Get("rate"), 64)
	if err != nil || rate < 0 || rate > 100 {
		http.Error(w, "Invalid rate (0-100)", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.failureRate = rate / 100
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Failure rate updated",
		"failure_rate": rate,
	})
}

func (p *MockProcessor) toggleStatus(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.isHealthy = !p.isHealthy
	healthy := p.isHealthy
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Processor status toggled",
		"status":  healthStatus(healthy),
	})
}

func (p *MockProcessor) getStats(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"is_healthy":    p.isHealthy,
		"failure_rate":  p.failureRate * 100,
		"stats":         p.stats,
		"subscriptions": p.subscriptions,
		"timestamp":     time.Now(),
	})
}

func (p *MockProcessor) health(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	healthy := p.isHealthy
	p.mu.RUnlock()

	statusCode := http.StatusOK
	if !healthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]interface{}{
		"service":   "mock-gateway",
		"status":    healthStatus(healthy),
		"timestamp": time.Now(),
	})
}

func healthStatus(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
