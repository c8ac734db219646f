package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPChargeRequest is the wire body of POST /charge
type HTTPChargeRequest struct {
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	CustomerToken   string `json:"customer_token,omitempty"`
	SubscriptionRef string `json:"subscription_ref,omitempty"`
	IdempotencyKey  string `json:"idempotency_key"`
}

// HTTPChargeResponse is the wire body returned by POST /charge
type HTTPChargeResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	ProcessorUsed string `json:"processor_used,omitempty"`
}

// HTTPError is returned when the processor could not give a definite answer
type HTTPError struct {
	Code        string
	Message     string
	StatusCode  int
	Processor   string
	IsRetryable bool
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Processor, e.Code, e.Message)
}

// HTTPGateway talks JSON over HTTP to a payment processor
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
	name       string
}

// NewHTTPGateway creates a new processor client
func NewHTTPGateway(name, baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (g *HTTPGateway) Name() string {
	return g.name
}

// Charge processes a renewal charge. Declines come back as a result; only
// transport and server failures are errors.
func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body := HTTPChargeRequest{
		Amount:          ToMinorUnits(req.Amount, req.Currency),
		Currency:        req.Currency,
		CustomerToken:   req.CustomerGatewayRef,
		SubscriptionRef: req.SubscriptionGatewayRef,
		IdempotencyKey:  req.IdempotencyKey,
	}

	var response HTTPChargeResponse
	status, err := g.makeRequest(ctx, http.MethodPost, "/charge", body, &response)
	if err != nil {
		// 402 and 422 carry a definite decline in the body
		if (status == http.StatusPaymentRequired || status == http.StatusUnprocessableEntity) && response.ErrorCode != "" {
			return declined(response), nil
		}
		return nil, err
	}

	if !response.Success {
		return declined(response), nil
	}
	return &ChargeResult{Succeeded: true, Reference: response.TransactionID}, nil
}

func declined(r HTTPChargeResponse) *ChargeResult {
	return &ChargeResult{
		Succeeded:     false,
		Reference:     r.TransactionID,
		FailureCode:   r.ErrorCode,
		FailureReason: r.ErrorMessage,
	}
}

func (g *HTTPGateway) CancelSubscription(ctx context.Context, ref string) error {
	return g.subscriptionAction(ctx, ref, "cancel")
}

func (g *HTTPGateway) PauseSubscription(ctx context.Context, ref string) error {
	return g.subscriptionAction(ctx, ref, "pause")
}

func (g *HTTPGateway) ResumeSubscription(ctx context.Context, ref string) error {
	return g.subscriptionAction(ctx, ref, "resume")
}

func (g *HTTPGateway) subscriptionAction(ctx context.Context, ref, action string) error {
	path := fmt.Sprintf("/subscriptions/%s/%s", url.PathEscape(ref), action)
	_, err := g.makeRequest(ctx, http.MethodPost, path, nil, nil)
	return err
}

// IsHealthy checks if the processor is currently healthy
func (g *HTTPGateway) IsHealthy(ctx context.Context) bool {
	var health struct {
		Status string `json:"status"`
	}
	if _, err := g.makeRequest(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return false
	}
	return health.Status == "healthy"
}

// makeRequest is a helper method for making HTTP requests. It returns the
// HTTP status code when a response was received.
func (g *HTTPGateway) makeRequest(ctx context.Context, method, path string, body interface{}, response interface{}) (int, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		code := FailureCodeNetworkError
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			code = FailureCodeTimeout
		}
		return 0, &HTTPError{
			Code:        code,
			Message:     fmt.Sprintf("Network error: %v", err),
			Processor:   g.name,
			IsRetryable: true,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		if response != nil {
			_ = json.Unmarshal(respBody, response)
		}

		return resp.StatusCode, &HTTPError{
			Code:        errorCodeFromStatus(resp.StatusCode),
			Message:     string(respBody),
			StatusCode:  resp.StatusCode,
			Processor:   g.name,
			IsRetryable: isRetryableStatusCode(resp.StatusCode),
		}
	}

	if response != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, response); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func isRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func errorCodeFromStatus(statusCode int) string {
	switch statusCode {
	case 400:
		return "bad_request"
	case 401:
		return "unauthorized"
	case 402:
		return "payment_required"
	case 404:
		return "not_found"
	case 408:
		return FailureCodeTimeout
	case 422:
		return "unprocessable_entity"
	case 429:
		return "rate_limit_exceeded"
	case 500:
		return "processing_error"
	case 502:
		return "bad_gateway"
	case 503:
		return "service_unavailable"
	case 504:
		return FailureCodeTimeout
	default:
		return "unknown_error"
	}
}
