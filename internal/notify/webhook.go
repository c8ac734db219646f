package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AnuragDani/subscription-billing/internal/logger"
	"github.com/AnuragDani/subscription-billing/internal/models"
)

// WebhookDispatcher POSTs events as JSON to a fixed URL. Dispatch returns
// immediately and delivers in the background.
type WebhookDispatcher struct {
	url        string
	httpClient *http.Client
	log        *logger.Logger
	wg         sync.WaitGroup
}

// NewWebhookDispatcher creates a new webhook publisher
func NewWebhookDispatcher(url string, log *logger.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		url: url,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: log,
	}
}

// Publish sends an event and waits for the receiver to accept it
func (w *WebhookDispatcher) Publish(ctx context.Context, event models.Event) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", string(event.Type))
	req.Header.Set("X-Event-ID", event.ID)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("event rejected with status: %d", resp.StatusCode)
	}

	return nil
}

// Dispatch sends the event asynchronously (fire and forget)
func (w *WebhookDispatcher) Dispatch(_ context.Context, event models.Event) error {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.Publish(ctx, event); err != nil {
			w.log.Warn("webhook delivery failed",
				"event_id", event.ID,
				"event_type", event.Type,
				"error", err)
		}
	}()
	return nil
}

// Close waits for in-flight deliveries
func (w *WebhookDispatcher) Close() {
	w.wg.Wait()
}
