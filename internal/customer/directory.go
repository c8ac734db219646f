// Package customer resolves customer references against an external
// customer directory before a subscription is created.
package customer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// StatusError is returned when the directory answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Record is the subset of the directory's customer resource the engine reads
type Record struct {
	ID     string `json:"id"`
	Email  string `json:"email,omitempty"`
	Status string `json:"status,omitempty"`
}

// Directory looks customers up over HTTP
type Directory struct {
	httpClient *http.Client
	baseURL    string
}

func NewDirectory(baseURL string, timeout time.Duration) *Directory {
	return &Directory{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
	}
}

// Lookup fetches GET /customers/{ref}
func (d *Directory) Lookup(ctx context.Context, customerRef string) (*Record, error) {
	var record Record
	if err := d.get(ctx, "/customers/"+url.PathEscape(customerRef), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// ResolveCustomer reports whether customerRef exists and is not deleted.
// A 404 is a definite no; any other failure is returned as an error.
func (d *Directory) ResolveCustomer(ctx context.Context, customerRef string) (bool, error) {
	record, err := d.Lookup(ctx, customerRef)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return record.Status != "deleted", nil
}

func (d *Directory) get(ctx context.Context, endpoint string, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if response != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, response); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}
