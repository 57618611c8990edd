package result

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Sink persists a completed run record and returns the stored identifier.
// Fire-and-forget is disallowed: implementations must confirm storage or
// return an error so the caller can mark the record unsynced for retry.
type Sink interface {
	Store(ctx context.Context, rec *Record) (string, error)
}

// HTTPSink posts records to the hosted results-storage API.
type HTTPSink struct {
	URL      string
	TokenEnv string
	Client   *http.Client
}

func NewHTTPSink(url, tokenEnv string, client *http.Client) *HTTPSink {
	if client == nil {
		// Never the zero-timeout default client: a hung sink must not hold
		// the submitting worker forever.
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSink{URL: url, TokenEnv: tokenEnv, Client: client}
}

// Store submits the record and requires an explicit acknowledgment: a 2xx
// status carrying a JSON body with a non-empty id.
func (s *HTTPSink) Store(ctx context.Context, rec *Record) (string, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encoding record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building sink request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.TokenEnv != "" {
		if token := os.Getenv(s.TokenEnv); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submitting record: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("sink rejected record: status %d", resp.StatusCode)
	}

	var ack struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return "", fmt.Errorf("decoding sink acknowledgment: %w", err)
	}
	if ack.ID == "" {
		return "", fmt.Errorf("sink acknowledgment carries no id")
	}
	return ack.ID, nil
}
