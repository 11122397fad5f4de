package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("generator not configured")

// Backend performs one generation call: req is sent, the answer is decoded
// into resp.
type Backend interface {
	Call(ctx context.Context, op string, req, resp any) error
}

// HTTPBackend posts requests as JSON to {BaseURL}/{op}.
type HTTPBackend struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewHTTPBackend(baseURL, apiKey string) *HTTPBackend {
	return &HTTPBackend{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *HTTPBackend) Call(ctx context.Context, op string, req, resp any) error {
	if b.BaseURL == "" {
		return ErrNotConfigured
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/"+op, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.APIKey)
	}

	httpResp, err := b.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call %s: %w", op, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", op, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: status %d: %s", op, httpResp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, resp); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
