package rails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/claims-pipeline/core"
)

const maxResponseBody = 1 << 20

// PayloadEncoder builds the rail-specific submission document. Each rail
// package supplies its own encoder; the HTTP mechanics are shared here.
type PayloadEncoder func(req core.RailSubmission) ([]byte, error)

type HTTPAdapterConfig struct {
	RailID   string
	Endpoint string
	APIKey   string
	Client   *http.Client
	Encode   PayloadEncoder
}

// HTTPRailAdapter submits claims to a clearinghouse HTTP endpoint. Every
// failure mode folds into a SubmissionResult: 2xx is success, 408/429/5xx
// and transport errors are transient, any other 4xx is permanent. The
// attempt's idempotency token rides in the Idempotency-Key header so the
// remote end can dedupe retries.
type HTTPRailAdapter struct {
	railID   string
	endpoint string
	apiKey   string
	client   *http.Client
	encode   PayloadEncoder
}

func NewHTTPRailAdapter(cfg HTTPAdapterConfig) (*HTTPRailAdapter, error) {
	railID := normalizeRailID(cfg.RailID)
	if railID == "" {
		return nil, fmt.Errorf("rails: rail id is required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("rails: endpoint is required for rail %s", railID)
	}
	if cfg.Encode == nil {
		return nil, fmt.Errorf("rails: payload encoder is required for rail %s", railID)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPRailAdapter{
		railID:   railID,
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(cfg.APIKey),
		client:   client,
		encode:   cfg.Encode,
	}, nil
}

func (a *HTTPRailAdapter) RailID() string {
	if a == nil {
		return ""
	}
	return a.railID
}

func (a *HTTPRailAdapter) Submit(ctx context.Context, req core.RailSubmission) core.SubmissionResult {
	if a == nil || a.client == nil {
		return core.PermanentFailure("rail adapter is not configured")
	}

	body, err := a.encode(req)
	if err != nil {
		// A claim we cannot encode will not encode next time either.
		return core.PermanentFailure(fmt.Sprintf("encode submission: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return core.PermanentFailure(fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyToken)
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return core.TransientFailure(fmt.Sprintf("rail %s unreachable: %v", a.railID, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return core.TransientFailure(fmt.Sprintf("read rail response: %v", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return core.Succeeded(extractTrackingID(respBody))
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return core.TransientFailure(fmt.Sprintf("rail %s returned status %d", a.railID, resp.StatusCode))
	default:
		return core.PermanentFailure(fmt.Sprintf(
			"rail %s rejected submission with status %d: %s",
			a.railID, resp.StatusCode, summarizeBody(respBody),
		))
	}
}

func extractTrackingID(body []byte) string {
	var envelope struct {
		TrackingID string `json:"trackingId"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return strings.TrimSpace(envelope.TrackingID)
}

func summarizeBody(body []byte) string {
	summary := strings.TrimSpace(string(body))
	if len(summary) > 256 {
		summary = summary[:256]
	}
	return summary
}

var _ core.RailAdapter = (*HTTPRailAdapter)(nil)
