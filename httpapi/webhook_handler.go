package httpapi

import (
	"io"
	"net/http"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/claims-pipeline/core"
	"github.com/goliatone/claims-pipeline/webhooks"
)

const idempotencyKeyHeader = "idempotency-key"

// WebhookHandler receives workflow relay deliveries. The body is read before
// anything else: if the transport cannot hand over the exact raw bytes the
// delivery fails verification rather than being verified against a
// re-serialized copy.
type WebhookHandler struct {
	Processor *webhooks.Processor
	Config    core.WebhookConfig
	Logger    core.Logger
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Processor == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "webhook processor is not configured"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		glog.Ensure(h.Logger).WithContext(r.Context()).Error("failed to read webhook body", "error", err)
		body = nil
	}

	delivery := webhooks.Delivery{
		Body:           body,
		Timestamp:      strings.TrimSpace(r.Header.Get(h.timestampHeader())),
		Signature:      strings.TrimSpace(r.Header.Get(h.signatureHeader())),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	}

	outcome, processErr := h.Processor.Process(r.Context(), delivery)
	if processErr != nil {
		writeError(r.Context(), w, h.Logger, processErr)
		return
	}

	if outcome.Retryable {
		writeJSON(w, outcome.StatusCode, errorResponse{
			Message:   outcome.Message,
			Code:      core.PipelineErrorClaimUnresolved,
			Retryable: true,
		})
		return
	}
	writeJSON(w, outcome.StatusCode, statusResponse{
		Status:  outcome.Status,
		Message: outcome.Message,
	})
}

func (h *WebhookHandler) signatureHeader() string {
	if header := strings.TrimSpace(h.Config.SignatureHeader); header != "" {
		return header
	}
	return "x-relay-signature"
}

func (h *WebhookHandler) timestampHeader() string {
	if header := strings.TrimSpace(h.Config.TimestampHeader); header != "" {
		return header
	}
	return "x-relay-timestamp"
}
