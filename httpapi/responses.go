package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/claims-pipeline/core"
)

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps any pipeline error onto the wire envelope. The mapper
// supplies HTTP status and text code; retryable is surfaced so senders know
// an unresolved claim is worth redelivering.
func writeError(ctx context.Context, w http.ResponseWriter, logger core.Logger, err error) {
	mapped := core.PipelineErrorMapper(err)
	if mapped == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "An unexpected error occurred"})
		return
	}
	status := mapped.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		glog.Ensure(logger).WithContext(ctx).Error("request failed",
			"error", err,
			"text_code", mapped.TextCode,
		)
	}
	writeJSON(w, status, errorResponse{
		Message:   mapped.Message,
		Code:      mapped.TextCode,
		Retryable: core.IsRetryable(mapped),
	})
}
