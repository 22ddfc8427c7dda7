package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/goliatone/claims-pipeline/core"
	"github.com/goliatone/claims-pipeline/webhooks"
)

type submitRequest struct {
	ClaimID string `json:"claimId"`
	Rail    string `json:"rail"`
	// Connector is the legacy name for rail; older clients still send it.
	Connector string `json:"connector"`
}

func (r submitRequest) rail() string {
	if rail := strings.TrimSpace(r.Rail); rail != "" {
		return rail
	}
	return strings.TrimSpace(r.Connector)
}

type submitResponse struct {
	JobID   string `json:"jobId"`
	ClaimID string `json:"claimId"`
	Rail    string `json:"rail"`
	Status  string `json:"status"`
}

type statusHistoryResponse struct {
	ClaimID string              `json:"claimId"`
	Events  []statusEventDetail `json:"events"`
}

type statusEventDetail struct {
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Timestamp string         `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

type submissionEnqueuer interface {
	Enqueue(ctx context.Context, claimID string, rail string) (core.SubmissionJob, error)
}

// SubmitHandler enqueues one outbound submission for a claim and rail.
type SubmitHandler struct {
	Queue  submissionEnqueuer
	Logger core.Logger
}

func (h *SubmitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Queue == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "submission queue is not configured"})
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Message: "invalid submission payload",
			Code:    core.PipelineErrorBadInput,
		})
		return
	}

	job, err := h.Queue.Enqueue(r.Context(), req.ClaimID, req.rail())
	if err != nil {
		writeError(r.Context(), w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:   job.ID,
		ClaimID: job.ClaimID,
		Rail:    job.Rail,
		Status:  string(job.Status),
	})
}

type claimHistorian interface {
	History(ctx context.Context, claimID string) ([]core.StatusEvent, error)
}

// StatusHistoryHandler serves a claim's ordered connector timeline.
type StatusHistoryHandler struct {
	Tracker claimHistorian
	Logger  core.Logger
}

func (h *StatusHistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Tracker == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "status tracker is not configured"})
		return
	}
	claimID := strings.TrimSpace(mux.Vars(r)["claimID"])
	events, err := h.Tracker.History(r.Context(), claimID)
	if err != nil {
		writeError(r.Context(), w, h.Logger, err)
		return
	}

	payload := statusHistoryResponse{
		ClaimID: claimID,
		Events:  make([]statusEventDetail, 0, len(events)),
	}
	for _, event := range events {
		payload.Events = append(payload.Events, statusEventDetail{
			Source:    string(event.Source),
			Kind:      event.Kind,
			Timestamp: event.Timestamp.UTC().Format(rfc3339Millis),
			Detail:    event.Detail,
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

type eventReplayer interface {
	Replay(ctx context.Context, eventID string) (webhooks.Outcome, error)
}

// ReplayHandler re-drives one archived inbound event.
type ReplayHandler struct {
	Processor eventReplayer
	Logger    core.Logger
}

func (h *ReplayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Processor == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "replay processor is not configured"})
		return
	}
	eventID := strings.TrimSpace(mux.Vars(r)["eventID"])
	outcome, err := h.Processor.Replay(r.Context(), eventID)
	if err != nil {
		writeError(r.Context(), w, h.Logger, err)
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

const rfc3339Millis = "2006-01-02T15:04:05.000Z07:00"
