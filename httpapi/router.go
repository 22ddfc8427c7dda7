package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/claims-pipeline/core"
	"github.com/goliatone/claims-pipeline/webhooks"
)

// ConnectorQueue is the connector surface the router wires handlers onto.
type ConnectorQueue interface {
	Enqueue(ctx context.Context, claimID string, rail string) (core.SubmissionJob, error)
}

type StatusTracker interface {
	History(ctx context.Context, claimID string) ([]core.StatusEvent, error)
}

// EventReplayer re-drives archived inbound events.
type EventReplayer interface {
	Replay(ctx context.Context, eventID string) (webhooks.Outcome, error)
}

type RouterConfig struct {
	Processor *webhooks.Processor
	Queue     ConnectorQueue
	Tracker   StatusTracker
	Webhook   core.WebhookConfig
	Logger    core.Logger

	// Replayer serves the replay route; nil falls back to the processor.
	Replayer EventReplayer

	// Gatherer backs /metrics; nil uses the default prometheus gatherer.
	Gatherer prometheus.Gatherer
}

func NewRouter(cfg RouterConfig) (*mux.Router, error) {
	if cfg.Processor == nil {
		return nil, fmt.Errorf("httpapi: webhook processor is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("httpapi: connector queue is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("httpapi: status tracker is required")
	}

	router := mux.NewRouter()

	router.Handle("/webhooks/workflow", &WebhookHandler{
		Processor: cfg.Processor,
		Config:    cfg.Webhook,
		Logger:    cfg.Logger,
	}).Methods(http.MethodPost)

	router.Handle("/connectors/submit", &SubmitHandler{
		Queue:  cfg.Queue,
		Logger: cfg.Logger,
	}).Methods(http.MethodPost)

	router.Handle("/connectors/{claimID}/status", &StatusHistoryHandler{
		Tracker: cfg.Tracker,
		Logger:  cfg.Logger,
	}).Methods(http.MethodGet)

	replayer := cfg.Replayer
	if replayer == nil {
		replayer = cfg.Processor
	}
	router.Handle("/events/{eventID}/replay", &ReplayHandler{
		Processor: replayer,
		Logger:    cfg.Logger,
	}).Methods(http.MethodPost)

	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
	}).Methods(http.MethodGet)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return router, nil
}
