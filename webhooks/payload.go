package webhooks

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/claims-pipeline/core"
)

type wireEnvelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	ChainRef      wireChainRef    `json:"chainRef"`
	RequestIDHash string          `json:"requestIdHash"`
	OccurredAt    json.RawMessage `json:"occurredAt"`
	Payload       json.RawMessage `json:"payload"`
}

type wireChainRef struct {
	ChainID         string `json:"chainId"`
	ContractAddress string `json:"contractAddress"`
	BlockNumber     uint64 `json:"blockNumber"`
	BlockHash       string `json:"blockHash"`
	TxHash          string `json:"txHash"`
	LogIndex        uint32 `json:"logIndex"`
}

type wireAdjudication struct {
	Outcome            string `json:"outcome"`
	AllowedAmountCents int64  `json:"allowedAmountCents"`
	Reason             string `json:"reason"`
	Rail               string `json:"rail"`
	RailTrackingID     string `json:"railTrackingId"`
}

type wireAcknowledgement struct {
	Rail           string `json:"rail"`
	RailTrackingID string `json:"railTrackingId"`
}

// DecodeInboundEvent parses the wire envelope into the event union and
// validates the per-type payload schema. The raw bytes are retained verbatim
// on the returned event.
func DecodeInboundEvent(raw []byte) (core.InboundEvent, error) {
	var envelope wireEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return core.InboundEvent{}, malformedError(fmt.Sprintf("webhook payload is not valid JSON: %v", err))
	}

	eventType, err := core.ParseEventType(envelope.EventType)
	if err != nil {
		return core.InboundEvent{}, malformedError(err.Error())
	}

	occurredAt, err := parseEventTimestamp(envelope.OccurredAt)
	if err != nil {
		return core.InboundEvent{}, malformedError(err.Error())
	}

	event := core.InboundEvent{
		EventID:       strings.TrimSpace(envelope.EventID),
		EventType:     eventType,
		RequestIDHash: strings.TrimSpace(envelope.RequestIDHash),
		OccurredAt:    occurredAt,
		Chain: core.ChainRef{
			ChainID:         strings.TrimSpace(envelope.ChainRef.ChainID),
			ContractAddress: strings.TrimSpace(envelope.ChainRef.ContractAddress),
			BlockNumber:     envelope.ChainRef.BlockNumber,
			BlockHash:       strings.TrimSpace(envelope.ChainRef.BlockHash),
			TxHash:          strings.TrimSpace(envelope.ChainRef.TxHash),
			LogIndex:        envelope.ChainRef.LogIndex,
		},
		Raw: append([]byte(nil), raw...),
	}

	switch eventType {
	case core.EventTypeRequestAdjudicated, core.EventTypeRequestRejected:
		var decision wireAdjudication
		if err := json.Unmarshal(envelope.Payload, &decision); err != nil {
			return core.InboundEvent{}, malformedError("adjudication payload does not match schema")
		}
		event.Adjudication = &core.AdjudicationDecision{
			Outcome:            core.AdjudicationOutcome(strings.TrimSpace(strings.ToUpper(decision.Outcome))),
			AllowedAmountCents: decision.AllowedAmountCents,
			Reason:             strings.TrimSpace(decision.Reason),
			Rail:               strings.TrimSpace(decision.Rail),
			RailTrackingID:     strings.TrimSpace(decision.RailTrackingID),
		}
	case core.EventTypeSubmissionAcknowledged:
		var ack wireAcknowledgement
		if err := json.Unmarshal(envelope.Payload, &ack); err != nil {
			return core.InboundEvent{}, malformedError("acknowledgement payload does not match schema")
		}
		event.Acknowledgement = &core.AcknowledgementDetail{
			Rail:           strings.TrimSpace(ack.Rail),
			RailTrackingID: strings.TrimSpace(ack.RailTrackingID),
		}
	}

	if err := event.Validate(); err != nil {
		return core.InboundEvent{}, malformedError(err.Error())
	}
	return event, nil
}

// parseEventTimestamp accepts RFC 3339 strings and millisecond epoch numbers;
// relay firmware has shipped both.
func parseEventTimestamp(raw json.RawMessage) (time.Time, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return time.Time{}, fmt.Errorf("webhook occurredAt is required")
	}
	if strings.HasPrefix(trimmed, `"`) {
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return time.Time{}, fmt.Errorf("webhook occurredAt is not a valid string")
		}
		parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
		if err != nil {
			return time.Time{}, fmt.Errorf("webhook occurredAt is not RFC 3339")
		}
		return parsed.UTC(), nil
	}
	millis, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("webhook occurredAt is neither RFC 3339 nor epoch milliseconds")
	}
	return time.UnixMilli(millis).UTC(), nil
}

func malformedError(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithTextCode(core.PipelineErrorBadPayload)
}
