package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	PipelineErrorBadInput           = "PIPELINE_BAD_INPUT"
	PipelineErrorAuthFailed         = "PIPELINE_AUTH_FAILED"
	PipelineErrorStaleSignature     = "PIPELINE_STALE_SIGNATURE"
	PipelineErrorRawBodyUnavailable = "PIPELINE_RAW_BODY_UNAVAILABLE"
	PipelineErrorBadPayload         = "PIPELINE_BAD_PAYLOAD"
	PipelineErrorClaimUnresolved    = "PIPELINE_CLAIM_UNRESOLVED"
	PipelineErrorDuplicateEvent     = "PIPELINE_DUPLICATE_EVENT"
	PipelineErrorSubmissionInFlight = "PIPELINE_SUBMISSION_IN_FLIGHT"
	PipelineErrorRailTransient      = "PIPELINE_RAIL_TRANSIENT"
	PipelineErrorRailPermanent      = "PIPELINE_RAIL_PERMANENT"
	PipelineErrorNotFound           = "PIPELINE_NOT_FOUND"
	PipelineErrorInternal           = "PIPELINE_INTERNAL_ERROR"
)

var (
	ErrClaimNotFound      = errors.New("core: claim not found")
	ErrEventNotFound      = errors.New("core: inbound event not found")
	ErrJobNotFound        = errors.New("core: submission job not found")
	ErrSubmissionInFlight = errors.New("core: submission already in flight for claim and rail")
)

// IsRetryable reports whether the sender should redeliver. Only the
// unresolved-claim kind carries retry semantics on the webhook surface.
func IsRetryable(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return strings.TrimSpace(richErr.TextCode) == PipelineErrorClaimUnresolved
	}
	return errors.Is(err, ErrClaimNotFound)
}

func PipelineErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensurePipelineErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrClaimNotFound):
		mapped := goerrors.Wrap(err, goerrors.CategoryNotFound, "claim is not resolvable yet").
			WithTextCode(PipelineErrorClaimUnresolved)
		return ensurePipelineErrorEnvelope(mapped)
	case errors.Is(err, ErrSubmissionInFlight):
		mapped := goerrors.Wrap(err, goerrors.CategoryConflict, "submission already in flight").
			WithTextCode(PipelineErrorSubmissionInFlight)
		return ensurePipelineErrorEnvelope(mapped)
	case errors.Is(err, ErrEventNotFound), errors.Is(err, ErrJobNotFound):
		mapped := goerrors.Wrap(err, goerrors.CategoryNotFound, err.Error()).
			WithTextCode(PipelineErrorNotFound)
		return ensurePipelineErrorEnvelope(mapped)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "raw body"):
		return newPipelineError(err.Error(), goerrors.CategoryInternal, PipelineErrorRawBodyUnavailable)
	case strings.Contains(msg, "signature") && strings.Contains(msg, "stale"):
		return newPipelineError(err.Error(), goerrors.CategoryAuth, PipelineErrorStaleSignature)
	case strings.Contains(msg, "signature"):
		return newPipelineError(err.Error(), goerrors.CategoryAuth, PipelineErrorAuthFailed)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "not supported"):
		return newPipelineError(err.Error(), goerrors.CategoryBadInput, PipelineErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensurePipelineErrorEnvelope(mapped)
}

func newPipelineError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensurePipelineErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensurePipelineErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = pipelineHTTPStatus(err)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultPipelineTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultPipelineTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return PipelineErrorBadInput
	case goerrors.CategoryNotFound:
		return PipelineErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return PipelineErrorAuthFailed
	case goerrors.CategoryConflict:
		return PipelineErrorSubmissionInFlight
	case goerrors.CategoryExternal:
		return PipelineErrorRailTransient
	default:
		return PipelineErrorInternal
	}
}

func pipelineHTTPStatus(err *goerrors.Error) int {
	if strings.TrimSpace(err.TextCode) == PipelineErrorRawBodyUnavailable {
		return http.StatusInternalServerError
	}
	switch err.Category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
