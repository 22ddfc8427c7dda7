package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ClaimResolver maps an event's request id hash to a local claim. Both
// lookups are probed on every call so a claim correlated through either
// channel is found regardless of which one fails.
type ClaimResolver struct {
	directory ClaimDirectory
}

func NewClaimResolver(directory ClaimDirectory) (*ClaimResolver, error) {
	if directory == nil {
		return nil, fmt.Errorf("core: claim directory is required")
	}
	return &ClaimResolver{directory: directory}, nil
}

// Resolve returns ErrClaimNotFound when neither lookup matches. That outcome
// is retryable: the claim may be created locally after the event arrived.
func (r *ClaimResolver) Resolve(ctx context.Context, requestIDHash string) (ClaimRef, error) {
	if r == nil || r.directory == nil {
		return ClaimRef{}, fmt.Errorf("core: claim resolver is not configured")
	}
	requestIDHash = strings.TrimSpace(requestIDHash)
	if requestIDHash == "" {
		return ClaimRef{}, fmt.Errorf("core: request id hash is required")
	}

	byReference, refErr := r.directory.GetByReferenceNumber(ctx, requestIDHash)
	if refErr == nil && strings.TrimSpace(byReference.ID) != "" {
		return byReference, nil
	}
	if refErr != nil && !errors.Is(refErr, ErrClaimNotFound) {
		return ClaimRef{}, refErr
	}

	byTracking, trackErr := r.directory.GetByRailTrackingID(ctx, requestIDHash)
	if trackErr == nil && strings.TrimSpace(byTracking.ID) != "" {
		return byTracking, nil
	}
	if trackErr != nil && !errors.Is(trackErr, ErrClaimNotFound) {
		return ClaimRef{}, trackErr
	}

	return ClaimRef{}, fmt.Errorf("%w: request id hash %q", ErrClaimNotFound, requestIDHash)
}
