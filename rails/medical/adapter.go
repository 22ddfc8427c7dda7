// Package medical submits claims to the medical clearinghouse rail as 837P
// documents over its JSON gateway.
package medical

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/claims-pipeline/core"
	"github.com/goliatone/claims-pipeline/rails"
)

const RailID = "medical"

type Config struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func New(cfg Config) (*rails.HTTPRailAdapter, error) {
	return rails.NewHTTPRailAdapter(rails.HTTPAdapterConfig{
		RailID:   RailID,
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
		Client:   cfg.Client,
		Encode:   encodeSubmission,
	})
}

func encodeSubmission(req core.RailSubmission) ([]byte, error) {
	if strings.TrimSpace(req.Claim.ReferenceNumber) == "" {
		return nil, fmt.Errorf("medical: claim reference number is required")
	}
	return json.Marshal(map[string]any{
		"documentType":    "837P",
		"claimReference":  req.Claim.ReferenceNumber,
		"claimId":         req.Claim.ID,
		"priorTrackingId": req.Claim.RailTrackingID,
		"attempt":         req.Attempt,
	})
}
