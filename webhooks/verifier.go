package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/claims-pipeline/core"
)

const SignaturePrefix = "hmac-sha256="

const defaultFreshnessWindow = 5 * time.Minute

// SignatureVerifier validates a relay delivery against the shared secret.
// Verification is a pure function of (secret, timestamp, raw body,
// signature) and must run on the exact bytes received, before any decoding.
type SignatureVerifier interface {
	Verify(rawBody []byte, timestamp string, signature string) error
}

// RelaySignatureVerifier checks HMAC-SHA256 over "{timestampMs}.{rawBody}".
// A nil raw body means the transport failed to preserve the wire bytes and
// is reported as its own kind, distinct from a signature mismatch, so
// operators can tell infrastructure misconfiguration from a forged event.
type RelaySignatureVerifier struct {
	Keyring         SecretKeyring
	FreshnessWindow time.Duration
	Now             func() time.Time
}

func NewRelaySignatureVerifier(keyring SecretKeyring, window time.Duration) RelaySignatureVerifier {
	return RelaySignatureVerifier{
		Keyring:         keyring,
		FreshnessWindow: window,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (v RelaySignatureVerifier) Verify(rawBody []byte, timestamp string, signature string) error {
	if rawBody == nil {
		return rawBodyUnavailableError()
	}
	if len(v.Keyring.Candidates()) == 0 {
		return goerrors.New("webhook secret is not configured", goerrors.CategoryInternal).
			WithTextCode(core.PipelineErrorInternal)
	}

	timestamp = strings.TrimSpace(timestamp)
	if timestamp == "" {
		return authError("webhook timestamp header is required")
	}
	timestampMS, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return authError("webhook timestamp is not a millisecond epoch")
	}

	now := time.Now().UTC()
	if v.Now != nil {
		now = v.Now().UTC()
	}
	window := v.FreshnessWindow
	if window <= 0 {
		window = defaultFreshnessWindow
	}
	delta := now.Sub(time.UnixMilli(timestampMS).UTC())
	if delta < 0 {
		delta = -delta
	}
	if delta > window {
		return goerrors.New("stale signature: timestamp outside freshness window", goerrors.CategoryAuth).
			WithTextCode(core.PipelineErrorStaleSignature).
			WithMetadata(map[string]any{
				"timestamp_ms": timestampMS,
				"window_ms":    window.Milliseconds(),
			})
	}

	signature = strings.TrimSpace(signature)
	if !strings.HasPrefix(signature, SignaturePrefix) {
		return authError("webhook signature format is not recognized")
	}
	claimed, err := hex.DecodeString(strings.TrimPrefix(signature, SignaturePrefix))
	if err != nil {
		return authError("webhook signature is not valid hex")
	}

	message := make([]byte, 0, len(timestamp)+1+len(rawBody))
	message = append(message, timestamp...)
	message = append(message, '.')
	message = append(message, rawBody...)

	for _, secret := range v.Keyring.Candidates() {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(message)
		// hmac.Equal compares in constant time.
		if hmac.Equal(claimed, mac.Sum(nil)) {
			return nil
		}
	}
	return authError("webhook signature mismatch")
}

// Sign computes the signature header value a sender would attach. It exists
// so adapters and tests produce deliveries the verifier accepts.
func Sign(secret string, timestamp string, rawBody []byte) string {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(secret)))
	mac.Write([]byte(strings.TrimSpace(timestamp)))
	mac.Write([]byte{'.'})
	mac.Write(rawBody)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func authError(message string) error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithTextCode(core.PipelineErrorAuthFailed)
}

func rawBodyUnavailableError() error {
	return goerrors.New("Webhook raw body unavailable", goerrors.CategoryInternal).
		WithTextCode(core.PipelineErrorRawBodyUnavailable)
}
