package webhooks

import (
	"strconv"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/claims-pipeline/core"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
}

func newTestVerifier(t *testing.T, secret string, previous string) RelaySignatureVerifier {
	t.Helper()
	keyring, err := NewSecretKeyring(secret, previous)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	verifier := NewRelaySignatureVerifier(keyring, 5*time.Minute)
	verifier.Now = fixedNow
	return verifier
}

func freshTimestamp() string {
	return strconv.FormatInt(fixedNow().UnixMilli(), 10)
}

func textCodeOf(t *testing.T, err error) string {
	t.Helper()
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected a categorized error, got %v", err)
	}
	return richErr.TextCode
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	verifier := newTestVerifier(t, "whsec_active", "")
	body := []byte(`{"eventId":"evt-1"}`)
	ts := freshTimestamp()

	if err := verifier.Verify(body, ts, Sign("whsec_active", ts, body)); err != nil {
		t.Fatalf("expected valid signature to verify: %v", err)
	}
}

func TestVerifyAcceptsPreviousSecretDuringRotation(t *testing.T) {
	verifier := newTestVerifier(t, "whsec_new", "whsec_old")
	body := []byte(`{"eventId":"evt-1"}`)
	ts := freshTimestamp()

	if err := verifier.Verify(body, ts, Sign("whsec_old", ts, body)); err != nil {
		t.Fatalf("expected previous secret to verify during rotation: %v", err)
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	verifier := newTestVerifier(t, "whsec_active", "")
	ts := freshTimestamp()
	signature := Sign("whsec_active", ts, []byte(`{"eventId":"evt-1"}`))

	err := verifier.Verify([]byte(`{"eventId":"evt-FORGED"}`), ts, signature)
	if err == nil {
		t.Fatalf("expected tampered body to fail verification")
	}
	if got := textCodeOf(t, err); got != core.PipelineErrorAuthFailed {
		t.Fatalf("expected auth failure, got %q", got)
	}
}

func TestVerifyNilBodyIsDistinctFromMismatch(t *testing.T) {
	verifier := newTestVerifier(t, "whsec_active", "")
	ts := freshTimestamp()

	err := verifier.Verify(nil, ts, Sign("whsec_active", ts, []byte("{}")))
	if err == nil {
		t.Fatalf("expected missing raw body to fail verification")
	}
	if got := textCodeOf(t, err); got != core.PipelineErrorRawBodyUnavailable {
		t.Fatalf("raw body loss must not report as signature mismatch, got %q", got)
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected a categorized error, got %v", err)
	}
	// Senders match the wire message verbatim.
	if richErr.Message != "Webhook raw body unavailable" {
		t.Fatalf("unexpected raw-body message %q", richErr.Message)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	verifier := newTestVerifier(t, "whsec_active", "")
	body := []byte(`{"eventId":"evt-1"}`)
	stale := strconv.FormatInt(fixedNow().Add(-10*time.Minute).UnixMilli(), 10)

	err := verifier.Verify(body, stale, Sign("whsec_active", stale, body))
	if err == nil {
		t.Fatalf("expected stale timestamp to fail verification")
	}
	if got := textCodeOf(t, err); got != core.PipelineErrorStaleSignature {
		t.Fatalf("expected stale-signature kind, got %q", got)
	}
}

func TestVerifyRejectsUnknownSignatureFormat(t *testing.T) {
	verifier := newTestVerifier(t, "whsec_active", "")
	ts := freshTimestamp()

	err := verifier.Verify([]byte("{}"), ts, "sha1=deadbeef")
	if err == nil {
		t.Fatalf("expected unknown signature scheme to fail")
	}
	if got := textCodeOf(t, err); got != core.PipelineErrorAuthFailed {
		t.Fatalf("expected auth failure, got %q", got)
	}
}

func TestVerifyRequiresTimestampHeader(t *testing.T) {
	verifier := newTestVerifier(t, "whsec_active", "")
	body := []byte("{}")

	if err := verifier.Verify(body, "", Sign("whsec_active", "", body)); err == nil {
		t.Fatalf("expected missing timestamp to fail verification")
	}
}

func TestSignProducesExpectedFormat(t *testing.T) {
	signature := Sign("whsec_active", freshTimestamp(), []byte("{}"))
	if !strings.HasPrefix(signature, SignaturePrefix) {
		t.Fatalf("expected %q prefix, got %q", SignaturePrefix, signature)
	}
	if len(signature) != len(SignaturePrefix)+64 {
		t.Fatalf("expected 64 hex digest characters, got %d", len(signature)-len(SignaturePrefix))
	}
}
