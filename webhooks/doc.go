// Package webhooks contains the inbound delivery pipeline for relay-signed
// adjudication events: signature verification over the raw request bytes,
// payload decoding into the event union, and the receive/verify/dedupe/
// resolve/apply state machine.
package webhooks
