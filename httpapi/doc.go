// Package httpapi exposes the inbound webhook endpoint and connector
// operations over HTTP. Handlers translate process outcomes into wire
// responses; all pipeline semantics live below this layer.
package httpapi
