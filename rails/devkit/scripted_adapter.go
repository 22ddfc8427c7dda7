// Package devkit provides a scripted rail adapter for tests and local
// development.
package devkit

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/claims-pipeline/core"
)

// ScriptedRailAdapter replays a fixed sequence of submission results; after
// the script runs out it keeps returning the last entry. Requests are
// recorded for assertions.
type ScriptedRailAdapter struct {
	mu       sync.Mutex
	railID   string
	script   []core.SubmissionResult
	requests []core.RailSubmission
}

func NewScriptedRailAdapter(railID string, script ...core.SubmissionResult) *ScriptedRailAdapter {
	return &ScriptedRailAdapter{
		railID: strings.TrimSpace(strings.ToLower(railID)),
		script: append([]core.SubmissionResult(nil), script...),
	}
}

func (a *ScriptedRailAdapter) RailID() string {
	if a == nil {
		return ""
	}
	return a.railID
}

func (a *ScriptedRailAdapter) Submit(_ context.Context, req core.RailSubmission) core.SubmissionResult {
	if a == nil {
		return core.PermanentFailure("devkit: scripted adapter is nil")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests = append(a.requests, req)
	index := len(a.requests) - 1
	if index < len(a.script) {
		return a.script[index]
	}
	if len(a.script) > 0 {
		return a.script[len(a.script)-1]
	}
	return core.Succeeded("devkit-" + a.railID)
}

func (a *ScriptedRailAdapter) Requests() []core.RailSubmission {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]core.RailSubmission(nil), a.requests...)
}

var _ core.RailAdapter = (*ScriptedRailAdapter)(nil)
