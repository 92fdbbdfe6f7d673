package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"

	"github.com/vitaliisemenov/failure-lambda-proxy/internal/effects"
	"github.com/vitaliisemenov/failure-lambda-proxy/internal/flags"
	"github.com/vitaliisemenov/failure-lambda-proxy/pkg/upstream"
)

// ConfigProvider supplies the current feature-flag configuration. Satisfied
// by *internal/source.Cache; an interface here keeps the orchestrator
// testable without a real HTTP-backed source.
type ConfigProvider interface {
	GetConfig(ctx context.Context) flags.FlagConfig
}

// Orchestrator is the invocation-lifecycle state machine: it mediates every
// call the runtime makes, deciding which failures apply and short-circuiting
// terminating ones on the runtime's behalf.
type Orchestrator struct {
	Upstream   *upstream.Client
	Config     ConfigProvider
	ScratchDir string
	Disabled   bool
	Logger     *slog.Logger

	invocations *table
}

// New builds an Orchestrator ready to serve requests.
func New(up *upstream.Client, config ConfigProvider, scratchDir string, disabled bool, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		Upstream:    up,
		Config:      config,
		ScratchDir:  scratchDir,
		Disabled:    disabled,
		Logger:      logger,
		invocations: newTable(),
	}
}

// cleanupStep1 is the cross-invocation safety net run at the top of every
// begin-invocation loop and by the periodic reconciler: it recovers from a
// runtime that crashed without ever finishing its last invocation.
func (o *Orchestrator) cleanupStep1() {
	effects.ClearDiskSpace(o.Logger, o.ScratchDir)
	if o.invocations.ClearAndCollectDenylist() {
		if err := effects.RemoveDenylist(o.ScratchDir); err != nil {
			o.Logger.Warn("cleanup: failed to remove denylist file", "error", err)
		}
	}
}

// decodeEvent parses raw JSON, degrading to nil on any parse failure per
// spec's "parse as JSON (failure -> null)".
func decodeEvent(raw []byte) interface{} {
	var event interface{}
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil
	}
	return event
}

// rollPercentage draws a fresh uniform [0, 100) sample, independent per
// failure per invocation — callers must never reuse a sample across modes.
func rollPercentage() float64 {
	return rand.Float64() * 100
}

func writeHeaders(w http.ResponseWriter, headers http.Header) {
	for k, values := range headers {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
}
