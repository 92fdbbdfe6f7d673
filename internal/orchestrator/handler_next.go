package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vitaliisemenov/failure-lambda-proxy/internal/effects"
	"github.com/vitaliisemenov/failure-lambda-proxy/internal/flags"
	"github.com/vitaliisemenov/failure-lambda-proxy/internal/match"
	"github.com/vitaliisemenov/failure-lambda-proxy/pkg/upstream"
)

// HandleNext implements GET .../runtime/invocation/next — begin-invocation,
// the heart of the proxy. It is a loop: a terminating failure answers
// upstream on the runtime's behalf and pulls another event, so the runtime
// never observes that an invocation was consumed without it.
func (o *Orchestrator) HandleNext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	for {
		o.cleanupStep1()

		event, err := o.Upstream.Next(ctx)
		if err != nil {
			writeProxyError(w, err)
			return
		}

		if o.Disabled {
			o.respondToRuntime(w, event.Headers, event.Body)
			return
		}

		resolved := flags.Resolve(o.Config.GetConfig(ctx))
		if len(resolved) == 0 {
			o.respondToRuntime(w, event.Headers, event.Body)
			return
		}

		decoded := decodeEvent(event.Body)

		deferred, denylistActive, shortCircuited := o.applyPreHandlerFailures(ctx, event, decoded, resolved)
		if shortCircuited {
			if denylistActive {
				if err := effects.RemoveDenylist(o.ScratchDir); err != nil {
					o.Logger.Warn("short-circuit: failed to remove denylist file", "error", err)
				}
			}
			continue
		}

		if len(deferred) > 0 || denylistActive {
			o.invocations.Put(event.RequestID, InvocationState{
				Event:            decoded,
				DeferredFailures: deferred,
				DenylistActive:   denylistActive,
			})
		}

		o.respondToRuntime(w, event.Headers, event.Body)
		return
	}
}

// applyPreHandlerFailures runs Step 5 of begin-invocation: every resolved
// failure in canonical order except corruption, which is deferred to the
// response phase. It reports whether a terminating failure fired.
func (o *Orchestrator) applyPreHandlerFailures(
	ctx context.Context,
	event upstream.Event,
	decoded interface{},
	resolved []flags.ResolvedFailure,
) (deferred []flags.ResolvedFailure, denylistActive bool, shortCircuited bool) {
	for _, failure := range resolved {
		if failure.Mode == "corruption" {
			deferred = append(deferred, failure)
			continue
		}

		if len(failure.Flag.MatchConditions) > 0 && !match.Matches(decoded, failure.Flag.MatchConditions) {
			continue
		}

		if rollPercentage() >= float64(failure.EffectivePercentage) {
			continue
		}

		switch failure.Mode {
		case "latency":
			min, max := 0.0, 0.0
			if failure.Flag.MinLatency != nil {
				min = *failure.Flag.MinLatency
			}
			if failure.Flag.MaxLatency != nil {
				max = *failure.Flag.MaxLatency
			}
			o.Logger.Info("injecting latency", "action", "inject", "mode", "latency", "request_id", event.RequestID)
			time.Sleep(effects.LatencyDelay(min, max))

		case "timeout":
			buffer := 0.0
			if failure.Flag.TimeoutBufferMs != nil {
				buffer = *failure.Flag.TimeoutBufferMs
			}
			o.Logger.Info("injecting timeout", "action", "inject", "mode", "timeout", "request_id", event.RequestID)
			time.Sleep(effects.TimeoutDelay(event.DeadlineMs, time.Now().UnixMilli(), buffer))

		case "diskspace":
			megabytes := effects.DefaultDiskSpaceMB
			if failure.Flag.DiskSpace != nil {
				megabytes = *failure.Flag.DiskSpace
			}
			o.Logger.Info("injecting diskspace", "action", "inject", "mode", "diskspace", "request_id", event.RequestID)
			effects.FillDiskSpace(o.Logger, o.ScratchDir, megabytes)

		case "denylist":
			o.Logger.Info("injecting denylist", "action", "inject", "mode", "denylist", "request_id", event.RequestID)
			if err := effects.WriteDenylist(o.ScratchDir, failure.Flag.DenyList); err != nil {
				o.Logger.Warn("denylist injection: failed to write file", "error", err)
			} else {
				denylistActive = true
			}

		case "statuscode":
			code := 0
			if failure.Flag.StatusCode != nil {
				code = *failure.Flag.StatusCode
			}
			o.Logger.Info("short-circuiting with statuscode", "action", "short-circuit", "mode", "statuscode", "request_id", event.RequestID)
			o.shortCircuitResponse(ctx, event.RequestID, code)
			return deferred, denylistActive, true

		case "exception":
			o.Logger.Info("short-circuiting with exception", "action", "short-circuit", "mode", "exception", "request_id", event.RequestID)
			o.shortCircuitException(ctx, event.RequestID, failure.Flag.ExceptionMsg)
			return deferred, denylistActive, true
		}
	}
	return deferred, denylistActive, false
}

func (o *Orchestrator) shortCircuitResponse(ctx context.Context, requestID string, code int) {
	payload := effects.StatusCodePayload(code)
	body, _ := json.Marshal(payload)
	if _, err := o.Upstream.PostResponse(ctx, requestID, nil, body); err != nil {
		o.Logger.Warn("short-circuit statuscode POST failed", "request_id", requestID, "error", err)
	}
}

func (o *Orchestrator) shortCircuitException(ctx context.Context, requestID string, msg *string) {
	payload := effects.ExceptionPayload(msg)
	body, _ := json.Marshal(payload)
	if _, err := o.Upstream.PostError(ctx, requestID, nil, body); err != nil {
		o.Logger.Warn("short-circuit exception POST failed", "request_id", requestID, "error", err)
	}
}

func (o *Orchestrator) respondToRuntime(w http.ResponseWriter, headers http.Header, body []byte) {
	writeHeaders(w, headers)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeProxyError(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusBadGateway)
	fmt.Fprintf(w, "proxy error: %v", err)
}
