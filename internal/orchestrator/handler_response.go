package orchestrator

import (
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/failure-lambda-proxy/internal/effects"
	"github.com/vitaliisemenov/failure-lambda-proxy/internal/match"
	"github.com/vitaliisemenov/failure-lambda-proxy/pkg/upstream"
)

// HandleResponse implements POST .../runtime/invocation/{id}/response —
// finish-success. Any corruption failures deferred at begin-invocation are
// applied here, against the event that was current at next-time.
func (o *Orchestrator) HandleResponse(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	headers := upstream.ForwardableHeaders(r.Header)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	state, had := o.invocations.Take(id)
	if had {
		body = o.applyDeferredCorruption(state, body)
		if state.DenylistActive {
			if err := effects.RemoveDenylist(o.ScratchDir); err != nil {
				o.Logger.Warn("finish-success: failed to remove denylist file", "request_id", id, "error", err)
			}
		}
	}

	resp, err := o.Upstream.PostResponse(r.Context(), id, headers, body)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	defer resp.Body.Close()

	o.relay(w, resp)
}

// applyDeferredCorruption applies every deferred corruption failure in
// order, gated by the match conditions and percentage roll evaluated
// against the stored event (never the live response).
func (o *Orchestrator) applyDeferredCorruption(state InvocationState, body []byte) []byte {
	working := body

	for _, failure := range state.DeferredFailures {
		if failure.Mode != "corruption" {
			continue
		}
		if len(failure.Flag.MatchConditions) > 0 && !match.Matches(state.Event, failure.Flag.MatchConditions) {
			continue
		}
		if rollPercentage() >= float64(failure.EffectivePercentage) {
			continue
		}
		if !utf8.Valid(working) {
			o.Logger.Warn("corruption: response body is not valid UTF-8, skipping")
			continue
		}
		working = []byte(effects.CorruptResponse(o.Logger, failure.Flag.Body, string(working)))
	}

	return working
}

func (o *Orchestrator) relay(w http.ResponseWriter, resp *http.Response) {
	writeHeaders(w, resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
