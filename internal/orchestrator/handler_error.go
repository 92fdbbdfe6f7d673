package orchestrator

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/failure-lambda-proxy/internal/effects"
	"github.com/vitaliisemenov/failure-lambda-proxy/pkg/upstream"
)

// HandleError implements POST .../runtime/invocation/{id}/error —
// finish-error. No corruption applies here; the body and headers (including
// the platform's error-type header) are forwarded verbatim.
func (o *Orchestrator) HandleError(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	headers := upstream.ForwardableHeaders(r.Header)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	state, had := o.invocations.Take(id)
	if had && state.DenylistActive {
		if err := effects.RemoveDenylist(o.ScratchDir); err != nil {
			o.Logger.Warn("finish-error: failed to remove denylist file", "request_id", id, "error", err)
		}
	}

	resp, err := o.Upstream.PostError(r.Context(), id, headers, body)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	defer resp.Body.Close()

	o.relay(w, resp)
}
