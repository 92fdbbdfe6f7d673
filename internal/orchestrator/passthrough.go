package orchestrator

import (
	"io"
	"net/http"

	"github.com/vitaliisemenov/failure-lambda-proxy/pkg/upstream"
)

// HandlePassthrough forwards any request this proxy does not specifically
// understand to upstream, verbatim except for host/content-length, and
// relays the response verbatim back to the runtime.
func (o *Orchestrator) HandlePassthrough(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	headers := upstream.ForwardableHeaders(r.Header)
	resp, err := o.Upstream.Forward(r.Context(), r.Method, r.URL.RequestURI(), headers, body)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	defer resp.Body.Close()

	o.relay(w, resp)
}
