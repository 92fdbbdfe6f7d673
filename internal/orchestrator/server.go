package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"
)

// readinessMarker is written empty to the scratch directory on boot.
const readinessMarker = ".failure-lambda-ready"

// Router builds the gorilla/mux router implementing the three route classes
// from spec.md §4.E.1: next, response, error, and a catch-all passthrough.
func (o *Orchestrator) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/2018-06-01/runtime/invocation/next", o.HandleNext).Methods(http.MethodGet)
	r.HandleFunc("/2018-06-01/runtime/invocation/{id}/response", o.HandleResponse).Methods(http.MethodPost)
	r.HandleFunc("/2018-06-01/runtime/invocation/{id}/error", o.HandleError).Methods(http.MethodPost)
	r.PathPrefix("/").HandlerFunc(o.HandlePassthrough)
	return r
}

// Start performs the startup sequence from spec.md §4.E.2: write the
// readiness marker, pre-warm the config cache with one fetch, then return
// the configured *http.Server ready to be served by the caller.
func (o *Orchestrator) Start(ctx context.Context, addr string) (*http.Server, error) {
	markerPath := filepath.Join(o.ScratchDir, readinessMarker)
	if err := os.WriteFile(markerPath, nil, 0o600); err != nil {
		return nil, fmt.Errorf("write readiness marker: %w", err)
	}

	o.Config.GetConfig(ctx)

	o.Logger.Info("starting failure-lambda proxy", "action", "startup", "listen_addr", addr)

	return &http.Server{
		Addr:    addr,
		Handler: o.Router(),
	}, nil
}

// Reconcile runs the same cross-invocation cleanup as begin-invocation's
// Step 1, independent of any invocation arriving to trigger it. It is the
// periodic backstop described in SPEC_FULL.md's reconciler-cadence
// resolution.
func (o *Orchestrator) Reconcile() {
	o.cleanupStep1()
}
