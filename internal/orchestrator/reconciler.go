package orchestrator

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Reconciler periodically runs the orchestrator's cross-invocation cleanup
// as a defensive backstop for a runtime that crashes and never issues
// another GET .../next to trigger Step 1 itself. It does not change any
// per-invocation semantics — see SPEC_FULL.md's Open Question resolution.
type Reconciler struct {
	cron *cron.Cron
}

// NewReconciler schedules o.Reconcile on the given cron-style spec (e.g.
// "@every 30s"). Call Start to begin running it, Stop to halt it cleanly.
func NewReconciler(o *Orchestrator, spec string) (*Reconciler, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, o.Reconcile); err != nil {
		return nil, fmt.Errorf("schedule reconciler %q: %w", spec, err)
	}
	return &Reconciler{cron: c}, nil
}

// Start begins running the reconciler in the background.
func (r *Reconciler) Start() {
	r.cron.Start()
}

// Stop halts the reconciler, waiting for any in-progress run to finish.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}
