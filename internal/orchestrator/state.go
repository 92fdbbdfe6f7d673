// Package orchestrator implements the invocation-lifecycle state machine:
// the HTTP handlers that mediate between the runtime and the upstream
// Runtime API, composing the flags, match, effects, and source packages
// into the failure-injection pipeline.
package orchestrator

import (
	"sync"

	"github.com/vitaliisemenov/failure-lambda-proxy/internal/flags"
)

// InvocationState is the per-in-flight-invocation record kept between
// begin-invocation and whichever of finish-success/finish-error observes it.
type InvocationState struct {
	Event            interface{}
	DeferredFailures []flags.ResolvedFailure
	DenylistActive   bool
}

// table is the process-wide invocation table: one mutex-protected map keyed
// by request id. Held only while inserting/removing an entry, never across
// I/O, per spec.
type table struct {
	mu      sync.Mutex
	entries map[string]InvocationState
}

func newTable() *table {
	return &table{entries: make(map[string]InvocationState)}
}

// Put stores state for id, overwriting any prior entry.
func (t *table) Put(id string, state InvocationState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = state
}

// Take removes and returns the state for id, if any.
func (t *table) Take(id string) (InvocationState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return state, ok
}

// ClearAndCollectDenylist empties the table, reporting whether any removed
// entry had DenylistActive set — the cross-invocation cleanup in Step 1
// needs exactly this before it removes the denylist file.
func (t *table) ClearAndCollectDenylist() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	anyDenylist := false
	for _, state := range t.entries {
		if state.DenylistActive {
			anyDenylist = true
			break
		}
	}
	t.entries = make(map[string]InvocationState)
	return anyDenylist
}
