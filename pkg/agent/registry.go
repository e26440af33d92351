package agent

import (
	"sort"
	"sync"
)

// Registry holds the run lock of every conversation. A conversation is
// locked from the moment a run is reserved until it is released; the run
// handle is attached once the run has a number. A cancel that arrives
// before the handle is attached is remembered and handed to Attach.
type Registry struct {
	mu      sync.Mutex
	runs    map[string]*Run
	pending map[string]bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run), pending: make(map[string]bool)}
}

// Acquire takes the run lock for conversationID. It fails fast with false
// when the lock is already held.
func (r *Registry) Acquire(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, held := r.runs[conversationID]; held {
		return false
	}
	r.runs[conversationID] = nil
	return true
}

// Attach publishes run as the active run of its conversation. It reports
// whether a cancel was requested while the run was being reserved.
func (r *Registry) Attach(run *Run) (cancelled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ConversationID] = run
	cancelled = r.pending[run.ConversationID]
	delete(r.pending, run.ConversationID)
	return cancelled
}

// Release drops the run lock for conversationID.
func (r *Registry) Release(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, conversationID)
	delete(r.pending, conversationID)
}

// RequestCancel returns the attached run of conversationID. When the lock
// is held but no run is attached yet, the cancel is recorded for Attach and
// run is nil. held is false when there is nothing to cancel.
func (r *Registry) RequestCancel(conversationID string) (run *Run, held bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, held = r.runs[conversationID]
	if held && run == nil {
		r.pending[conversationID] = true
	}
	return run, held
}

// Held reports whether the run lock for conversationID is held.
func (r *Registry) Held(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.runs[conversationID]
	return held
}

// Get returns the attached run of conversationID.
func (r *Registry) Get(conversationID string) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := r.runs[conversationID]
	return run, run != nil
}

// IDs returns the conversations whose run lock is held, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Runs returns every attached run.
func (r *Registry) Runs() []*Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	runs := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		if run != nil {
			runs = append(runs, run)
		}
	}
	return runs
}

// Len returns the number of held locks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
