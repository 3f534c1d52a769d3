// Package cancel provides cooperative cancellation keyed by requester.
// Long-running pipeline steps poll their Token at natural suspension points;
// the intake layer flips it when the requester asks to abort.
package cancel

import (
	"sync"
	"sync/atomic"
)

// Token is a per-job cancellation handle. It stays valid after the registry
// entry is cleared, so a worker can keep consulting it through teardown.
type Token struct {
	signalled atomic.Bool
}

// Cancelled reports whether cancellation has been requested.
func (t *Token) Cancelled() bool {
	if t == nil {
		return false
	}
	return t.signalled.Load()
}

// Registry maps requester keys to cancellation tokens. Entries are created
// at submission time, before the job is visible to any canceller, so a signal
// arriving early is never lost.
type Registry struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[string]*Token)}
}

// Register creates a fresh, unsignalled token for the key, replacing any
// stale entry from a previous job of the same requester.
func (r *Registry) Register(key string) *Token {
	tok := &Token{}
	r.mu.Lock()
	r.tokens[key] = tok
	r.mu.Unlock()
	return tok
}

// Signal requests cancellation for the key. Returns false when no job is
// registered for the key; signalling an idle requester is a no-op.
func (r *Registry) Signal(key string) bool {
	r.mu.Lock()
	tok, ok := r.tokens[key]
	r.mu.Unlock()
	if !ok {
		return false
	}
	tok.signalled.Store(true)
	return true
}

// IsSignalled reports whether the key has a pending cancellation.
func (r *Registry) IsSignalled(key string) bool {
	r.mu.Lock()
	tok, ok := r.tokens[key]
	r.mu.Unlock()
	return ok && tok.Cancelled()
}

// Token returns the live token for the key, or nil when none is registered.
func (r *Registry) Token(key string) *Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[key]
}

// Clear removes the key's entry. Called by the owning worker once the job
// reaches a terminal state.
func (r *Registry) Clear(key string) {
	r.mu.Lock()
	delete(r.tokens, key)
	r.mu.Unlock()
}
