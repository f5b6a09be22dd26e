package duplex

import (
	"sync"
	"time"
)

// Recognized timer registry keys (spec.md §3).
const (
	timerSetupTimeout     = "SETUP_TIMEOUT"
	timerAuthStateTimeout = "AUTH_STATE_TIMEOUT"
	timerKeepalive        = "KEEPALIVE"
	timerPeerTimeout      = "TIMEOUT"
	timerReconnect        = "RECONNECT"
)

// timerRegistry maps opaque string keys to pending timer handles. At most
// one timer is ever pending per key: scheduling a key cancels any
// existing timer for that key first (spec.md §3). Firing is delivered
// through post; the Engine's post runs the callback directly on the
// timer's goroutine, and each engine callback takes Engine.mu itself.
type timerRegistry struct {
	mu      sync.Mutex
	pending map[string]*time.Timer
	post    func(func())
}

func newTimerRegistry(post func(func())) *timerRegistry {
	return &timerRegistry{
		pending: make(map[string]*time.Timer),
		post:    post,
	}
}

// schedule arms a timer for key after delay, cancelling any existing
// timer for that key first. fn is handed to post when the timer fires.
func (r *timerRegistry) schedule(key string, delay time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.pending[key]; ok {
		existing.Stop()
	}
	r.pending[key] = time.AfterFunc(delay, func() {
		r.post(fn)
	})
}

// cancel stops any pending timer for key. Idempotent.
func (r *timerRegistry) cancel(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.pending[key]; ok {
		t.Stop()
		delete(r.pending, key)
	}
}

// cancelAll stops every pending timer, unconditionally.
func (r *timerRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, t := range r.pending {
		t.Stop()
		delete(r.pending, key)
	}
}
