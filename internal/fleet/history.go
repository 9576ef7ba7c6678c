package fleet

import (
	"sync"

	"github.com/agentfleet/agentfleet/internal/domain/agent"
)

// History is a bounded ring of conversation exchanges. When full, appending
// evicts the oldest entry.
type History struct {
	mu    sync.Mutex
	buf   []agent.Exchange
	next  int
	count int
}

// NewHistory creates a history ring holding at most capacity exchanges.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]agent.Exchange, capacity)}
}

// Append records an exchange, evicting the oldest when at capacity.
func (h *History) Append(e agent.Exchange) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.next] = e
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// Len returns the number of retained exchanges.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Snapshot returns the retained exchanges, oldest first.
func (h *History) Snapshot() []agent.Exchange {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]agent.Exchange, 0, h.count)
	start := h.next - h.count
	if start < 0 {
		start += len(h.buf)
	}
	for i := range h.count {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}
