package memory

import (
	"context"
	"sync"

	"attempt-ledger/internal/domain"
)

// CompletionHub fans completion signals out to live subscribers (websocket clients).
// It implements app.Notifier.
type CompletionHub struct {
	mu          sync.Mutex
	subscribers map[chan domain.CompletionSignal]struct{}
	buffer      int
}

func NewCompletionHub() *CompletionHub {
	return &CompletionHub{
		subscribers: make(map[chan domain.CompletionSignal]struct{}),
		buffer:      16,
	}
}

// Notify delivers signal to every subscriber without blocking.
func (h *CompletionHub) Notify(_ context.Context, signal domain.CompletionSignal) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- signal:
		default:
			// Slow subscriber: drop its oldest pending signal to make room.
			select {
			case <-ch:
			default:
			}
			ch <- signal
		}
	}
	return nil
}

// Subscribe returns a channel of signals. The caller must invoke cancel.
func (h *CompletionHub) Subscribe() (<-chan domain.CompletionSignal, func()) {
	ch := make(chan domain.CompletionSignal, h.buffer)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Subscribers reports the number of live subscribers.
func (h *CompletionHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
