package events

import (
	"strconv"
	"strings"
	"sync"

	"lendledger/core/types"
)

const defaultHistoryLimit = 2048

// Broker retains a bounded history of emitted events and fans them out to
// live subscribers. It implements Emitter so it can sit behind the engine's
// fan-out, and it backs the websocket stream's cursor resumption.
type Broker struct {
	mu      sync.Mutex
	history []types.Event
	limit   int
	subs    map[uint64]chan types.Event
	nextID  uint64
}

// NewBroker returns a broker retaining up to limit events of history. A
// non-positive limit falls back to the default.
func NewBroker(limit int) *Broker {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Broker{limit: limit, subs: make(map[uint64]chan types.Event)}
}

func cloneEvent(evt types.Event) types.Event {
	cloned := evt
	if len(evt.Attributes) > 0 {
		attrs := make(map[string]string, len(evt.Attributes))
		for k, v := range evt.Attributes {
			attrs[k] = v
		}
		cloned.Attributes = attrs
	}
	return cloned
}

// Emit implements the Emitter interface. Slow subscribers drop events rather
// than stall the emitting operation; the cursor protocol lets them re-sync.
func (b *Broker) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}

	b.mu.Lock()
	stored := cloneEvent(*payload)
	b.history = append(b.history, stored)
	if len(b.history) > b.limit {
		excess := len(b.history) - b.limit
		trimmed := make([]types.Event, b.limit)
		copy(trimmed, b.history[excess:])
		b.history = trimmed
	}
	subscribers := make([]chan types.Event, 0, len(b.subs))
	for _, ch := range b.subs {
		subscribers = append(subscribers, ch)
	}
	b.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- cloneEvent(stored):
		default:
		}
	}
}

// Subscribe registers a subscriber for events with a sequence strictly greater
// than the supplied cursor. It returns the live channel, a cancel func, and
// the retained backlog after the cursor. Cancel is safe to call repeatedly.
func (b *Broker) Subscribe(cursor string) (<-chan types.Event, func(), []types.Event) {
	updates := make(chan types.Event, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = updates
	history := make([]types.Event, len(b.history))
	copy(history, b.history)
	b.mu.Unlock()

	backlog := make([]types.Event, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneEvent(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
	return updates, cancel, backlog
}
