package progress

import (
	"context"
	"sync"
	"time"
)

// Event is one live status update for a session.
type Event struct {
	SessionID string    `json:"session_id"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Broker is the pub/sub contract for live progress updates keyed by session
// id. Publishing to a session nobody watches is a no-op, never an error;
// the pipeline does not care whether anyone is listening.
type Broker interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error)
	Publish(ctx context.Context, ev Event) error
}

// Memory is an in-process Broker for single-node deployments and tests.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[int]chan Event
	next int
}

// NewMemory creates an in-memory broker.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]chan Event)}
}

// Subscribe implements Broker. The returned cancel func must be called to
// release the subscription.
func (m *Memory) Subscribe(_ context.Context, sessionID string) (<-chan Event, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Event, 16)
	id := m.next
	m.next++
	if m.subs[sessionID] == nil {
		m.subs[sessionID] = make(map[int]chan Event)
	}
	m.subs[sessionID][id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.subs[sessionID]; ok {
			if c, ok := set[id]; ok {
				delete(set, id)
				close(c)
			}
			if len(set) == 0 {
				delete(m.subs, sessionID)
			}
		}
	}
	return ch, cancel, nil
}

// Publish implements Broker. Slow subscribers are skipped rather than
// blocking the pipeline.
func (m *Memory) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}
