package metrics

import (
	"sync"

	"github.com/screenlink/screenlink/internal/signal"
)

// Event names. The registry is open-ended; these constants cover the hot
// paths so the poll loop, the negotiation engine, and the exposition endpoint
// agree on spelling.
const (
	EventPollCycle     = "poll_cycle"
	EventPollError     = "poll_error"
	EventAuthExpired   = "auth_expired"
	EventSessionOpened = "session_opened"
	EventSessionClosed = "session_closed"

	DropReasonUnknownKind      = "drop_unknown_kind"
	DropReasonMalformedPayload = "drop_malformed_payload"
	DropReasonUnexpectedState  = "drop_unexpected_state"
)

// MessageEvent names the counter for inbound messages of the given kind.
func MessageEvent(kind signal.Kind) string {
	return "message_" + string(kind)
}

// Metrics is a minimal, concurrency-safe counter registry.
//
// A host embedding this client can plug into a real metrics backend; this
// type exists to keep the poll and negotiation paths observable and testable
// without one.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

// Inc is a no-op on a nil receiver so optional instrumentation doesn't force
// every constructor to build a registry.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
