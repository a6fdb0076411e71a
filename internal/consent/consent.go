// Package consent tracks who is currently asking to view the local screen
// and answers them.
//
// The relay holds a request_screen_share message per poll cycle for as long
// as the remote keeps asking, so the working set is not accumulated: each
// cycle's batch replaces it wholesale. A requester that stops asking, or a
// cycle with no requests at all, clears them out without any explicit
// cancellation message.
package consent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/screenlink/screenlink/internal/signal"
)

// NameResolver maps a user id to a display name. api.Directory satisfies it.
type NameResolver interface {
	DisplayName(userID string) string
}

// SendFunc delivers a signaling message to one target through the relay.
type SendFunc func(ctx context.Context, toUserID string, kind signal.Kind, payload map[string]json.RawMessage) error

// Request is one pending view request, resolved for display.
type Request struct {
	UserID      string
	DisplayName string
}

// Config for a Moderator. Send is required; Names may be nil, in which case
// requesters are shown by id.
type Config struct {
	Send   SendFunc
	Names  NameResolver
	Logger *slog.Logger
	// OnChange observes the working set after each cycle that alters it.
	OnChange func([]Request)
}

// Moderator is the consent gate for the local screen.
type Moderator struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	working map[string]Request
}

func New(cfg Config) *Moderator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Moderator{
		cfg:     cfg,
		logger:  logger,
		working: make(map[string]Request),
	}
}

// Kinds declares the message kind the moderator consumes, as whole cycles.
func (m *Moderator) Kinds() []signal.Kind {
	return []signal.Kind{signal.KindRequestScreenShare}
}

// HandleBatch replaces the working set with the cycle's requesters. Duplicate
// requests from one sender within a cycle collapse to one entry; messages
// without a sender are dropped.
func (m *Moderator) HandleBatch(_ context.Context, msgs []signal.Message) {
	next := make(map[string]Request, len(msgs))
	for _, msg := range msgs {
		if msg.FromUserID == "" {
			m.logger.Warn("dropping view request without sender")
			continue
		}
		next[msg.FromUserID] = Request{
			UserID:      msg.FromUserID,
			DisplayName: m.displayName(msg.FromUserID),
		}
	}

	m.mu.Lock()
	changed := !sameRequesters(m.working, next)
	m.working = next
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if changed {
		m.logger.Info("pending view requests changed", "count", len(snapshot))
		if m.cfg.OnChange != nil {
			m.cfg.OnChange(snapshot)
		}
	}
}

// Requests lists the pending requesters, sorted by user id.
func (m *Moderator) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Approve answers userID's pending request positively. A user without a
// pending request is a no-op, which makes double-clicks and stale UI actions
// harmless. The entry is removed before sending and restored if the send
// fails, so a retry remains possible.
func (m *Moderator) Approve(ctx context.Context, userID string) error {
	return m.decide(ctx, userID, true)
}

// Reject answers userID's pending request negatively. Same idempotence rules
// as Approve.
func (m *Moderator) Reject(ctx context.Context, userID string) error {
	return m.decide(ctx, userID, false)
}

func (m *Moderator) decide(ctx context.Context, userID string, approved bool) error {
	m.mu.Lock()
	req, ok := m.working[userID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.working, userID)
	m.mu.Unlock()

	kind := signal.KindScreenShareRejected
	if approved {
		kind = signal.KindScreenShareApproved
	}
	if err := m.cfg.Send(ctx, userID, kind, signal.DecisionPayload(approved)); err != nil {
		m.mu.Lock()
		m.working[userID] = req
		m.mu.Unlock()
		return err
	}
	m.logger.Info("view request answered",
		"requester", req.DisplayName, "user", userID, "approved", approved)
	return nil
}

func (m *Moderator) displayName(userID string) string {
	if m.cfg.Names == nil {
		return userID
	}
	return m.cfg.Names.DisplayName(userID)
}

func (m *Moderator) snapshotLocked() []Request {
	out := make([]Request, 0, len(m.working))
	for _, req := range m.working {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func sameRequesters(a map[string]Request, b map[string]Request) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}
