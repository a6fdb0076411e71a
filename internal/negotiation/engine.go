package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/screenlink/screenlink/internal/metrics"
	"github.com/screenlink/screenlink/internal/rtc"
	"github.com/screenlink/screenlink/internal/signal"
)

// State of one per-target session.
type State string

const (
	// StateIdle is reported for targets with no session.
	StateIdle State = "idle"
	// StateOffering covers the window between starting a local offer and
	// handing it to the relay.
	StateOffering State = "offering"
	// StateAwaitingAnswer means the local offer was sent and the remote
	// answer is outstanding.
	StateAwaitingAnswer State = "awaiting_answer"
	// StateAnsweringOffer means a remote offer was accepted and the local
	// answer is being produced.
	StateAnsweringOffer State = "answering_offer"
	// StateConnected means both descriptions are in place. Renegotiation
	// offers are accepted in this state without tearing the peer down.
	StateConnected State = "connected"
)

// SendFunc delivers a signaling message to one target through the relay.
type SendFunc func(ctx context.Context, toUserID string, kind signal.Kind, payload map[string]json.RawMessage) error

// Config for an Engine. SelfID, Factory, and Send are required.
type Config struct {
	// SelfID is this client's user id. It breaks offer glare: when both
	// sides offer at once, the lexically smaller id yields.
	SelfID  string
	Factory rtc.PeerFactory
	Send    SendFunc
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// OnTrack observes remote media as it arrives, keyed by target.
	OnTrack func(targetID string, track *webrtc.TrackRemote, recv *webrtc.RTPReceiver)
}

// Engine owns every active session, one per remote target.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func New(cfg Config) (*Engine, error) {
	if cfg.SelfID == "" {
		return nil, errors.New("negotiation: SelfID is required")
	}
	if cfg.Factory == nil {
		return nil, errors.New("negotiation: Factory is required")
	}
	if cfg.Send == nil {
		return nil, errors.New("negotiation: Send is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*session),
	}, nil
}

// Kinds declares the message kinds the engine consumes from the poll loop.
func (e *Engine) Kinds() []signal.Kind {
	return []signal.Kind{signal.KindOffer, signal.KindAnswer, signal.KindICECandidate}
}

// HandleMessage dispatches one inbound signaling message. Malformed payloads
// and messages without a sender are dropped; nothing here fails the poll
// loop.
func (e *Engine) HandleMessage(ctx context.Context, msg signal.Message) {
	if msg.FromUserID == "" {
		e.cfg.Metrics.Inc(metrics.DropReasonMalformedPayload)
		e.logger.Warn("dropping signaling message without sender", "kind", msg.Type)
		return
	}
	switch msg.Type {
	case signal.KindOffer:
		sdp, err := msg.SDP()
		if err != nil {
			e.dropMalformed(msg, err)
			return
		}
		e.handleOffer(ctx, msg.FromUserID, sdp)
	case signal.KindAnswer:
		sdp, err := msg.SDP()
		if err != nil {
			e.dropMalformed(msg, err)
			return
		}
		e.handleAnswer(msg.FromUserID, sdp)
	case signal.KindICECandidate:
		cand, err := msg.Candidate()
		if err != nil {
			e.dropMalformed(msg, err)
			return
		}
		e.handleCandidate(msg.FromUserID, cand.ToPion())
	default:
		e.cfg.Metrics.Inc(metrics.DropReasonUnknownKind)
		e.logger.Warn("dropping unexpected kind", "kind", msg.Type, "from", msg.FromUserID)
	}
}

func (e *Engine) dropMalformed(msg signal.Message, err error) {
	e.cfg.Metrics.Inc(metrics.DropReasonMalformedPayload)
	e.logger.Warn("dropping malformed signaling message",
		"kind", msg.Type, "from", msg.FromUserID, "error", err)
}

// Initiate starts an outbound connection attempt toward targetID: creates the
// peer if needed, produces and applies a local offer, then sends it. On a
// send failure the session stays in StateOffering so a later inbound answer
// or retry can still make progress.
func (e *Engine) Initiate(ctx context.Context, targetID string) error {
	s := e.session(targetID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensurePeerLocked(); err != nil {
		return err
	}
	offer, err := s.peer.CreateOffer()
	if err != nil {
		return err
	}
	if err := s.peer.SetLocalDescription(offer); err != nil {
		return err
	}
	s.setStateLocked(StateOffering)

	if err := e.cfg.Send(ctx, targetID, signal.KindOffer, signal.SDPPayload(offer.SDP)); err != nil {
		s.logger.Warn("offer send failed", "error", err)
		return err
	}
	s.setStateLocked(StateAwaitingAnswer)
	return nil
}

// AddTracks attaches local media to the target's session, creating the peer
// if needed. Tracks added before Initiate are carried by the initial offer;
// tracks added to a connected session require a renegotiation offer.
func (e *Engine) AddTracks(targetID string, tracks []webrtc.TrackLocal) error {
	s := e.session(targetID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensurePeerLocked(); err != nil {
		return err
	}
	for _, track := range tracks {
		if err := s.peer.AddTrack(track); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) handleOffer(ctx context.Context, from, sdp string) {
	s := e.session(from)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateOffering, StateAwaitingAnswer:
		if e.cfg.SelfID > from {
			// Impolite side of glare: our offer stands, theirs is dropped.
			e.cfg.Metrics.Inc(metrics.DropReasonUnexpectedState)
			s.logger.Info("discarding inbound offer during glare", "state", s.state)
			return
		}
		// Polite side: abandon the local attempt and answer theirs. Queued
		// remote candidates survive the peer swap.
		s.logger.Info("yielding local offer during glare")
		s.resetPeerLocked()
	case StateAnsweringOffer:
		// A superseding offer replaces the one being answered.
		s.resetPeerLocked()
	}

	if err := s.ensurePeerLocked(); err != nil {
		s.logger.Error("peer create failed", "error", err)
		return
	}
	s.setStateLocked(StateAnsweringOffer)

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := s.peer.SetRemoteDescription(remote); err != nil {
		s.logger.Warn("rejecting inbound offer", "error", err)
		return
	}
	s.remoteSet = true
	s.replayPendingLocked()

	answer, err := s.peer.CreateAnswer()
	if err != nil {
		s.logger.Error("answer create failed", "error", err)
		return
	}
	if err := s.peer.SetLocalDescription(answer); err != nil {
		s.logger.Error("answer apply failed", "error", err)
		return
	}
	s.setStateLocked(StateConnected)

	if err := e.cfg.Send(ctx, from, signal.KindAnswer, signal.SDPPayload(answer.SDP)); err != nil {
		// Descriptions are already in place locally; the remote will retry
		// with a fresh offer if it gives up waiting.
		s.logger.Warn("answer send failed", "error", err)
	}
}

func (e *Engine) handleAnswer(from, sdp string) {
	e.mu.Lock()
	s := e.sessions[from]
	e.mu.Unlock()
	if s == nil {
		e.cfg.Metrics.Inc(metrics.DropReasonUnexpectedState)
		e.logger.Warn("discarding answer for unknown session", "from", from)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOffering && s.state != StateAwaitingAnswer {
		// Duplicate or stale answer. The first one won; this is a no-op.
		e.cfg.Metrics.Inc(metrics.DropReasonUnexpectedState)
		s.logger.Info("discarding answer", "state", s.state)
		return
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := s.peer.SetRemoteDescription(remote); err != nil {
		s.logger.Warn("rejecting answer", "error", err)
		return
	}
	s.remoteSet = true
	s.replayPendingLocked()
	s.setStateLocked(StateConnected)
}

func (e *Engine) handleCandidate(from string, init webrtc.ICECandidateInit) {
	// Candidates may outrun the offer they belong to, so a session is created
	// here if needed and the candidate queued until the remote description
	// lands.
	s := e.session(from)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.peer == nil || !s.remoteSet {
		s.pending = append(s.pending, init)
		s.logger.Debug("queued early candidate", "queued", len(s.pending))
		return
	}
	if err := s.peer.AddICECandidate(init); err != nil {
		s.logger.Warn("candidate rejected", "error", err)
	}
}

// Close tears down the session for targetID, if any. Safe to call for
// unknown targets.
func (e *Engine) Close(targetID string) {
	e.mu.Lock()
	s := e.sessions[targetID]
	delete(e.sessions, targetID)
	e.mu.Unlock()
	if s == nil {
		return
	}
	s.close()
	e.cfg.Metrics.Inc(metrics.EventSessionClosed)
}

// CloseAll tears down every session.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = make(map[string]*session)
	e.mu.Unlock()
	for _, s := range sessions {
		s.close()
		e.cfg.Metrics.Inc(metrics.EventSessionClosed)
	}
}

// State reports the session state for targetID; StateIdle when none exists.
func (e *Engine) State(targetID string) State {
	e.mu.Lock()
	s := e.sessions[targetID]
	e.mu.Unlock()
	if s == nil {
		return StateIdle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Targets lists the ids with an active session, sorted.
func (e *Engine) Targets() []string {
	e.mu.Lock()
	out := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		out = append(out, id)
	}
	e.mu.Unlock()
	sort.Strings(out)
	return out
}

// session returns the target's session, creating it on first use.
func (e *Engine) session(targetID string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[targetID]; ok {
		return s
	}
	s := newSession(e, targetID)
	e.sessions[targetID] = s
	e.cfg.Metrics.Inc(metrics.EventSessionOpened)
	return s
}
