package negotiation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/screenlink/screenlink/internal/rtc"
	"github.com/screenlink/screenlink/internal/signal"
)

// session is one target's connection attempt. All fields below mu are guarded
// by it; the engine never touches them without holding it.
type session struct {
	engine   *Engine
	targetID string
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	peer      rtc.Peer
	remoteSet bool
	// pending holds remote candidates that arrived before the remote
	// description. Replayed in arrival order once it is set.
	pending []webrtc.ICECandidateInit
}

func newSession(e *Engine, targetID string) *session {
	return &session{
		engine:   e,
		targetID: targetID,
		logger: e.logger.With(
			"session", uuid.NewString(),
			"target", targetID,
		),
		state: StateIdle,
	}
}

func (s *session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.logger.Debug("session state changed", "from", s.state, "to", next)
	s.state = next
}

// ensurePeerLocked lazily creates the peer and wires its callbacks. Local
// candidates are forwarded to the relay the moment the primitive surfaces
// them.
func (s *session) ensurePeerLocked() error {
	if s.peer != nil {
		return nil
	}
	peer, err := s.engine.cfg.Factory()
	if err != nil {
		return err
	}
	target := s.targetID
	peer.OnICECandidate(func(init webrtc.ICECandidateInit) {
		if err := s.engine.cfg.Send(context.Background(), target,
			signal.KindICECandidate, signal.CandidatePayload(init)); err != nil {
			s.logger.Warn("candidate send failed", "error", err)
		}
	})
	peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Info("transport state changed", "state", state.String())
	})
	if onTrack := s.engine.cfg.OnTrack; onTrack != nil {
		peer.OnTrack(func(track *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
			onTrack(target, track, recv)
		})
	}
	s.peer = peer
	return nil
}

// resetPeerLocked discards the current peer while keeping queued remote
// candidates, so a superseding offer can still use them.
func (s *session) resetPeerLocked() {
	if s.peer != nil {
		if err := s.peer.Close(); err != nil {
			s.logger.Warn("peer close failed", "error", err)
		}
		s.peer = nil
	}
	s.remoteSet = false
	s.setStateLocked(StateIdle)
}

func (s *session) replayPendingLocked() {
	if len(s.pending) == 0 {
		return
	}
	s.logger.Debug("replaying queued candidates", "queued", len(s.pending))
	for _, init := range s.pending {
		if err := s.peer.AddICECandidate(init); err != nil {
			s.logger.Warn("queued candidate rejected", "error", err)
		}
	}
	s.pending = nil
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer != nil {
		if err := s.peer.Close(); err != nil {
			s.logger.Warn("peer close failed", "error", err)
		}
		s.peer = nil
	}
	s.pending = nil
	s.remoteSet = false
	s.setStateLocked(StateIdle)
	s.logger.Info("session closed")
}
