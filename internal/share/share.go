// Package share drives the originator side of a screen-sharing exchange:
// asking a peer for their screen, and offering the local screen once a viewer
// has been approved.
package share

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/screenlink/screenlink/internal/capture"
	"github.com/screenlink/screenlink/internal/signal"
)

// Negotiator is the slice of the negotiation engine the originator needs.
type Negotiator interface {
	AddTracks(targetID string, tracks []webrtc.TrackLocal) error
	Initiate(ctx context.Context, targetID string) error
	Close(targetID string)
}

// SendFunc delivers a signaling message to one target through the relay.
type SendFunc func(ctx context.Context, toUserID string, kind signal.Kind, payload map[string]json.RawMessage) error

// Decision is a remote reply to an earlier view request.
type Decision struct {
	FromUserID string
	Approved   bool
}

// Config for an Originator. Source, Negotiator, and Send are required.
type Config struct {
	Source     capture.Source
	Negotiator Negotiator
	Send       SendFunc
	Logger     *slog.Logger
	// OnDecision observes replies to view requests, after they are logged.
	OnDecision func(Decision)
}

// Originator starts outbound sharing sessions and issues view requests.
type Originator struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Originator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Originator{cfg: cfg, logger: logger}
}

// StartSharing captures the local screen and offers it to targetID. The
// session the offer rides on is torn down if capture succeeded but the offer
// could not be produced.
func (o *Originator) StartSharing(ctx context.Context, targetID string) error {
	tracks, err := o.cfg.Source.Capture(ctx)
	if err != nil {
		return fmt.Errorf("share: capture: %w", err)
	}
	if err := o.cfg.Negotiator.AddTracks(targetID, tracks); err != nil {
		o.cfg.Negotiator.Close(targetID)
		return fmt.Errorf("share: attach tracks: %w", err)
	}
	if err := o.cfg.Negotiator.Initiate(ctx, targetID); err != nil {
		o.cfg.Negotiator.Close(targetID)
		return fmt.Errorf("share: offer: %w", err)
	}
	o.logger.Info("sharing started", "target", targetID, "tracks", len(tracks))
	return nil
}

// StopSharing tears down the session toward targetID, if any.
func (o *Originator) StopSharing(targetID string) {
	o.cfg.Negotiator.Close(targetID)
	o.logger.Info("sharing stopped", "target", targetID)
}

// RequestView asks targetID for their screen. The reply arrives later as a
// screen_share_approved or screen_share_rejected message.
func (o *Originator) RequestView(ctx context.Context, targetID string) error {
	payload := map[string]json.RawMessage{}
	if err := o.cfg.Send(ctx, targetID, signal.KindRequestScreenShare, payload); err != nil {
		return fmt.Errorf("share: view request: %w", err)
	}
	o.logger.Info("view requested", "target", targetID)
	return nil
}

// Kinds declares the reply kinds the originator consumes from the poll loop.
func (o *Originator) Kinds() []signal.Kind {
	return []signal.Kind{signal.KindScreenShareApproved, signal.KindScreenShareRejected}
}

// HandleMessage records the remote decision. An approval is not a connection;
// the approving side follows up with its own offer, which the negotiation
// engine answers independently.
func (o *Originator) HandleMessage(_ context.Context, msg signal.Message) {
	approved, err := msg.Approved()
	if err != nil {
		// The kind alone is authoritative when the flag is absent.
		approved = msg.Type == signal.KindScreenShareApproved
	}
	if approved {
		o.logger.Info("view request approved", "by", msg.FromUserID)
	} else {
		o.logger.Info("view request rejected", "by", msg.FromUserID)
	}
	if o.cfg.OnDecision != nil {
		o.cfg.OnDecision(Decision{FromUserID: msg.FromUserID, Approved: approved})
	}
}
