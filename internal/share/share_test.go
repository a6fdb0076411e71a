package share

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/screenlink/screenlink/internal/capture"
	"github.com/screenlink/screenlink/internal/signal"
)

type fakeNegotiator struct {
	tracks    map[string]int
	initiated []string
	closed    []string

	failAddTracks error
	failInitiate  error
}

func newFakeNegotiator() *fakeNegotiator {
	return &fakeNegotiator{tracks: make(map[string]int)}
}

func (f *fakeNegotiator) AddTracks(targetID string, tracks []webrtc.TrackLocal) error {
	if f.failAddTracks != nil {
		return f.failAddTracks
	}
	f.tracks[targetID] += len(tracks)
	return nil
}

func (f *fakeNegotiator) Initiate(_ context.Context, targetID string) error {
	if f.failInitiate != nil {
		return f.failInitiate
	}
	f.initiated = append(f.initiated, targetID)
	return nil
}

func (f *fakeNegotiator) Close(targetID string) {
	f.closed = append(f.closed, targetID)
}

func screenSource(t *testing.T) capture.Source {
	t.Helper()
	track, err := capture.NewScreenTrack("desk-test")
	if err != nil {
		t.Fatalf("NewScreenTrack: %v", err)
	}
	return capture.StaticSource{Tracks: []webrtc.TrackLocal{track}}
}

func TestStartSharing(t *testing.T) {
	neg := newFakeNegotiator()
	o := New(Config{Source: screenSource(t), Negotiator: neg, Send: discardSend})

	if err := o.StartSharing(context.Background(), "u2"); err != nil {
		t.Fatalf("StartSharing: %v", err)
	}
	if neg.tracks["u2"] != 1 {
		t.Fatalf("attached %d tracks, want 1", neg.tracks["u2"])
	}
	if len(neg.initiated) != 1 || neg.initiated[0] != "u2" {
		t.Fatalf("initiated = %v, want [u2]", neg.initiated)
	}
	if len(neg.closed) != 0 {
		t.Fatalf("session closed on success: %v", neg.closed)
	}
}

func TestStartSharing_CaptureFailureLeavesNoSession(t *testing.T) {
	neg := newFakeNegotiator()
	o := New(Config{Source: capture.StaticSource{}, Negotiator: neg, Send: discardSend})

	err := o.StartSharing(context.Background(), "u2")
	if !errors.Is(err, capture.ErrNoDisplay) {
		t.Fatalf("err = %v, want ErrNoDisplay", err)
	}
	if len(neg.initiated) != 0 || len(neg.closed) != 0 {
		t.Fatalf("capture failure touched the negotiator: %+v", neg)
	}
}

func TestStartSharing_OfferFailureTearsDown(t *testing.T) {
	neg := newFakeNegotiator()
	neg.failInitiate = errors.New("relay unreachable")
	o := New(Config{Source: screenSource(t), Negotiator: neg, Send: discardSend})

	if err := o.StartSharing(context.Background(), "u2"); err == nil {
		t.Fatal("want error when the offer cannot be produced")
	}
	if len(neg.closed) != 1 || neg.closed[0] != "u2" {
		t.Fatalf("closed = %v, want [u2]", neg.closed)
	}
}

func TestRequestView(t *testing.T) {
	var sentTo string
	var sentKind signal.Kind
	o := New(Config{
		Source:     capture.StaticSource{},
		Negotiator: newFakeNegotiator(),
		Send: func(_ context.Context, to string, kind signal.Kind, payload map[string]json.RawMessage) error {
			sentTo, sentKind = to, kind
			if payload == nil {
				t.Error("payload must be present, even when empty")
			}
			return nil
		},
	})

	if err := o.RequestView(context.Background(), "u3"); err != nil {
		t.Fatalf("RequestView: %v", err)
	}
	if sentTo != "u3" || sentKind != signal.KindRequestScreenShare {
		t.Fatalf("sent %q to %q", sentKind, sentTo)
	}
}

func TestHandleMessage_Decisions(t *testing.T) {
	tests := []struct {
		name string
		msg  signal.Message
		want Decision
	}{
		{
			name: "approved",
			msg: signal.Message{
				FromUserID: "u2",
				Type:       signal.KindScreenShareApproved,
				Payload:    signal.DecisionPayload(true),
			},
			want: Decision{FromUserID: "u2", Approved: true},
		},
		{
			name: "rejected",
			msg: signal.Message{
				FromUserID: "u2",
				Type:       signal.KindScreenShareRejected,
				Payload:    signal.DecisionPayload(false),
			},
			want: Decision{FromUserID: "u2", Approved: false},
		},
		{
			name: "missing flag falls back to kind",
			msg: signal.Message{
				FromUserID: "u4",
				Type:       signal.KindScreenShareApproved,
			},
			want: Decision{FromUserID: "u4", Approved: true},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got Decision
			o := New(Config{
				Source:     capture.StaticSource{},
				Negotiator: newFakeNegotiator(),
				Send:       discardSend,
				OnDecision: func(d Decision) { got = d },
			})
			o.HandleMessage(context.Background(), tc.msg)
			if got != tc.want {
				t.Fatalf("decision = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func discardSend(context.Context, string, signal.Kind, map[string]json.RawMessage) error {
	return nil
}
