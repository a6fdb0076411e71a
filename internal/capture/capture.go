// Package capture produces the local media tracks a sharing session offers.
//
// Actual screen grabbing is platform work done by the host shell; this
// package fixes the track contract so the sharing flow and its tests do not
// depend on a display being present.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ErrNoDisplay reports that no capturable display surface is available.
var ErrNoDisplay = errors.New("capture: no display available")

// Source yields the local tracks for one sharing session. Capture is called
// at most once per session start.
type Source interface {
	Capture(ctx context.Context) ([]webrtc.TrackLocal, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]webrtc.TrackLocal, error)

func (f SourceFunc) Capture(ctx context.Context) ([]webrtc.TrackLocal, error) {
	return f(ctx)
}

// StaticSource serves a fixed set of tracks, typically built with
// NewScreenTrack. The host shell pumps frames into them.
type StaticSource struct {
	Tracks []webrtc.TrackLocal
}

func (s StaticSource) Capture(context.Context) ([]webrtc.TrackLocal, error) {
	if len(s.Tracks) == 0 {
		return nil, ErrNoDisplay
	}
	return s.Tracks, nil
}

// NewScreenTrack builds the VP8 sample track a screen feed is written to.
func NewScreenTrack(streamID string) (*webrtc.TrackLocalStaticSample, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"screen",
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("capture: screen track: %w", err)
	}
	return track, nil
}
