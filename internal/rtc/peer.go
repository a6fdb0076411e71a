package rtc

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Peer is one peer-connection attempt's view of the negotiation primitive.
//
// Callback registration must happen before the first offer/answer operation;
// Close detaches all callbacks before releasing the underlying connection so
// late events from the primitive cannot reach a torn-down session.
type Peer interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))

	Close() error
}

// PeerFactory creates one Peer per connection attempt.
type PeerFactory func() (Peer, error)

// Config for the pion-backed factory.
type Config struct {
	ICEServers []webrtc.ICEServer
	// Logger receives pion's internal logs. Nil uses slog.Default.
	Logger *slog.Logger
}

// NewPionFactory builds the production factory. The webrtc.API is constructed
// once so misconfiguration surfaces at startup, not on first call.
func NewPionFactory(cfg Config) (PeerFactory, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = NewSlogLoggerFactory(cfg.Logger)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithSettingEngine(se),
	)
	rtcCfg := webrtc.Configuration{ICEServers: cfg.ICEServers}

	return func() (Peer, error) {
		pc, err := api.NewPeerConnection(rtcCfg)
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}
		p := &pionPeer{pc: pc}
		p.register()
		return p, nil
	}, nil
}

// pionPeer adapts *webrtc.PeerConnection to Peer. pion callbacks are wired
// once and routed through mutex-guarded handler fields, so Close can detach
// handlers without racing pion's internal goroutines.
type pionPeer struct {
	pc *webrtc.PeerConnection

	mu                sync.Mutex
	closed            bool
	onCandidate       func(webrtc.ICECandidateInit)
	onConnectionState func(webrtc.PeerConnectionState)
	onTrack           func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func (p *pionPeer) register() {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End-of-candidates marker.
			return
		}
		p.mu.Lock()
		f := p.onCandidate
		closed := p.closed
		p.mu.Unlock()
		if f != nil && !closed {
			f(c.ToJSON())
		}
	})
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.mu.Lock()
		f := p.onConnectionState
		closed := p.closed
		p.mu.Unlock()
		if f != nil && !closed {
			f(state)
		}
	})
	p.pc.OnTrack(func(track *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
		p.mu.Lock()
		f := p.onTrack
		closed := p.closed
		p.mu.Unlock()
		if f != nil && !closed {
			f(track, recv)
		}
	})
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *pionPeer) AddICECandidate(init webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(init)
}

func (p *pionPeer) AddTrack(track webrtc.TrackLocal) error {
	_, err := p.pc.AddTrack(track)
	return err
}

func (p *pionPeer) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onCandidate = f
	p.mu.Unlock()
}

func (p *pionPeer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onConnectionState = f
	p.mu.Unlock()
}

func (p *pionPeer) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.mu.Lock()
	p.onTrack = f
	p.mu.Unlock()
}

func (p *pionPeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.onCandidate = nil
	p.onConnectionState = nil
	p.onTrack = nil
	p.mu.Unlock()
	return p.pc.Close()
}
