package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Kind identifies the kind of signaling message.
type Kind string

const (
	KindOffer               Kind = "offer"
	KindAnswer              Kind = "answer"
	KindICECandidate        Kind = "ice_candidate"
	KindRequestScreenShare  Kind = "request_screen_share"
	KindScreenShareApproved Kind = "screen_share_approved"
	KindScreenShareRejected Kind = "screen_share_rejected"
)

// ErrMalformedPayload is wrapped by all payload extraction failures. Callers
// drop the offending message and keep processing.
var ErrMalformedPayload = errors.New("signal: malformed payload")

// Message is the wire unit exchanged through the relay.
//
// Payload is deliberately an open object: the relay forwards it opaquely and
// only the consumer matching Type interprets it.
type Message struct {
	FromUserID string                     `json:"fromUserId"`
	ToUserID   string                     `json:"toUserId"`
	Type       Kind                       `json:"type"`
	Payload    map[string]json.RawMessage `json:"payload"`
}

// SDP extracts the session description text from an offer or answer payload.
func (m Message) SDP() (string, error) {
	raw, ok := m.Payload["sdp"]
	if !ok {
		return "", fmt.Errorf("%w: missing sdp field", ErrMalformedPayload)
	}
	var sdp string
	if err := json.Unmarshal(raw, &sdp); err != nil {
		return "", fmt.Errorf("%w: sdp is not a string: %v", ErrMalformedPayload, err)
	}
	if sdp == "" {
		return "", fmt.Errorf("%w: empty sdp", ErrMalformedPayload)
	}
	return sdp, nil
}

// Candidate mirrors the browser's RTCIceCandidateInit JSON, which is what the
// remote side nests under payload.candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Candidate extracts the nested candidate description from an ice_candidate
// payload.
func (m Message) Candidate() (Candidate, error) {
	raw, ok := m.Payload["candidate"]
	if !ok {
		return Candidate{}, fmt.Errorf("%w: missing candidate field", ErrMalformedPayload)
	}
	var c Candidate
	if err := json.Unmarshal(raw, &c); err != nil {
		return Candidate{}, fmt.Errorf("%w: candidate: %v", ErrMalformedPayload, err)
	}
	if c.Candidate == "" {
		return Candidate{}, fmt.Errorf("%w: empty candidate string", ErrMalformedPayload)
	}
	return c, nil
}

// Approved extracts the decision flag from a screen_share_approved or
// screen_share_rejected payload.
func (m Message) Approved() (bool, error) {
	raw, ok := m.Payload["approved"]
	if !ok {
		return false, fmt.Errorf("%w: missing approved field", ErrMalformedPayload)
	}
	var approved bool
	if err := json.Unmarshal(raw, &approved); err != nil {
		return false, fmt.Errorf("%w: approved is not a bool: %v", ErrMalformedPayload, err)
	}
	return approved, nil
}

// SDPPayload builds the payload for an offer or answer message.
func SDPPayload(sdp string) map[string]json.RawMessage {
	return map[string]json.RawMessage{"sdp": mustMarshal(sdp)}
}

// CandidatePayload builds the payload for an ice_candidate message.
func CandidatePayload(init webrtc.ICECandidateInit) map[string]json.RawMessage {
	return map[string]json.RawMessage{"candidate": mustMarshal(CandidateFromPion(init))}
}

// DecisionPayload builds the payload for a consent reply.
func DecisionPayload(approved bool) map[string]json.RawMessage {
	return map[string]json.RawMessage{"approved": mustMarshal(approved)}
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Only reachable for types that cannot fail to marshal.
		panic(err)
	}
	return b
}
