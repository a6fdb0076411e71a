package signal

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestMessage_UnmarshalOffer(t *testing.T) {
	raw := []byte(`{
		"fromUserId":"U2",
		"toUserId":"U1",
		"type":"offer",
		"payload":{"sdp":"v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\n"}
	}`)

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != KindOffer || msg.FromUserID != "U2" || msg.ToUserID != "U1" {
		t.Fatalf("unexpected envelope: %#v", msg)
	}
	sdp, err := msg.SDP()
	if err != nil {
		t.Fatalf("sdp: %v", err)
	}
	if sdp == "" {
		t.Fatalf("empty sdp")
	}
}

func TestMessage_SDPMissingOrMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"missing", `{}`},
		{"wrong type", `{"sdp":42}`},
		{"empty", `{"sdp":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			raw := []byte(`{"fromUserId":"U2","toUserId":"U1","type":"offer","payload":` + tt.payload + `}`)
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if _, err := msg.SDP(); !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("err=%v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestMessage_CandidateRoundTrip(t *testing.T) {
	mid := "0"
	var line uint16 = 0
	init := webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 2130706431 192.0.2.1 51000 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &line,
	}

	msg := Message{
		FromUserID: "U2",
		ToUserID:   "U1",
		Type:       KindICECandidate,
		Payload:    CandidatePayload(init),
	}

	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Message
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	c, err := got.Candidate()
	if err != nil {
		t.Fatalf("candidate: %v", err)
	}
	back := c.ToPion()
	if back.Candidate != init.Candidate {
		t.Fatalf("candidate=%q, want %q", back.Candidate, init.Candidate)
	}
	if back.SDPMid == nil || *back.SDPMid != mid {
		t.Fatalf("sdpMid=%v, want %q", back.SDPMid, mid)
	}
	if back.SDPMLineIndex == nil || *back.SDPMLineIndex != line {
		t.Fatalf("sdpMLineIndex=%v, want %d", back.SDPMLineIndex, line)
	}
}

func TestMessage_CandidateMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"missing", `{}`},
		{"not an object", `{"candidate":"plain string is the browser legacy shape"}`},
		{"empty candidate", `{"candidate":{"candidate":""}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			raw := []byte(`{"fromUserId":"U2","toUserId":"U1","type":"ice_candidate","payload":` + tt.payload + `}`)
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if _, err := msg.Candidate(); !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("err=%v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestMessage_Approved(t *testing.T) {
	msg := Message{Type: KindScreenShareApproved, Payload: DecisionPayload(true)}
	approved, err := msg.Approved()
	if err != nil {
		t.Fatalf("approved: %v", err)
	}
	if !approved {
		t.Fatalf("approved=false, want true")
	}

	msg = Message{Type: KindScreenShareRejected, Payload: DecisionPayload(false)}
	approved, err = msg.Approved()
	if err != nil {
		t.Fatalf("approved: %v", err)
	}
	if approved {
		t.Fatalf("approved=true, want false")
	}
}

func TestMessage_UnknownKindStillDecodes(t *testing.T) {
	// The envelope must survive unknown kinds; filtering is the consumer's job.
	raw := []byte(`{"fromUserId":"U9","toUserId":"U1","type":"future_thing","payload":{"x":1}}`)
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != Kind("future_thing") {
		t.Fatalf("type=%q", msg.Type)
	}
}
