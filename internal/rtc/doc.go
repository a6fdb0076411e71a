// Package rtc wraps the host platform's interactive-connectivity and
// session-description primitive behind a narrow interface.
//
// Production code uses the pion/webrtc implementation; the negotiation tests
// substitute a deterministic fake that fires the same callbacks.
package rtc
