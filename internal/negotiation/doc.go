// Package negotiation drives the per-target peer-connection state machine.
//
// One session exists per remote target. Inbound offers, answers, and
// connectivity candidates arrive from independently-scheduled poll handlers;
// every session mutation is serialized by a per-session mutex, so handler
// completion order cannot corrupt session state.
//
// Two behaviors are deliberately stricter than a naive signaling client:
//
//   - candidates that arrive before the session's remote description are
//     queued and replayed once it is set, so out-of-order delivery within a
//     poll batch never silently loses connectivity candidates;
//   - near-simultaneous offers from both sides (glare) resolve by identity:
//     the lexically smaller user id yields and answers the inbound offer,
//     the larger keeps its own offer and discards the inbound one.
package negotiation
