// Package api is the HTTP boundary to the signaling relay and the
// access-relationship service.
//
// All calls are bearer-authenticated, stateless, and never retried; a failed
// call is terminal for that operation and the next poll tick or user action
// tries again from scratch.
package api
