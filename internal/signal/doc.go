// Package signal models the messages exchanged through the signaling relay's
// polled inbox.
//
// Each message carries a kind tag and an open payload object; the kind
// determines the payload shape. Consumers are expected to tolerate unknown
// kinds and malformed payloads without aborting the poll loop.
package signal
