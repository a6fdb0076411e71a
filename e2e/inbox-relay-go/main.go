// inbox-relay-go is a minimal in-memory relay for local end-to-end runs of
// screenlink-agent.
//
// It implements just enough of the server surface: per-user message inboxes
// drained on GET, and an access directory of every identity it has seen.
// Authentication is intentionally trivial: the bearer token IS the user id.
//
// Run two agents against it:
//
//	go run ./e2e/inbox-relay-go &
//	SCREENLINK_SERVER_URL=http://127.0.0.1:8619 SCREENLINK_USER_ID=u1 SCREENLINK_TOKEN=u1 go run ./cmd/screenlink-agent
//	SCREENLINK_SERVER_URL=http://127.0.0.1:8619 SCREENLINK_USER_ID=u2 SCREENLINK_TOKEN=u2 go run ./cmd/screenlink-agent
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/screenlink/screenlink/internal/signal"
)

func main() {
	bindHost := envOrDefault("BIND_HOST", "127.0.0.1")
	port := envIntOrDefault("PORT", 8619)

	listenAddr := net.JoinHostPort(bindHost, strconv.Itoa(port))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen %s: %v\n", listenAddr, err)
		os.Exit(1)
	}

	relay := newRelay()
	fmt.Printf("inbox relay listening on http://%s\n", ln.Addr())
	if err := http.Serve(ln, relay.routes()); err != nil {
		fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		os.Exit(1)
	}
}

type relay struct {
	mu      sync.Mutex
	inboxes map[string][]signal.Message
	seen    map[string]bool
}

func newRelay() *relay {
	return &relay{
		inboxes: make(map[string][]signal.Message),
		seen:    make(map[string]bool),
	}
}

func (r *relay) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /signal/send", r.withAuth(r.handleSend))
	mux.HandleFunc("GET /signal/inbox", r.withAuth(r.handleInbox))
	mux.HandleFunc("GET /access/connections", r.withAuth(r.handleUserList("connections")))
	mux.HandleFunc("GET /access/viewers", r.withAuth(r.handleUserList("viewers")))
	mux.HandleFunc("GET /access/requests/incoming", r.withAuth(r.handleEmptyList("incomingRequests")))
	mux.HandleFunc("GET /access/requests/outgoing", r.withAuth(r.handleEmptyList("outgoingRequests")))
	mux.HandleFunc("POST /access/request/{id}", r.withAuth(r.handleAccessOp))
	mux.HandleFunc("POST /access/requests/{id}/accept", r.withAuth(r.handleAccessOp))
	mux.HandleFunc("POST /access/requests/{id}/reject", r.withAuth(r.handleAccessOp))
	mux.HandleFunc("POST /access/requests/{id}/cancel", r.withAuth(r.handleAccessOp))
	return mux
}

// withAuth resolves the caller from the bearer token and records the identity
// in the directory.
func (r *relay) withAuth(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		userID := strings.TrimSpace(token)
		r.mu.Lock()
		r.seen[userID] = true
		r.mu.Unlock()
		next(w, req, userID)
	}
}

func (r *relay) handleSend(w http.ResponseWriter, req *http.Request, from string) {
	var body struct {
		ToUserID string                     `json:"toUserId"`
		Type     signal.Kind                `json:"type"`
		Payload  map[string]json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.ToUserID == "" || body.Type == "" {
		http.Error(w, "toUserId and type are required", http.StatusBadRequest)
		return
	}

	msg := signal.Message{
		FromUserID: from,
		ToUserID:   body.ToUserID,
		Type:       body.Type,
		Payload:    body.Payload,
	}
	r.mu.Lock()
	r.inboxes[body.ToUserID] = append(r.inboxes[body.ToUserID], msg)
	r.mu.Unlock()
	fmt.Printf("relayed %s: %s -> %s\n", body.Type, from, body.ToUserID)
	w.WriteHeader(http.StatusNoContent)
}

func (r *relay) handleInbox(w http.ResponseWriter, _ *http.Request, userID string) {
	r.mu.Lock()
	msgs := r.inboxes[userID]
	delete(r.inboxes, userID)
	r.mu.Unlock()
	if msgs == nil {
		msgs = []signal.Message{}
	}
	writeJSON(w, map[string][]signal.Message{"messages": msgs})
}

type user struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// handleUserList serves every identity the relay has seen, minus the caller.
// Names are synthesized from ids so consent prompts have something to show.
func (r *relay) handleUserList(key string) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, _ *http.Request, userID string) {
		r.mu.Lock()
		users := make([]user, 0, len(r.seen))
		for id := range r.seen {
			if id == userID {
				continue
			}
			users = append(users, user{
				ID:    id,
				Name:  "User " + id,
				Email: id + "@example.test",
			})
		}
		r.mu.Unlock()
		writeJSON(w, map[string][]user{key: users})
	}
}

func (r *relay) handleEmptyList(key string) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, _ *http.Request, _ string) {
		writeJSON(w, map[string][]user{key: {}})
	}
}

func (r *relay) handleAccessOp(w http.ResponseWriter, req *http.Request, userID string) {
	fmt.Printf("access op %s by %s (id=%s)\n", req.URL.Path, userID, req.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s=%q: %v\n", key, v, err)
		os.Exit(2)
	}
	return n
}
