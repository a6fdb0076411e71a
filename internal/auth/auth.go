// Package auth provides the bearer credential used for all relay calls.
//
// Credential issuance and storage are external concerns; this package only
// loads an already-issued token and inspects it enough to detect a dead
// credential before the server rejects it.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

var ErrNoCredential = errors.New("no credential available")

// Source yields the bearer token attached to every relay request.
//
// Implementations must be safe for concurrent use; the poller and user-driven
// send paths call Token from independent goroutines.
type Source interface {
	Token() (string, error)
}

// Static is a fixed token, typically supplied via environment or flag.
type Static string

func (s Static) Token() (string, error) {
	if s == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// FileSource reads the token from a file on first use and caches it. A login
// helper outside this process is expected to keep the file fresh; Reload
// forces a re-read after re-authentication.
type FileSource struct {
	Path string

	mu    sync.Mutex
	token string
}

func (f *FileSource) Token() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token != "" {
		return f.token, nil
	}
	return f.readLocked()
}

func (f *FileSource) Reload() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked()
}

func (f *FileSource) readLocked() (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", ErrNoCredential
	}
	f.token = token
	return token, nil
}

// Expired reports whether token is a JWT whose exp claim is in the past.
//
// The client cannot (and must not) verify the signature; the relay does that.
// This is only an early warning so the host can redirect to re-authentication
// without waiting for a 401.
func Expired(token string, now time.Time) bool {
	exp, ok := TokenExpiry(token)
	if !ok {
		return false
	}
	return exp.Before(now)
}
