package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// Guards against absurd inputs being base64-decoded; real tokens are far
// smaller.
const maxJWTPayloadB64Len = 16 * 1024

// TokenExpiry extracts the exp claim from a JWT without verifying it.
//
// Returns ok=false when token is not a three-part JWT, the payload does not
// decode, or no exp claim is present. Opaque (non-JWT) bearer tokens are
// legal; callers treat them as never-expiring on the client side.
func TokenExpiry(token string) (time.Time, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	payloadB64 := parts[1]
	if payloadB64 == "" || len(payloadB64) > maxJWTPayloadB64Len {
		return time.Time{}, false
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return time.Time{}, false
	}

	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.Exp == 0 {
		return time.Time{}, false
	}
	return time.Unix(claims.Exp, 0), true
}
