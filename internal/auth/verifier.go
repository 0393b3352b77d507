// Package auth implements credential verification and channel authorization
// on top of HS256 JWTs.
package auth

import (
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// ReservedChannelPrefix marks channels restricted to broadcast-privileged
// users. Everything else is open to any authenticated user.
const ReservedChannelPrefix = "internal."

// Claims is the token payload the verifier understands. Subject carries the
// user id; Broadcast grants server-wide broadcast permission.
type Claims struct {
	jwt.RegisteredClaims
	Broadcast bool `json:"broadcast,omitempty"`
}

// Verifier validates HS256-signed credentials and answers authorization
// questions from the claims it has seen. It implements both
// domain.CredentialVerifier and domain.Authorizer.
type Verifier struct {
	secret []byte

	mu         sync.RWMutex
	privileges map[string]bool
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret:     []byte(secret),
		privileges: make(map[string]bool),
	}
}

// Verify parses and validates the token, returning the subject as the user
// id. Expiry and not-before claims are enforced by the JWT library.
func (v *Verifier) Verify(token string) (string, bool) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", false
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return "", false
	}

	v.mu.Lock()
	v.privileges[claims.Subject] = claims.Broadcast
	v.mu.Unlock()

	return claims.Subject, true
}

// Forget drops the user's verified privileges. Wired to the session
// registry's user-gone hooks so the privileges map only holds users with at
// least one live session.
func (v *Verifier) Forget(userID string) {
	v.mu.Lock()
	delete(v.privileges, userID)
	v.mu.Unlock()
}

// AuthorizedForChannel allows any authenticated user on regular channels;
// reserved channels require broadcast privilege.
func (v *Verifier) AuthorizedForChannel(userID, channel string) bool {
	if strings.HasPrefix(channel, ReservedChannelPrefix) {
		return v.broadcastPrivilege(userID)
	}
	return true
}

// AuthorizedToBroadcast reports whether the user's verified claims granted
// broadcast permission.
func (v *Verifier) AuthorizedToBroadcast(userID string) bool {
	return v.broadcastPrivilege(userID)
}

func (v *Verifier) broadcastPrivilege(userID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.privileges[userID]
}
