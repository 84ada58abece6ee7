package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// RotationState is the slice of a Client record the rotation state
// machine reads and writes. It carries no store dependency — callers
// (ClientRegistry) are responsible for persisting the result.
type RotationState struct {
	Secret         string // hex
	LastSecret     string // hex
	SecretIssuedAt int64  // epoch ms; 0 = minted but not yet acknowledged
	PushRequestID  string
}

// NewNonce mints a fresh 32-byte hex secret.
func NewNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Changed reports whether an incoming token POST differs from the
// client's stored record in any of the ways that must trigger a forced
// rotation: no prior record, a different lastSecret, a different device
// token, a different appInfo string, or a flipped presence-logging flag.
func Changed(hasPriorRecord bool, storedLastSecret, receivedLastSecret, storedToken, receivedToken, storedAppInfo, receivedAppInfo string, storedPresenceLogging, receivedPresenceLogging bool) bool {
	if !hasPriorRecord {
		return true
	}
	if storedLastSecret != receivedLastSecret {
		return true
	}
	if storedToken != receivedToken {
		return true
	}
	if storedAppInfo != receivedAppInfo {
		return true
	}
	if storedPresenceLogging != receivedPresenceLogging {
		return true
	}
	return false
}

// Rotate runs the rotation state machine described in §4.1: it requires a
// device token to exist, and acts only when force is set, no secret is
// currently held, or the held secret was never acknowledged. A held but
// unacknowledged secret is resent unchanged; otherwise a new secret and
// pushRequestID are minted. didRotate reports whether a push needs to go
// out, and is true for both a resend and a fresh mint.
func Rotate(state RotationState, hasDeviceToken, force bool, newPushRequestID func() (string, error)) (next RotationState, didRotate bool, err error) {
	if !hasDeviceToken {
		return state, false, fmt.Errorf("auth: cannot rotate without a device token")
	}

	needsRotation := force || state.Secret == "" || state.SecretIssuedAt == 0
	if !needsRotation {
		return state, false, nil
	}

	if state.Secret != "" && state.SecretIssuedAt == 0 {
		// Unacknowledged secret: APNS may have duplicated the original
		// notification. Resend the same secret rather than minting a new
		// one so the client doesn't see two competing rotations.
		return state, true, nil
	}

	nonce, err := NewNonce()
	if err != nil {
		return state, false, err
	}
	pushID, err := newPushRequestID()
	if err != nil {
		return state, false, err
	}

	next = state
	next.Secret = nonce
	next.SecretIssuedAt = 0
	next.PushRequestID = pushID
	return next, true, nil
}

// Acknowledge records that a client has confirmed receipt of its current
// secret, closing the "unacknowledged" window.
func Acknowledge(state RotationState, receivedLastSecretHex string, nowMillis int64) RotationState {
	state.SecretIssuedAt = nowMillis
	state.LastSecret = receivedLastSecretHex
	return state
}
