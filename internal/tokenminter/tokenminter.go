// Package tokenminter signs capability token requests for the realtime
// broker, scoping channels per conversation and activity the way §4.3
// describes.
package tokenminter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Capability is the permission set a channel grants: publish, subscribe,
// presence.
type Capability string

const (
	CapPublish   Capability = "publish"
	CapSubscribe Capability = "subscribe"
	CapPresence  Capability = "presence"
)

// TokenRequest is the signed, timestamped payload the broker exchanges
// for a short-lived access token.
type TokenRequest struct {
	ClientID     string                  `json:"clientId"`
	Capabilities map[string][]Capability `json:"capability"`
	Timestamp    int64                   `json:"timestamp"`
	Nonce        string                  `json:"nonce"`
	MAC          string                  `json:"mac"`
}

// WhisperCapabilities builds the channel map a Whisperer publishing
// (conversationID, contentID) is granted.
func WhisperCapabilities(conversationID, contentID string) map[string][]Capability {
	return map[string][]Capability{
		conversationID + ":control":     {CapPublish, CapSubscribe, CapPresence},
		conversationID + ":" + contentID: {CapPublish},
	}
}

// ListenCapabilities builds the channel map a Listener subscribing to
// conversationID is granted.
func ListenCapabilities(conversationID string) map[string][]Capability {
	return map[string][]Capability{
		conversationID + ":control": {CapPublish, CapSubscribe, CapPresence},
		conversationID + ":*":       {CapSubscribe},
	}
}

// LegacyWhisperCapabilities builds the channel map for the legacy
// peer-to-peer "whisper" channel.
func LegacyWhisperCapabilities(peerID string) map[string][]Capability {
	return map[string][]Capability{
		peerID + ":whisper": {CapPublish, CapSubscribe, CapPresence},
	}
}

// Minter signs capability token requests with the configured broker key.
type Minter struct {
	key []byte
}

func New(brokerKey string) *Minter {
	return &Minter{key: []byte(brokerKey)}
}

// Mint signs a TokenRequest for clientID over the given capability map.
// The caller supplies nonce, so tests can be deterministic.
func (m *Minter) Mint(clientID string, capabilities map[string][]Capability, now time.Time, nonce string) (TokenRequest, error) {
	req := TokenRequest{
		ClientID:     clientID,
		Capabilities: capabilities,
		Timestamp:    now.UnixMilli(),
		Nonce:        nonce,
	}
	mac, err := m.sign(req)
	if err != nil {
		return TokenRequest{}, err
	}
	req.MAC = mac
	return req, nil
}

// Marshal renders a TokenRequest to the stringified form the HTTP surface
// returns as `tokenRequest`.
func Marshal(req TokenRequest) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("tokenminter: marshal request: %w", err)
	}
	return string(b), nil
}

func (m *Minter) sign(req TokenRequest) (string, error) {
	signable := req
	signable.MAC = ""
	payload, err := json.Marshal(signable)
	if err != nil {
		return "", fmt.Errorf("tokenminter: marshal for signing: %w", err)
	}
	mac := hmac.New(sha256.New, m.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a TokenRequest's MAC against the configured broker key.
func (m *Minter) Verify(req TokenRequest) bool {
	expected, err := m.sign(req)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(req.MAC))
}
