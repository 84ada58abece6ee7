// Package clients implements ClientRegistry: the store-backed record of
// every mobile client's device token, secret pair, and last-seen state,
// plus the 250ms duplicate-POST suppression cache that absorbs APNS
// re-delivery.
package clients

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/whisper-relay/internal/auth"
	"github.com/snarg/whisper-relay/internal/metrics"
	"github.com/snarg/whisper-relay/internal/store"
)

// Client is the typed view of a `cli:{id}` hash record.
type Client struct {
	ID             string
	DeviceToken    string // hex
	Secret         string // hex
	LastSecret     string // hex
	SecretIssuedAt int64  // epoch ms
	PushRequestID  string
	AppInfo        string
	UserName       string
	ProfileID      string
	LastLaunch      int64
	PresenceLogging bool
}

func (c Client) rotationState() auth.RotationState {
	return auth.RotationState{
		Secret:         c.Secret,
		LastSecret:     c.LastSecret,
		SecretIssuedAt: c.SecretIssuedAt,
		PushRequestID:  c.PushRequestID,
	}
}

func (c *Client) applyRotationState(s auth.RotationState) {
	c.Secret = s.Secret
	c.LastSecret = s.LastSecret
	c.SecretIssuedAt = s.SecretIssuedAt
	c.PushRequestID = s.PushRequestID
}

// Registry is the store-backed ClientRegistry.
type Registry struct {
	store *store.Store
	log   zerolog.Logger
}

func New(s *store.Store, log zerolog.Logger) *Registry {
	return &Registry{store: s, log: log.With().Str("component", "clients").Logger()}
}

// Get loads a client record. ok is false if no record exists yet.
func (r *Registry) Get(ctx context.Context, clientID string) (Client, bool, error) {
	fields, err := r.store.HGetAll(ctx, r.key(clientID))
	if err != nil {
		r.log.Error().Err(err).Str("client_id", clientID).Msg("get client failed")
		return Client{}, false, err
	}
	if fields == nil {
		return Client{}, false, nil
	}
	c := Client{
		ID:              clientID,
		DeviceToken:     fields["deviceToken"],
		Secret:          fields["secret"],
		LastSecret:      fields["lastSecret"],
		SecretIssuedAt:  parseInt64(fields["secretIssuedAt"]),
		PushRequestID:   fields["pushRequestId"],
		AppInfo:         fields["appInfo"],
		UserName:        fields["userName"],
		ProfileID:       fields["profileId"],
		LastLaunch:      parseInt64(fields["lastLaunch"]),
		PresenceLogging: fields["presenceLogging"] == "true",
	}
	r.log.Debug().Str("client_id", clientID).Msg("client loaded")
	return c, true, nil
}

// Save persists every field of a client record.
func (r *Registry) Save(ctx context.Context, c Client) error {
	err := r.store.HSet(ctx, r.key(c.ID), map[string]string{
		"deviceToken":     c.DeviceToken,
		"secret":          c.Secret,
		"lastSecret":      c.LastSecret,
		"secretIssuedAt":  strconv.FormatInt(c.SecretIssuedAt, 10),
		"pushRequestId":   c.PushRequestID,
		"appInfo":         c.AppInfo,
		"userName":        c.UserName,
		"profileId":       c.ProfileID,
		"lastLaunch":      strconv.FormatInt(c.LastLaunch, 10),
		"presenceLogging": strconv.FormatBool(c.PresenceLogging),
	})
	if err != nil {
		r.log.Error().Err(err).Str("client_id", c.ID).Msg("save client failed")
		return err
	}
	r.log.Debug().Str("client_id", c.ID).Msg("client saved")
	return nil
}

// OnboardResult reports what happened processing an incoming token POST.
type OnboardResult struct {
	Client          Client
	DidRotate       bool
	ReceivedEarlier bool
}

// Onboard implements the §4.1 rotation protocol end to end: duplicate-POST
// suppression, change detection, and the force-rotation call. newPushID is
// injected so tests can make push ids deterministic.
func (r *Registry) Onboard(ctx context.Context, clientID, deviceToken, lastSecret, appInfo, userName string, presenceLogging bool, dedupWindow time.Duration, now time.Time, newPushID func() (string, error)) (OnboardResult, error) {
	dedupKey := r.store.Key("apns", clientID+"|"+deviceToken)
	set, err := r.store.SetNX(ctx, dedupKey, "1", dedupWindow)
	if err != nil {
		return OnboardResult{}, err
	}
	if !set {
		existing, ok, err := r.Get(ctx, clientID)
		if err != nil {
			return OnboardResult{}, err
		}
		if !ok {
			existing = Client{ID: clientID}
		}
		return OnboardResult{Client: existing, ReceivedEarlier: true}, nil
	}

	existing, hadPrior, err := r.Get(ctx, clientID)
	if err != nil {
		return OnboardResult{}, err
	}
	if !hadPrior {
		existing = Client{ID: clientID}
	}

	changed := auth.Changed(hadPrior, existing.LastSecret, lastSecret, existing.DeviceToken, deviceToken,
		existing.AppInfo, appInfo, existing.PresenceLogging, presenceLogging)

	existing.DeviceToken = deviceToken
	existing.LastSecret = lastSecret
	existing.AppInfo = appInfo
	existing.PresenceLogging = presenceLogging
	if userName != "" {
		existing.UserName = userName
	}
	existing.LastLaunch = now.UnixMilli()

	didRotate := false
	if changed {
		prevSecret := existing.Secret
		next, rotated, err := auth.Rotate(existing.rotationState(), existing.DeviceToken != "", true, newPushID)
		if err != nil {
			return OnboardResult{}, err
		}
		existing.applyRotationState(next)
		didRotate = rotated
		if next.Secret != prevSecret {
			metrics.RotationEventsTotal.WithLabelValues("minted").Inc()
		} else {
			metrics.RotationEventsTotal.WithLabelValues("resent").Inc()
		}
	} else {
		metrics.RotationEventsTotal.WithLabelValues("noop").Inc()
	}

	if err := r.Save(ctx, existing); err != nil {
		return OnboardResult{}, err
	}

	r.log.Debug().Str("client_id", clientID).Bool("changed", changed).Bool("did_rotate", didRotate).Msg("client onboarded")
	return OnboardResult{Client: existing, DidRotate: didRotate}, nil
}

// Acknowledge records rotation acknowledgment for a client.
func (r *Registry) Acknowledge(ctx context.Context, clientID, lastSecret string, now time.Time) error {
	c, ok, err := r.Get(ctx, clientID)
	if err != nil {
		return err
	}
	if !ok {
		r.log.Warn().Str("client_id", clientID).Msg("acknowledge for unknown client")
		return nil
	}
	acked := auth.Acknowledge(c.rotationState(), lastSecret, now.UnixMilli())
	c.applyRotationState(acked)
	return r.Save(ctx, c)
}

func (r *Registry) key(clientID string) string {
	return r.store.Key("cli", clientID)
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
