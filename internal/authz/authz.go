// Package authz implements AuthzCache: short-TTL "first publisher wins"
// markers that control conversation ownership and transcription start,
// keyed on `ccc:{client}|{conv}[|{content}]`.
package authz

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/whisper-relay/internal/metrics"
	"github.com/snarg/whisper-relay/internal/store"
)

const (
	roleWhisper = "whisper"
	roleListen  = "listen"
)

type Cache struct {
	store          *store.Store
	log            zerolog.Logger
	whisperMarkTTL time.Duration
	listenMarkTTL  time.Duration
}

func New(s *store.Store, whisperMarkTTL, listenMarkTTL time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		store:          s,
		log:            log.With().Str("component", "authz").Logger(),
		whisperMarkTTL: whisperMarkTTL,
		listenMarkTTL:  listenMarkTTL,
	}
}

// ClaimWhisper performs the first-publisher-wins get-and-set for a
// (clientID, conversationID, contentID) triple. isNewSession is true only
// when this call observed no prior mark — the caller uses that to decide
// whether to run new-session side effects (create Conversation, save
// Profile, possibly start a Transcript).
func (c *Cache) ClaimWhisper(ctx context.Context, clientID, conversationID, contentID string) (isNewSession bool, err error) {
	key := c.key(clientID, conversationID, contentID)
	prior, err := c.store.GetSet(ctx, key, roleWhisper, c.whisperMarkTTL)
	if err != nil {
		c.log.Error().Err(err).Str("client_id", clientID).Str("conversation_id", conversationID).Msg("claim whisper failed")
		return false, err
	}
	isNewSession = prior == ""
	outcome := "hit"
	if isNewSession {
		outcome = "miss"
	}
	metrics.AuthzCacheResultsTotal.WithLabelValues(roleWhisper, outcome).Inc()
	c.log.Debug().Str("client_id", clientID).Str("conversation_id", conversationID).Bool("new_session", isNewSession).Msg("whisper claim")
	return isNewSession, nil
}

// MarkListen records a listener's authorization, purely informational —
// it never gates behavior, only observability.
func (c *Cache) MarkListen(ctx context.Context, clientID, conversationID string) error {
	key := c.key(clientID, conversationID, "")
	prior, err := c.store.GetSet(ctx, key, roleListen, c.listenMarkTTL)
	if err != nil {
		c.log.Error().Err(err).Str("client_id", clientID).Str("conversation_id", conversationID).Msg("mark listen failed")
		return err
	}
	outcome := "hit"
	if prior == "" {
		outcome = "miss"
	}
	metrics.AuthzCacheResultsTotal.WithLabelValues(roleListen, outcome).Inc()
	return nil
}

func (c *Cache) key(clientID, conversationID, contentID string) string {
	if contentID == "" {
		return c.store.Key("ccc", clientID+"|"+conversationID)
	}
	return c.store.Key("ccc", clientID+"|"+conversationID+"|"+contentID)
}
