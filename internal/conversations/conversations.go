// Package conversations implements ConversationRegistry: conversation
// id -> {name, owner profile id}, with owner immutability enforced on
// every update.
package conversations

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/snarg/whisper-relay/internal/apierr"
	"github.com/snarg/whisper-relay/internal/store"
)

type Conversation struct {
	ID            string
	Name          string
	OwnerProfileID string
}

type Registry struct {
	store *store.Store
	log   zerolog.Logger
}

func New(s *store.Store, log zerolog.Logger) *Registry {
	return &Registry{store: s, log: log.With().Str("component", "conversations").Logger()}
}

func (r *Registry) Get(ctx context.Context, id string) (Conversation, bool, error) {
	fields, err := r.store.HGetAll(ctx, r.key(id))
	if err != nil {
		return Conversation{}, false, err
	}
	if fields == nil {
		return Conversation{}, false, nil
	}
	return Conversation{ID: id, Name: fields["name"], OwnerProfileID: fields["ownerProfileId"]}, true, nil
}

// CreateOrUpdate creates the conversation if it doesn't exist, or updates
// its name if it does — but refuses an owner change. A mismatched
// ownerProfileID on an existing conversation is a conflict per §6.
func (r *Registry) CreateOrUpdate(ctx context.Context, id, name, ownerProfileID string) (Conversation, error) {
	existing, ok, err := r.Get(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	if ok {
		if existing.OwnerProfileID != ownerProfileID {
			r.log.Warn().Str("conversation_id", id).Msg("owner mismatch on conversation update")
			return Conversation{}, apierr.Conflict("conversation owner cannot change")
		}
		if name != "" {
			existing.Name = name
		}
		if err := r.save(ctx, existing); err != nil {
			return Conversation{}, err
		}
		return existing, nil
	}

	conv := Conversation{ID: id, Name: name, OwnerProfileID: ownerProfileID}
	if err := r.save(ctx, conv); err != nil {
		return Conversation{}, err
	}
	r.log.Debug().Str("conversation_id", id).Msg("conversation created")
	return conv, nil
}

func (r *Registry) save(ctx context.Context, c Conversation) error {
	return r.store.HSet(ctx, r.key(c.ID), map[string]string{
		"name":           c.Name,
		"ownerProfileId": c.OwnerProfileID,
	})
}

func (r *Registry) key(id string) string {
	return r.store.Key("con", id)
}
