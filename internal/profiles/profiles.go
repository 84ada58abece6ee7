// Package profiles implements the authenticated, versioned preference
// sync service: a Profile carries a {user,whisper,listen,settings,
// favorites} sub-profile, each with its own body and timestamp, plus an
// optional shared-access password.
package profiles

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/rs/zerolog"

	"github.com/snarg/whisper-relay/internal/apierr"
	"github.com/snarg/whisper-relay/internal/store"
)

// Kind names one of the five sub-profiles a Profile carries.
type Kind string

const (
	KindUser      Kind = "user"
	KindWhisper   Kind = "whisper"
	KindListen    Kind = "listen"
	KindSettings  Kind = "settings"
	KindFavorites Kind = "favorites"
)

func (k Kind) valid() bool {
	switch k {
	case KindUser, KindWhisper, KindListen, KindSettings, KindFavorites:
		return true
	}
	return false
}

// SubProfile is one kind's stored body plus its concurrency markers.
type SubProfile struct {
	Body      string
	Timestamp int64
	ETag      string
}

// Profile is the full record behind a profile id.
type Profile struct {
	ID           string
	Name         string
	PasswordHash string // bcrypt hash; empty means not shared
	SubProfiles  map[Kind]SubProfile
	LastUsed     int64
}

// IsShared reports whether access requires the profile password.
func (p Profile) IsShared() bool {
	return p.PasswordHash != ""
}

// Registry persists Profiles in the shared store.
type Registry struct {
	store *store.Store
	log   zerolog.Logger
}

func New(s *store.Store, log zerolog.Logger) *Registry {
	return &Registry{store: s, log: log.With().Str("component", "profiles").Logger()}
}

func (r *Registry) key(profileID string) string {
	return r.store.Key("pro", profileID)
}

// Get loads a Profile, returning found=false if it does not exist yet.
func (r *Registry) Get(ctx context.Context, profileID string) (Profile, bool, error) {
	fields, err := r.store.HGetAll(ctx, r.key(profileID))
	if err != nil {
		r.log.Warn().Err(err).Str("profile_id", profileID).Msg("profile lookup failed")
		return Profile{}, false, fmt.Errorf("profiles: get %s: %w", profileID, err)
	}
	if fields == nil {
		return Profile{}, false, nil
	}
	return decodeProfile(profileID, fields), true, nil
}

// GetSubProfile returns a single sub-profile, found=false if the kind was
// never written.
func (r *Registry) GetSubProfile(ctx context.Context, profileID string, kind Kind) (SubProfile, bool, error) {
	if !kind.valid() {
		return SubProfile{}, false, apierr.New(apierr.KindBadInput, "unknown profile kind")
	}
	profile, found, err := r.Get(ctx, profileID)
	if err != nil {
		return SubProfile{}, false, err
	}
	if !found {
		return SubProfile{}, false, nil
	}
	sub, ok := profile.SubProfiles[kind]
	return sub, ok, nil
}

// PutInput describes one CRUD write against a sub-profile.
type PutInput struct {
	ProfileID       string
	Kind            Kind
	Body            string
	ClientTimestamp int64
	IfNoneMatch     string // ETag the caller last saw; "*" means "only if absent"
	Password        string // required when the profile is shared
	Name            string // optional display name to upsert alongside the write
}

// Put writes a sub-profile body, enforcing timestamp-ordered concurrency
// and ETag preconditions. A stale ClientTimestamp returns a Conflict
// (409) without writing; a matching If-None-Match returns a
// PreconditionFailed (412) without writing.
func (r *Registry) Put(ctx context.Context, in PutInput) (SubProfile, error) {
	if !in.Kind.valid() {
		return SubProfile{}, apierr.New(apierr.KindBadInput, "unknown profile kind")
	}

	profile, found, err := r.Get(ctx, in.ProfileID)
	if err != nil {
		return SubProfile{}, err
	}
	if !found {
		profile = Profile{ID: in.ProfileID, SubProfiles: make(map[Kind]SubProfile)}
	}

	if err := r.CheckAccess(profile, in.Password); err != nil {
		return SubProfile{}, err
	}

	existing, hadSub := profile.SubProfiles[in.Kind]
	if in.IfNoneMatch != "" {
		if in.IfNoneMatch == "*" && hadSub {
			return SubProfile{}, apierr.New(apierr.KindPreconditionFailed, "profile already exists")
		}
		if hadSub && in.IfNoneMatch == existing.ETag {
			return SubProfile{}, apierr.New(apierr.KindPreconditionFailed, "profile not modified")
		}
	}
	if hadSub && in.ClientTimestamp <= existing.Timestamp {
		r.log.Warn().
			Str("profile_id", in.ProfileID).
			Str("kind", string(in.Kind)).
			Int64("stored_ts", existing.Timestamp).
			Int64("client_ts", in.ClientTimestamp).
			Msg("stale profile write rejected")
		return SubProfile{}, apierr.New(apierr.KindConflict, "stale profile timestamp")
	}

	sub := SubProfile{Body: in.Body, Timestamp: in.ClientTimestamp, ETag: computeETag(in.Body, in.ClientTimestamp)}
	profile.SubProfiles[in.Kind] = sub
	if in.Name != "" {
		profile.Name = in.Name
	}

	if err := r.save(ctx, profile); err != nil {
		return SubProfile{}, err
	}
	r.log.Debug().Str("profile_id", in.ProfileID).Str("kind", string(in.Kind)).Msg("profile written")
	return sub, nil
}

// SetUsername upserts the profile's display name, creating the profile
// if it does not exist.
func (r *Registry) SetUsername(ctx context.Context, profileID, username string) error {
	profile, found, err := r.Get(ctx, profileID)
	if err != nil {
		return err
	}
	if !found {
		profile = Profile{ID: profileID, SubProfiles: make(map[Kind]SubProfile)}
	}
	profile.Name = username
	if err := r.save(ctx, profile); err != nil {
		return err
	}
	r.log.Debug().Str("profile_id", profileID).Msg("username upserted")
	return nil
}

// Share assigns a password to a profile, turning it into a shared
// profile. Reassigning a different password to an already-shared
// profile is a Conflict — the first share wins.
func (r *Registry) Share(ctx context.Context, profileID, password string) error {
	profile, found, err := r.Get(ctx, profileID)
	if err != nil {
		return err
	}
	if !found {
		profile = Profile{ID: profileID, SubProfiles: make(map[Kind]SubProfile)}
	}
	if profile.IsShared() {
		if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)); err != nil {
			r.log.Warn().Str("profile_id", profileID).Msg("duplicate share rejected")
			return apierr.New(apierr.KindConflict, "profile already shared with a different password")
		}
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("profiles: hash password: %w", err)
	}
	profile.PasswordHash = string(hash)
	if err := r.save(ctx, profile); err != nil {
		return err
	}
	r.log.Debug().Str("profile_id", profileID).Msg("profile shared")
	return nil
}

// CheckAccess verifies password against a shared profile's stored hash. A
// non-shared profile requires no password.
func (r *Registry) CheckAccess(profile Profile, password string) error {
	if !profile.IsShared() {
		return nil
	}
	if password == "" {
		return apierr.New(apierr.KindUnauthorized, "shared profile requires a password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)); err != nil {
		return apierr.New(apierr.KindUnauthorized, "wrong profile password")
	}
	return nil
}

func (r *Registry) save(ctx context.Context, p Profile) error {
	fields := encodeProfile(p)
	if err := r.store.HSet(ctx, r.key(p.ID), fields); err != nil {
		return fmt.Errorf("profiles: save %s: %w", p.ID, err)
	}
	return nil
}

func computeETag(body string, timestamp int64) string {
	sum := sha256.Sum256([]byte(body + "|" + strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(sum[:8])
}

func encodeProfile(p Profile) map[string]string {
	fields := map[string]string{
		"name":     p.Name,
		"password": p.PasswordHash,
		"lastUsed": strconv.FormatInt(p.LastUsed, 10),
	}
	for kind, sub := range p.SubProfiles {
		fields[string(kind)+"Body"] = sub.Body
		fields[string(kind)+"Timestamp"] = strconv.FormatInt(sub.Timestamp, 10)
		fields[string(kind)+"ETag"] = sub.ETag
	}
	return fields
}

func decodeProfile(id string, fields map[string]string) Profile {
	p := Profile{
		ID:           id,
		Name:         fields["name"],
		PasswordHash: fields["password"],
		LastUsed:     parseInt64(fields["lastUsed"]),
		SubProfiles:  make(map[Kind]SubProfile),
	}
	for _, kind := range []Kind{KindUser, KindWhisper, KindListen, KindSettings, KindFavorites} {
		body, ok := fields[string(kind)+"Body"]
		if !ok {
			continue
		}
		p.SubProfiles[kind] = SubProfile{
			Body:      body,
			Timestamp: parseInt64(fields[string(kind)+"Timestamp"]),
			ETag:      fields[string(kind)+"ETag"],
		}
	}
	return p
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
