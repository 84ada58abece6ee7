package transcription

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/whisper-relay/internal/broker"
	"github.com/snarg/whisper-relay/internal/metrics"
	"github.com/snarg/whisper-relay/internal/protocol"
	"github.com/snarg/whisper-relay/internal/store"
)

// Transcript is the persisted record backing one Whisperer session's
// reconstructed text.
type Transcript struct {
	ID             string
	ConversationID string
	ContentID      string
	StartTime      int64
	Duration       int64
	Text           string
	ErrorCount     int
	Finalized      bool
}

// Options configures an Engine's handoff and retention behavior.
type Options struct {
	OverlapWindow  time.Duration // paired id-marker window at session start/suspend, ~5s
	TranscriptTTL  time.Duration
	ResumePoll     time.Duration // blocking pop timeout in resumeTranscriptions, ~10s
	SuspendWait    time.Duration // bounded wait confirming a peer on suspend, ~15-20s
	LookbackWindow time.Duration // getTranscriptsForConversation cutoff, ~30 days
}

func (o Options) withDefaults() Options {
	if o.OverlapWindow == 0 {
		o.OverlapWindow = 5 * time.Second
	}
	if o.TranscriptTTL == 0 {
		o.TranscriptTTL = 7 * 24 * time.Hour
	}
	if o.ResumePoll == 0 {
		o.ResumePoll = 10 * time.Second
	}
	if o.SuspendWait == 0 {
		o.SuspendWait = 15 * time.Second
	}
	if o.LookbackWindow == 0 {
		o.LookbackWindow = 30 * 24 * time.Hour
	}
	return o
}

const (
	serversListKey     = "servers-doing-transcription"
	suspendedListKey   = "suspended-transcript-ids"
	contentIDMarkerSep = "\x1f"
)

// worker is the local state for one actively-transcribed session.
type worker struct {
	transcriptID   string
	conversationID string
	contentID      string
	startTime      time.Time
	attachedAt     time.Time // when this process attached; opens the overlap window

	mu         sync.Mutex
	subscribed bool
}

// Engine attaches workers to active conversations and folds their
// content streams into persisted transcripts.
type Engine struct {
	store    *store.Store
	broker   *broker.Client
	log      zerolog.Logger
	serverID string
	opts     Options

	mu      sync.Mutex
	workers map[string]*worker

	suspendInProgress atomic.Bool
}

func NewEngine(s *store.Store, b *broker.Client, serverID string, opts Options, log zerolog.Logger) *Engine {
	return &Engine{
		store:    s,
		broker:   b,
		serverID: serverID,
		opts:     opts.withDefaults(),
		workers:  make(map[string]*worker),
		log:      log.With().Str("component", "transcription").Str("server_id", serverID).Logger(),
	}
}

func (e *Engine) transcriptKey(id string) string       { return e.store.Key("tra", id) }
func (e *Engine) contentListKey(id string) string      { return e.store.Key("tcp", id) }
func (e *Engine) transcriptListKey(conv string) string { return e.store.Key("cts", conv) }

// StartTranscript creates a Transcript record and attaches a local
// worker subscribed to the conversation's content and control channels.
func (e *Engine) StartTranscript(ctx context.Context, conversationID, contentID string) (string, error) {
	id := uuid.NewString()
	now := time.Now()

	t := Transcript{ID: id, ConversationID: conversationID, ContentID: contentID, StartTime: now.UnixMilli()}
	if err := e.saveTranscript(ctx, t); err != nil {
		return "", err
	}
	if err := e.store.Expire(ctx, e.transcriptKey(id), e.opts.TranscriptTTL); err != nil {
		e.log.Warn().Err(err).Str("transcript_id", id).Msg("failed to set transcript TTL")
	}

	if err := e.attachWorker(ctx, id, conversationID, contentID, now); err != nil {
		return "", err
	}
	e.log.Debug().Str("transcript_id", id).Str("conversation_id", conversationID).Msg("transcript started")
	return id, nil
}

// attachWorker subscribes a worker's content and control channels. Used
// both for a freshly started transcript and for one picked up by
// resumeTranscriptions.
func (e *Engine) attachWorker(ctx context.Context, transcriptID, conversationID, contentID string, startTime time.Time) error {
	w := &worker{
		transcriptID:   transcriptID,
		conversationID: conversationID,
		contentID:      contentID,
		startTime:      startTime,
		attachedAt:     time.Now(),
		subscribed:     true,
	}

	contentChannel := conversationID + ":" + contentID
	controlChannel := conversationID + ":control"

	if err := e.broker.Subscribe(ctx, contentChannel, func(_, messageID string, payload []byte) {
		e.onContent(w, messageID, string(payload))
	}); err != nil {
		return fmt.Errorf("transcription: subscribe content: %w", err)
	}
	if err := e.broker.Subscribe(ctx, controlChannel, func(_, _ string, payload []byte) {
		e.onControl(w, string(payload))
	}); err != nil {
		_ = e.broker.Unsubscribe(contentChannel)
		return fmt.Errorf("transcription: subscribe control: %w", err)
	}

	e.mu.Lock()
	e.workers[transcriptID] = w
	e.mu.Unlock()
	metrics.TranscriptionActiveWorkers.Set(float64(e.ActiveWorkerCount()))
	return nil
}

// ActiveWorkerCount reports how many transcripts this process currently
// has a local worker attached to. It satisfies metrics.EngineStats.
func (e *Engine) ActiveWorkerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

func (e *Engine) onContent(w *worker, messageID, raw string) {
	paired := e.suspendInProgress.Load() || time.Since(w.attachedAt) < e.opts.OverlapWindow
	entry := raw
	if paired {
		entry = "id:" + messageID + contentIDMarkerSep + raw
	}
	if err := e.store.LPush(context.Background(), e.contentListKey(w.transcriptID), entry); err != nil {
		e.log.Warn().Err(err).Str("transcript_id", w.transcriptID).Msg("failed to persist content chunk")
		return
	}
	metrics.TranscriptionChunksWrittenTotal.Inc()
}

func (e *Engine) onControl(w *worker, raw string) {
	chunk, err := protocol.ParseControl(raw)
	if err != nil {
		e.log.Debug().Err(err).Str("transcript_id", w.transcriptID).Msg("malformed control chunk")
		return
	}
	if !protocol.IsDropping(chunk) {
		return
	}

	w.mu.Lock()
	if !w.subscribed {
		w.mu.Unlock()
		return
	}
	w.subscribed = false
	w.mu.Unlock()

	if err := e.TerminateWorker(context.Background(), w.transcriptID); err != nil {
		e.log.Warn().Err(err).Str("transcript_id", w.transcriptID).Msg("failed to terminate worker on dropping")
	}
}

// TerminateWorker detaches a worker's channels and finalizes its
// transcript.
func (e *Engine) TerminateWorker(ctx context.Context, transcriptID string) error {
	e.mu.Lock()
	w, ok := e.workers[transcriptID]
	if ok {
		delete(e.workers, transcriptID)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	metrics.TranscriptionActiveWorkers.Set(float64(e.ActiveWorkerCount()))

	_ = e.broker.Unsubscribe(w.conversationID + ":" + w.contentID)
	_ = e.broker.Unsubscribe(w.conversationID + ":control")

	return e.finalize(ctx, w)
}

// finalize folds a worker's persisted content list into a transcript and
// either retains or deletes the record per the error-count rule.
func (e *Engine) finalize(ctx context.Context, w *worker) error {
	entries, err := e.store.LRange(ctx, e.contentListKey(w.transcriptID), 0, -1)
	if err != nil {
		return fmt.Errorf("transcription: read content list: %w", err)
	}

	state := NewFoldState()
	// entries are stored newest-first (LPush); fold chronologically.
	for i := len(entries) - 1; i >= 0; i-- {
		id, raw := splitMarker(entries[i])
		chunk, err := protocol.ParseContent(raw)
		if err != nil {
			state.ErrorCount++
			continue
		}
		state.Apply(id, chunk)
	}
	text := state.Finalize()

	duration := time.Since(w.startTime).Milliseconds()

	if state.ErrorCount == 0 {
		if err := e.store.Delete(ctx, e.contentListKey(w.transcriptID)); err != nil {
			e.log.Warn().Err(err).Str("transcript_id", w.transcriptID).Msg("failed to delete content list")
		}
	}

	t := Transcript{
		ID:             w.transcriptID,
		ConversationID: w.conversationID,
		ContentID:      w.contentID,
		StartTime:      w.startTime.UnixMilli(),
		Duration:       duration,
		Text:           text,
		ErrorCount:     state.ErrorCount,
		Finalized:      true,
	}

	if text == "" && state.ErrorCount == 0 {
		if err := e.store.Delete(ctx, e.transcriptKey(w.transcriptID)); err != nil {
			e.log.Warn().Err(err).Str("transcript_id", w.transcriptID).Msg("failed to delete empty transcript")
		}
		e.log.Debug().Str("transcript_id", w.transcriptID).Msg("empty transcript discarded")
		return nil
	}

	if err := e.saveTranscript(ctx, t); err != nil {
		return err
	}
	if err := e.store.LPush(ctx, e.transcriptListKey(w.conversationID), w.transcriptID); err != nil {
		e.log.Warn().Err(err).Str("transcript_id", w.transcriptID).Msg("failed to index transcript on conversation")
	}
	e.log.Debug().
		Str("transcript_id", w.transcriptID).
		Int("error_count", state.ErrorCount).
		Int64("duration_ms", duration).
		Msg("transcript finalized")
	return nil
}

func splitMarker(entry string) (id, raw string) {
	for i := 0; i+len(contentIDMarkerSep) <= len(entry); i++ {
		if entry[i:i+len(contentIDMarkerSep)] == contentIDMarkerSep {
			return entry[:i], entry[i+len(contentIDMarkerSep):]
		}
	}
	return "", entry
}

// SuspendTranscriptions begins graceful shutdown handoff: it stops
// advertising this server, confirms a peer is still available, and
// pushes every still-active local transcript onto the shared handoff
// queue before detaching.
func (e *Engine) SuspendTranscriptions(ctx context.Context) {
	e.suspendInProgress.Store(true)
	if err := e.store.LRem(ctx, e.store.Key(serversListKey), e.serverID); err != nil {
		e.log.Warn().Err(err).Msg("failed to remove self from servers-doing-transcription")
	}

	e.mu.Lock()
	active := make([]*worker, 0, len(e.workers))
	for _, w := range e.workers {
		active = append(active, w)
	}
	e.mu.Unlock()

	if len(active) == 0 {
		e.log.Info().Msg("suspend: no local transcripts to hand off")
		return
	}

	peer, found, err := e.store.BRPopLPush(ctx, e.store.Key(serversListKey), e.store.Key(serversListKey), e.opts.SuspendWait)
	if err != nil || !found {
		e.log.Warn().Err(err).Msg("suspend: no peer confirmed available within the bounded wait")
	} else {
		e.log.Info().Str("peer_server_id", peer).Msg("suspend: peer confirmed, handing off")
	}

	for _, w := range active {
		if err := e.store.LPush(ctx, e.store.Key(suspendedListKey), w.transcriptID); err != nil {
			e.log.Warn().Err(err).Str("transcript_id", w.transcriptID).Msg("failed to queue transcript for handoff")
			continue
		}
		metrics.TranscriptionHandoffsTotal.WithLabelValues("suspend").Inc()
	}

	time.Sleep(e.opts.OverlapWindow)

	for _, w := range active {
		if err := e.TerminateWorker(ctx, w.transcriptID); err != nil {
			e.log.Warn().Err(err).Str("transcript_id", w.transcriptID).Msg("failed to detach during suspend")
		}
	}
}

// ResumeTranscriptions advertises this server and loops picking up
// handed-off transcripts until suspendInProgress is set. It is meant to
// run on a dedicated background goroutine for the process lifetime.
func (e *Engine) ResumeTranscriptions(ctx context.Context) {
	if err := e.store.RPush(ctx, e.store.Key(serversListKey), e.serverID); err != nil {
		e.log.Warn().Err(err).Msg("failed to advertise server for transcription handoff")
	}

	processingKey := e.store.Key("resuming", e.serverID)

	for {
		if e.suspendInProgress.Load() {
			return
		}
		if ctx.Err() != nil {
			return
		}

		id, found, err := e.store.BRPopLPush(ctx, e.store.Key(suspendedListKey), processingKey, e.opts.ResumePoll)
		if err != nil {
			e.log.Warn().Err(err).Msg("resume: blocking pop failed")
			continue
		}
		if !found {
			continue
		}

		if e.suspendInProgress.Load() {
			if err := e.store.LPush(ctx, e.store.Key(suspendedListKey), id); err != nil {
				e.log.Warn().Err(err).Str("transcript_id", id).Msg("failed to re-queue in-flight transcript on suspend")
			}
			_ = e.store.LRem(ctx, processingKey, id)
			return
		}

		e.resumeOne(ctx, id)
		metrics.TranscriptionHandoffsTotal.WithLabelValues("resume").Inc()
		_ = e.store.LRem(ctx, processingKey, id)
	}
}

func (e *Engine) resumeOne(ctx context.Context, transcriptID string) {
	t, found, err := e.GetTranscript(ctx, transcriptID)
	if err != nil {
		e.log.Warn().Err(err).Str("transcript_id", transcriptID).Msg("resume: failed to load transcript")
		return
	}
	if !found {
		e.log.Debug().Str("transcript_id", transcriptID).Msg("resume: transcript expired before pickup")
		return
	}
	if t.Finalized {
		e.log.Debug().Str("transcript_id", transcriptID).Msg("resume: transcript already finalized")
		return
	}
	startTime := time.UnixMilli(t.StartTime)
	if err := e.attachWorker(ctx, t.ID, t.ConversationID, t.ContentID, startTime); err != nil {
		e.log.Warn().Err(err).Str("transcript_id", transcriptID).Msg("resume: failed to attach worker")
		return
	}
	e.log.Info().Str("transcript_id", transcriptID).Msg("resume: picked up transcript")
}

// GetTranscript loads a Transcript record.
func (e *Engine) GetTranscript(ctx context.Context, id string) (Transcript, bool, error) {
	fields, err := e.store.HGetAll(ctx, e.transcriptKey(id))
	if err != nil {
		return Transcript{}, false, fmt.Errorf("transcription: get %s: %w", id, err)
	}
	if fields == nil {
		return Transcript{}, false, nil
	}
	return decodeTranscript(id, fields), true, nil
}

// ListTranscripts implements getTranscriptsForConversation: it prunes
// expired entries from the conversation's index, stops at the lookback
// cutoff, rewrites the index to live entries only, and returns the
// remainder sorted newest-first.
func (e *Engine) ListTranscripts(ctx context.Context, conversationID string) ([]Transcript, error) {
	ids, err := e.store.LRange(ctx, e.transcriptListKey(conversationID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("transcription: list transcripts for %s: %w", conversationID, err)
	}

	cutoff := time.Now().Add(-e.opts.LookbackWindow).UnixMilli()
	live := make([]string, 0, len(ids))
	transcripts := make([]Transcript, 0, len(ids))

	for _, id := range ids {
		t, found, err := e.GetTranscript(ctx, id)
		if err != nil {
			e.log.Warn().Err(err).Str("transcript_id", id).Msg("list: failed to load transcript")
			continue
		}
		if !found {
			continue // expired; dropped from the rewritten index
		}
		if t.StartTime < cutoff {
			break // list is newest-first; everything past this point is older still
		}
		live = append(live, id)
		transcripts = append(transcripts, t)
	}

	if err := e.store.Trim(ctx, e.transcriptListKey(conversationID), live); err != nil {
		e.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to rewrite transcript index")
	}

	sort.SliceStable(transcripts, func(i, j int) bool { return transcripts[i].StartTime > transcripts[j].StartTime })
	return transcripts, nil
}

func (e *Engine) saveTranscript(ctx context.Context, t Transcript) error {
	if err := e.store.HSet(ctx, e.transcriptKey(t.ID), encodeTranscript(t)); err != nil {
		return fmt.Errorf("transcription: save %s: %w", t.ID, err)
	}
	return nil
}
