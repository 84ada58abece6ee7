// Package transcription attaches server-side workers to active
// conversations: they subscribe to the realtime content stream,
// reconstruct the authored text from the offset-based diff protocol, and
// persist the result with a bounded lifetime and cross-process handoff.
package transcription

import (
	"strings"

	"github.com/snarg/whisper-relay/internal/protocol"
)

// FoldState is the accumulator a transcript builds as content chunks
// arrive. Past is the committed, newline-terminated transcript text;
// Live is the in-progress line a Whisperer is still editing.
type FoldState struct {
	Past       strings.Builder
	Live       []rune
	ErrorCount int

	// idRunOpen tracks whether the chunk stream is inside a contiguous
	// run of id-marked chunks; an overlap window pairs duplicate ids
	// across old/new workers during handoff, and a run can open and
	// close more than once per session, wherever a marked run follows
	// unmarked content. seenIDs is cleared at the start of each run.
	idRunOpen bool
	seenIDs   map[string]bool
}

// NewFoldState returns a fresh accumulator.
func NewFoldState() *FoldState {
	return &FoldState{seenIDs: make(map[string]bool)}
}

// Apply folds one content chunk into the state. id, when non-empty,
// names the chunk for overlap-window dedup during a worker handoff; a
// chunk whose id has already been seen earlier in the current id-marked
// run is dropped without mutating state. An unmarked chunk closes any
// open run; the next marked chunk opens a fresh one with an empty
// seenIDs set.
func (s *FoldState) Apply(id string, chunk protocol.ContentChunk) {
	if id == "" {
		s.idRunOpen = false
	} else {
		if !s.idRunOpen {
			s.idRunOpen = true
			s.seenIDs = make(map[string]bool)
		}
		if s.seenIDs[id] {
			return
		}
		s.seenIDs[id] = true
	}

	switch {
	case chunk.Offset == protocol.OffsetPlaySound:
		return
	case chunk.Offset == protocol.OffsetNewline:
		s.commitLine()
	case chunk.Offset == 0:
		s.Live = []rune(chunk.Text)
	case chunk.Offset > 0:
		s.splice(chunk.Offset, chunk.Text)
	default:
		// playSpeech, liveText, startReread, clearHistory, and any other
		// reserved-but-unhandled offset: no transcript-shaping effect,
		// counted so operators can see how often it happens.
		s.ErrorCount++
	}
}

// commitLine moves the live line into Past, terminated with a newline,
// and resets Live for the next line.
func (s *FoldState) commitLine() {
	s.Past.WriteString(string(s.Live))
	s.Past.WriteByte('\n')
	s.Live = nil
}

// splice writes text into Live starting at offset, filling any gap
// between the current end of Live and offset with "?" and counting it
// as an error — a gap means an earlier chunk in the sequence was lost.
func (s *FoldState) splice(offset int, text string) {
	if offset > len(s.Live) {
		gap := offset - len(s.Live)
		for i := 0; i < gap; i++ {
			s.Live = append(s.Live, '?')
		}
		s.ErrorCount++
	}
	runes := []rune(text)
	end := offset + len(runes)
	if end > len(s.Live) {
		grown := make([]rune, end)
		copy(grown, s.Live)
		s.Live = grown
	}
	copy(s.Live[offset:end], runes)
}

// Finalize folds any still-open live line into Past and returns the
// complete transcript text.
func (s *FoldState) Finalize() string {
	if len(s.Live) > 0 {
		s.commitLine()
	}
	return s.Past.String()
}
