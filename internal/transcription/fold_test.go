package transcription

import (
	"testing"

	"github.com/snarg/whisper-relay/internal/protocol"
)

func apply(s *FoldState, id string, offset int, text string) {
	s.Apply(id, protocol.ContentChunk{Offset: offset, Text: text})
}

func TestFoldBasicLineCommit(t *testing.T) {
	s := NewFoldState()
	apply(s, "", 0, "hello")
	apply(s, "", protocol.OffsetNewline, "")
	apply(s, "", 0, "world")

	got := s.Finalize()
	if got != "hello\nworld\n" {
		t.Errorf("got %q", got)
	}
	if s.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, want 0", s.ErrorCount)
	}
}

func TestFoldSpliceExtendsLive(t *testing.T) {
	s := NewFoldState()
	apply(s, "", 0, "hello")
	apply(s, "", 5, " world")

	got := s.Finalize()
	if got != "hello world\n" {
		t.Errorf("got %q", got)
	}
}

func TestFoldSpliceOverwritesMiddle(t *testing.T) {
	s := NewFoldState()
	apply(s, "", 0, "hello world")
	apply(s, "", 6, "there")

	got := s.Finalize()
	if got != "hello there\n" {
		t.Errorf("got %q", got)
	}
}

func TestFoldGapFillCountsError(t *testing.T) {
	s := NewFoldState()
	apply(s, "", 0, "hi")
	apply(s, "", 5, "bye") // gap of 3 runes between len("hi")=2 and offset 5

	got := s.Finalize()
	if got != "hi???bye\n" {
		t.Errorf("got %q", got)
	}
	if s.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", s.ErrorCount)
	}
}

func TestFoldPlaySoundIgnored(t *testing.T) {
	s := NewFoldState()
	apply(s, "", 0, "hi")
	apply(s, "", protocol.OffsetPlaySound, "")

	got := s.Finalize()
	if got != "hi\n" {
		t.Errorf("got %q", got)
	}
	if s.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, want 0", s.ErrorCount)
	}
}

func TestFoldUnhandledReservedOffsetCountsError(t *testing.T) {
	s := NewFoldState()
	apply(s, "", 0, "hi")
	apply(s, "", protocol.OffsetClearHistory, "")
	apply(s, "", protocol.OffsetLiveText, "")
	apply(s, "", protocol.OffsetStartReread, "")
	apply(s, "", protocol.OffsetPlaySpeech, "")

	s.Finalize()
	if s.ErrorCount != 4 {
		t.Errorf("ErrorCount = %d, want 4", s.ErrorCount)
	}
}

func TestFoldIdempotentOnRedeliveredChunks(t *testing.T) {
	// A handoff overlap window redelivers the same id-marked chunks to
	// the new worker; folding them again must not duplicate content.
	s := NewFoldState()
	apply(s, "msg-1", 0, "hello")
	apply(s, "msg-2", protocol.OffsetNewline, "")
	apply(s, "msg-1", 0, "hello") // redelivered, same id, still in the open prefix
	apply(s, "msg-2", protocol.OffsetNewline, "")

	got := s.Finalize()
	if got != "hello\n" {
		t.Errorf("got %q, want exactly one committed line", got)
	}
}

func TestFoldDedupesMarkedRunMidStream(t *testing.T) {
	// The normal handoff shape: content accrues unmarked before a
	// suspend/resume happens, so the overlap window's marked run lands
	// mid-stream rather than at the very start — it must still dedup.
	s := NewFoldState()
	apply(s, "", 0, "hello")
	apply(s, "", protocol.OffsetNewline, "")
	apply(s, "msg-1", 0, "world")
	apply(s, "msg-2", protocol.OffsetNewline, "")
	apply(s, "msg-1", 0, "world") // redelivered by the peer during handoff
	apply(s, "msg-2", protocol.OffsetNewline, "")

	got := s.Finalize()
	if got != "hello\nworld\n" {
		t.Errorf("got %q, want the mid-stream redelivery deduped", got)
	}
}

func TestFoldIdPrefixClosesOnFirstUnmarkedChunk(t *testing.T) {
	s := NewFoldState()
	apply(s, "msg-1", 0, "hello")
	apply(s, "", protocol.OffsetNewline, "") // unmarked chunk closes the overlap window
	apply(s, "msg-1", 0, "ignored-if-still-open")

	got := s.Finalize()
	if got != "hello\nignored-if-still-open\n" {
		t.Errorf("got %q, want the second msg-1 chunk to apply once the prefix is closed", got)
	}
}

func TestFoldFinalizeWithoutTrailingNewline(t *testing.T) {
	s := NewFoldState()
	apply(s, "", 0, "unterminated")

	got := s.Finalize()
	if got != "unterminated\n" {
		t.Errorf("got %q", got)
	}
}
