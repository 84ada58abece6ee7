// Package protocol implements the pipe-delimited, signed-integer-offset
// wire encoding used on the realtime broker's content and control
// channels. It only parses and emits frames; folding the content stream
// into a transcript is the transcription engine's job.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Reserved content-chunk offsets. Non-negative offsets are diff positions
// into the live line and are not named constants here.
const (
	OffsetNewline      = -1
	OffsetPastText     = -2
	OffsetLiveText     = -3
	OffsetStartReread  = -4
	OffsetClearHistory = -6
	OffsetPlaySound    = -7
	OffsetPlaySpeech   = -8
)

// Reserved control-chunk offsets.
const (
	OffsetWhisperOffer  = -20
	OffsetListenRequest = -21
	OffsetListenAuthYes = -22
	OffsetListenAuthNo  = -23
	OffsetJoining       = -24
	OffsetDropping      = -25
	OffsetListenOffer   = -26
	OffsetRestart       = -27
	OffsetRequestReread = -40
)

var validContentOffsets = map[int]bool{
	OffsetNewline:      true,
	OffsetPastText:     true,
	OffsetLiveText:     true,
	OffsetStartReread:  true,
	OffsetClearHistory: true,
	OffsetPlaySound:    true,
	OffsetPlaySpeech:   true,
}

var validControlOffsets = map[int]bool{
	OffsetWhisperOffer:  true,
	OffsetListenRequest: true,
	OffsetListenAuthYes: true,
	OffsetListenAuthNo:  true,
	OffsetJoining:       true,
	OffsetDropping:      true,
	OffsetListenOffer:   true,
	OffsetRestart:       true,
	OffsetRequestReread: true,
}

// ContentChunk is a single frame on a `{conv}:{content}` channel.
type ContentChunk struct {
	Offset int
	Text   string
}

// ControlChunk is a single frame on a `{conv}:control` channel.
type ControlChunk struct {
	Offset           int
	ConversationID   string
	ConversationName string
	ClientID         string
	ProfileID        string
	Username         string
	ContentID        string
}

// ErrMalformed is wrapped by every rejection ParseContent/ParseControl
// produce, so callers can recognize protocol corruption without string
// matching.
type ErrMalformed struct {
	Reason string
}

func (e *ErrMalformed) Error() string { return "malformed chunk: " + e.Reason }

// ParseContent decodes `"<offset>|<text>"`. Text may itself contain pipe
// characters; only the first separator splits the frame. An offset that
// parses but is a negative value outside the reserved set is rejected —
// it is neither a diff position nor a known control code.
func ParseContent(raw string) (ContentChunk, error) {
	parts := strings.SplitN(raw, "|", 2)
	if len(parts) != 2 {
		return ContentChunk{}, &ErrMalformed{Reason: fmt.Sprintf("expected offset|text, got %q", raw)}
	}
	offset, err := strconv.Atoi(parts[0])
	if err != nil {
		return ContentChunk{}, &ErrMalformed{Reason: fmt.Sprintf("non-numeric offset %q", parts[0])}
	}
	if offset < 0 && !validContentOffsets[offset] {
		return ContentChunk{}, &ErrMalformed{Reason: fmt.Sprintf("unrecognized negative offset %d", offset)}
	}
	return ContentChunk{Offset: offset, Text: parts[1]}, nil
}

// EmitContent renders a ContentChunk back to its wire form.
func EmitContent(c ContentChunk) string {
	return strconv.Itoa(c.Offset) + "|" + c.Text
}

// ParseControl decodes the 7-field presence/handshake frame. Every field
// is required and none may itself contain a pipe, since the frame has no
// other delimiter to fall back on.
func ParseControl(raw string) (ControlChunk, error) {
	parts := strings.Split(raw, "|")
	if len(parts) != 7 {
		return ControlChunk{}, &ErrMalformed{Reason: fmt.Sprintf("expected 7 fields, got %d", len(parts))}
	}
	offset, err := strconv.Atoi(parts[0])
	if err != nil {
		return ControlChunk{}, &ErrMalformed{Reason: fmt.Sprintf("non-numeric offset %q", parts[0])}
	}
	if !validControlOffsets[offset] {
		return ControlChunk{}, &ErrMalformed{Reason: fmt.Sprintf("unrecognized control offset %d", offset)}
	}
	return ControlChunk{
		Offset:           offset,
		ConversationID:   parts[1],
		ConversationName: parts[2],
		ClientID:         parts[3],
		ProfileID:        parts[4],
		Username:         parts[5],
		ContentID:        parts[6],
	}, nil
}

// EmitControl renders a ControlChunk back to its wire form.
func EmitControl(c ControlChunk) string {
	fields := []string{
		strconv.Itoa(c.Offset),
		c.ConversationID,
		c.ConversationName,
		c.ClientID,
		c.ProfileID,
		c.Username,
		c.ContentID,
	}
	return strings.Join(fields, "|")
}

// IsDropping reports whether a control chunk signals the Whisperer has
// left the conversation.
func IsDropping(c ControlChunk) bool {
	return c.Offset == OffsetDropping
}
