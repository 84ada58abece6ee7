package transcription

import "strconv"

func encodeTranscript(t Transcript) map[string]string {
	return map[string]string{
		"conversationId": t.ConversationID,
		"contentId":      t.ContentID,
		"startTime":      strconv.FormatInt(t.StartTime, 10),
		"duration":       strconv.FormatInt(t.Duration, 10),
		"text":           t.Text,
		"errorCount":     strconv.Itoa(t.ErrorCount),
		"finalized":      strconv.FormatBool(t.Finalized),
	}
}

func decodeTranscript(id string, fields map[string]string) Transcript {
	errorCount, _ := strconv.Atoi(fields["errorCount"])
	finalized, _ := strconv.ParseBool(fields["finalized"])
	return Transcript{
		ID:             id,
		ConversationID: fields["conversationId"],
		ContentID:      fields["contentId"],
		StartTime:      parseInt64(fields["startTime"]),
		Duration:       parseInt64(fields["duration"]),
		Text:           fields["text"],
		ErrorCount:     errorCount,
		Finalized:      finalized,
	}
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
