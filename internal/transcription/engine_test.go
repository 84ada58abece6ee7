package transcription

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/snarg/whisper-relay/internal/broker"
	"github.com/snarg/whisper-relay/internal/store"
)

// fakeToken and fakeConn give the engine a broker it can subscribe to
// and publish on without a real network connection.
type fakeToken struct{}

func (fakeToken) Wait() bool                    { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Done() <-chan struct{}         { ch := make(chan struct{}); close(ch); return ch }
func (fakeToken) Error() error                  { return nil }

type fakeConn struct {
	handlers map[string]mqtt.MessageHandler
}

func newFakeConn() *fakeConn { return &fakeConn{handlers: make(map[string]mqtt.MessageHandler)} }

func (f *fakeConn) IsConnected() bool      { return true }
func (f *fakeConn) IsConnectionOpen() bool { return true }
func (f *fakeConn) Connect() mqtt.Token    { return fakeToken{} }
func (f *fakeConn) Disconnect(uint)        {}

func (f *fakeConn) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if cb, ok := f.handlers[topic]; ok {
		s, _ := payload.(string)
		cb(nil, fakeMessage{topic: topic, payload: []byte(s)})
	}
	return fakeToken{}
}

func (f *fakeConn) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	f.handlers[topic] = callback
	return fakeToken{}
}

func (f *fakeConn) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for t := range filters {
		f.handlers[t] = callback
	}
	return fakeToken{}
}

func (f *fakeConn) Unsubscribe(topics ...string) mqtt.Token {
	for _, t := range topics {
		delete(f.handlers, t)
	}
	return fakeToken{}
}

func (f *fakeConn) AddRoute(topic string, callback mqtt.MessageHandler) {}
func (f *fakeConn) OptionsReader() mqtt.ClientOptionsReader             { return mqtt.ClientOptionsReader{} }

// deliver simulates a broker message arriving on topic, bypassing
// Publish's loopback so tests can send raw bytes directly.
func (f *fakeConn) deliver(topic, payload string) {
	if cb, ok := f.handlers[topic]; ok {
		cb(nil, fakeMessage{topic: topic, payload: []byte(payload)})
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func newTestEngine(t *testing.T) (*Engine, *fakeConn) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	s, err := store.Connect(context.Background(), "redis://"+mr.Addr()+"/0", "whisper", zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Connect: %v", err)
	}
	t.Cleanup(s.Close)

	conn := newFakeConn()
	b := broker.NewWithConn(conn, zerolog.Nop())
	e := NewEngine(s, b, "server-1", Options{OverlapWindow: 10 * time.Millisecond}, zerolog.Nop())
	return e, conn
}

func TestStartAndDropTerminatesAndFinalizes(t *testing.T) {
	e, conn := newTestEngine(t)
	ctx := context.Background()

	id, err := e.StartTranscript(ctx, "conv1", "content1")
	if err != nil {
		t.Fatalf("StartTranscript: %v", err)
	}

	time.Sleep(15 * time.Millisecond) // clear the overlap window so chunks aren't id-paired

	conn.deliver("conv1:content1", "0|hello")
	conn.deliver("conv1:content1", "-1|")
	conn.deliver("conv1:control", "-25|conv1|convname|client1|profile1|alice|content1")

	time.Sleep(10 * time.Millisecond)

	transcript, found, err := e.GetTranscript(ctx, id)
	if err != nil || !found {
		t.Fatalf("GetTranscript: found=%v err=%v", found, err)
	}
	if !transcript.Finalized {
		t.Fatal("expected transcript to be finalized after dropping")
	}
	if transcript.Text != "hello\n" {
		t.Errorf("Text = %q", transcript.Text)
	}
}

func TestDuplicateDroppingIgnored(t *testing.T) {
	e, conn := newTestEngine(t)
	ctx := context.Background()

	id, err := e.StartTranscript(ctx, "conv1", "content1")
	if err != nil {
		t.Fatalf("StartTranscript: %v", err)
	}

	// Some content, so finalize keeps the record instead of discarding an
	// empty, error-free transcript.
	conn.deliver("conv1:content1", "0|hi")
	conn.deliver("conv1:control", "-25|conv1|convname|client1|profile1|alice|content1")
	conn.deliver("conv1:control", "-25|conv1|convname|client1|profile1|alice|content1")

	time.Sleep(10 * time.Millisecond)

	if _, found, _ := e.GetTranscript(ctx, id); !found {
		t.Fatal("expected the transcript record to still exist exactly once")
	}
}

func TestListTranscriptsNewestFirst(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	old := Transcript{ID: "t-old", ConversationID: "conv1", StartTime: now - 2000, Text: "old", Finalized: true}
	recent := Transcript{ID: "t-new", ConversationID: "conv1", StartTime: now - 1000, Text: "new", Finalized: true}
	for _, tr := range []Transcript{old, recent} {
		if err := e.saveTranscript(ctx, tr); err != nil {
			t.Fatalf("saveTranscript: %v", err)
		}
	}
	if err := e.store.RPush(ctx, e.transcriptListKey("conv1"), "t-old", "t-new"); err != nil {
		t.Fatalf("RPush: %v", err)
	}

	list, err := e.ListTranscripts(ctx, "conv1")
	if err != nil {
		t.Fatalf("ListTranscripts: %v", err)
	}
	if len(list) != 2 || list[0].ID != "t-new" || list[1].ID != "t-old" {
		t.Errorf("list = %+v", list)
	}
}

func TestListTranscriptsPrunesExpired(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	live := Transcript{ID: "t-live", ConversationID: "conv1", StartTime: time.Now().UnixMilli(), Text: "x", Finalized: true}
	if err := e.saveTranscript(ctx, live); err != nil {
		t.Fatalf("saveTranscript: %v", err)
	}
	// "t-gone" was never saved, simulating an expired hash.
	if err := e.store.RPush(ctx, e.transcriptListKey("conv1"), "t-gone", "t-live"); err != nil {
		t.Fatalf("RPush: %v", err)
	}

	list, err := e.ListTranscripts(ctx, "conv1")
	if err != nil {
		t.Fatalf("ListTranscripts: %v", err)
	}
	if len(list) != 1 || list[0].ID != "t-live" {
		t.Errorf("list = %+v", list)
	}

	rewritten, err := e.store.LRange(ctx, e.transcriptListKey("conv1"), 0, -1)
	if err != nil {
		t.Fatalf("LRange: %v", err)
	}
	if len(rewritten) != 1 || rewritten[0] != "t-live" {
		t.Errorf("rewritten index = %v", rewritten)
	}
}

func TestSuspendWithNoWorkersIsCheap(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SuspendTranscriptions(context.Background())
	if !e.suspendInProgress.Load() {
		t.Error("expected suspendInProgress to be set")
	}
}
