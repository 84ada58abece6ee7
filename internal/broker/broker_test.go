package broker

import (
	"context"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// fakeToken satisfies mqtt.Token without touching the network.
type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                    { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeConn satisfies mqtt.Client with just enough behavior to exercise
// broker.Client's dynamic subscribe/unsubscribe/publish logic.
type fakeConn struct {
	subscribed   map[string]mqtt.MessageHandler
	published    []publishedMsg
	failNextSub  error
	failNextPub  error
	failNextUnsu error
}

type publishedMsg struct {
	topic   string
	payload string
}

func newFakeConn() *fakeConn {
	return &fakeConn{subscribed: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeConn) IsConnected() bool       { return true }
func (f *fakeConn) IsConnectionOpen() bool  { return true }
func (f *fakeConn) Connect() mqtt.Token     { return &fakeToken{} }
func (f *fakeConn) Disconnect(quiesce uint) {}

func (f *fakeConn) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if f.failNextPub != nil {
		return &fakeToken{err: f.failNextPub}
	}
	s, _ := payload.(string)
	f.published = append(f.published, publishedMsg{topic: topic, payload: s})
	return &fakeToken{}
}

func (f *fakeConn) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	if f.failNextSub != nil {
		return &fakeToken{err: f.failNextSub}
	}
	f.subscribed[topic] = callback
	return &fakeToken{}
}

func (f *fakeConn) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic := range filters {
		f.subscribed[topic] = callback
	}
	return &fakeToken{}
}

func (f *fakeConn) Unsubscribe(topics ...string) mqtt.Token {
	if f.failNextUnsu != nil {
		return &fakeToken{err: f.failNextUnsu}
	}
	for _, t := range topics {
		delete(f.subscribed, t)
	}
	return &fakeToken{}
}

func (f *fakeConn) AddRoute(topic string, callback mqtt.MessageHandler) {}
func (f *fakeConn) OptionsReader() mqtt.ClientOptionsReader             { return mqtt.ClientOptionsReader{} }

func newTestClient(conn *fakeConn) *Client {
	return &Client{conn: conn, log: zerolog.Nop()}
}

func TestSubscribeAndReceive(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(conn)

	var gotChannel string
	var gotPayload []byte
	err := c.Subscribe(context.Background(), "conv1:content1", func(channel, _ string, payload []byte) {
		gotChannel = channel
		gotPayload = payload
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cb, ok := conn.subscribed["conv1:content1"]
	if !ok {
		t.Fatal("expected fakeConn to record the subscription")
	}
	cb(nil, fakeMessage{topic: "conv1:content1", payload: []byte("0|hello")})

	if gotChannel != "conv1:content1" || string(gotPayload) != "0|hello" {
		t.Errorf("handler got channel=%q payload=%q", gotChannel, gotPayload)
	}
}

func TestUnsubscribe(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(conn)

	if err := c.Subscribe(context.Background(), "conv1:control", func(string, string, []byte) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := c.Unsubscribe("conv1:control"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if _, ok := conn.subscribed["conv1:control"]; ok {
		t.Error("expected channel to be removed after Unsubscribe")
	}
}

func TestPublish(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(conn)

	if err := c.Publish(context.Background(), "conv1:content1", "0|hello"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(conn.published) != 1 || conn.published[0].payload != "0|hello" {
		t.Errorf("published = %+v", conn.published)
	}
}

func TestIsConnectedDefaultsFalseUntilOnConnect(t *testing.T) {
	c := &Client{conn: newFakeConn(), log: zerolog.Nop()}
	if c.IsConnected() {
		t.Error("expected IsConnected to be false before the connect handler fires")
	}
	c.connected.Store(true)
	if !c.IsConnected() {
		t.Error("expected IsConnected to be true after the connect handler fires")
	}
}

// fakeMessage satisfies mqtt.Message for invoking a recorded callback
// directly in tests.
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
