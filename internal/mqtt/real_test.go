package mqtt

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/scent-dispenser/internal/logic"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool { return true }

func (t doneToken) WaitTimeout(time.Duration) bool { return true }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t doneToken) Error() error { return t.err }

type sent struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient stands in for a paho client; methods not overridden are unused.
type fakeClient struct {
	paho.Client

	mu           sync.Mutex
	open         bool
	published    []sent
	disconnected bool
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) setOpen(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = open
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, sent{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) messages() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sent, len(c.published))
	copy(out, c.published)
	return out
}

func (c *fakeClient) waitFor(t *testing.T, n int) []sent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := c.messages()
		if len(s) >= n {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d published messages, got %d", n, len(s))
		}
		time.Sleep(time.Millisecond)
	}
}

func startTestPublisher(client *fakeClient, o Options) *RealPublisher {
	p := newPublisher(client, o)
	go p.send()
	return p
}

func eventName(t *testing.T, s sent) string {
	t.Helper()
	var p Payload
	if err := json.Unmarshal(s.payload, &p); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	return p.Dispenser.Event
}

func TestRealPublisherSendsWhenConnected(t *testing.T) {
	client := &fakeClient{open: true}
	p := startTestPublisher(client, Options{})
	defer p.Close()

	if err := p.Publish(logic.Event{Type: logic.EventJobStarted, Channel: -1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := client.waitFor(t, 1)
	if s[0].topic != Topic || s[0].qos != 0 || s[0].retained {
		t.Errorf("unexpected message %+v", s[0])
	}
	if eventName(t, s[0]) != "JOB_STARTED" {
		t.Errorf("unexpected event %s", eventName(t, s[0]))
	}
}

func TestRealPublisherBuffersWhileDisconnected(t *testing.T) {
	client := &fakeClient{}
	var statuses []bool
	var mu sync.Mutex
	p := startTestPublisher(client, Options{
		Topic: "test/events",
		OnConnectionChange: func(c bool) {
			mu.Lock()
			statuses = append(statuses, c)
			mu.Unlock()
		},
	})
	defer p.Close()

	p.Publish(logic.Event{Type: logic.EventJobStarted, Channel: -1})
	p.Publish(logic.Event{Type: logic.EventChannelOn, Channel: 0})
	p.PublishSystem(SystemEvent{Event: "STARTUP"})

	if p.Buffered() != 3 {
		t.Fatalf("expected 3 buffered, got %d", p.Buffered())
	}
	if len(client.messages()) != 0 {
		t.Fatal("nothing should be sent while disconnected")
	}

	client.setOpen(true)
	p.connected()

	s := client.waitFor(t, 3)
	if eventName(t, s[0]) != "JOB_STARTED" || eventName(t, s[1]) != "CHANNEL_ON" {
		t.Errorf("replay out of order")
	}
	if s[0].topic != "test/events" || s[2].topic != TopicSystem || s[2].qos != 1 {
		t.Errorf("unexpected topics/qos %+v", s)
	}
	if p.Buffered() != 0 {
		t.Error("buffer should be empty after replay")
	}

	p.lost(nil)
	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 2 || !statuses[0] || statuses[1] {
		t.Errorf("unexpected status callbacks %v", statuses)
	}
}

func TestRealPublisherReconnectEvent(t *testing.T) {
	client := &fakeClient{open: true}
	p := startTestPublisher(client, Options{})
	defer p.Close()

	p.connected()
	client.setOpen(false)
	p.lost(nil)
	client.setOpen(true)
	p.connected()

	s := client.waitFor(t, 1)
	var parsed SystemPayload
	json.Unmarshal(s[0].payload, &parsed)
	if parsed.System.Event != "RECONNECTED" {
		t.Errorf("expected RECONNECTED after second connect, got %q", parsed.System.Event)
	}
	if len(s) != 1 {
		t.Errorf("first connect should not publish RECONNECTED, got %d messages", len(s))
	}
}

func TestRealPublisherSystemWhenConnected(t *testing.T) {
	client := &fakeClient{open: true}
	p := startTestPublisher(client, Options{SystemTopic: "test/system"})
	defer p.Close()

	err := p.PublishSystem(SystemEvent{Event: "HEARTBEAT", RawPayload: []byte(`{}`), Retained: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := client.messages()
	if len(s) != 1 || s[0].topic != "test/system" || !s[0].retained || s[0].qos != 1 {
		t.Errorf("unexpected system message %+v", s)
	}
}

func TestRealPublisherBufferOverflowKeepsNewest(t *testing.T) {
	client := &fakeClient{}
	p := startTestPublisher(client, Options{BufferSize: 2})
	defer p.Close()

	p.Publish(logic.Event{Type: logic.EventJobStarted, Channel: -1})
	p.Publish(logic.Event{Type: logic.EventChannelOn, Channel: 0})
	p.Publish(logic.Event{Type: logic.EventChannelOff, Channel: 0})

	client.setOpen(true)
	p.connected()

	s := client.waitFor(t, 2)
	if eventName(t, s[0]) != "CHANNEL_ON" || eventName(t, s[1]) != "CHANNEL_OFF" {
		t.Errorf("expected the newest two events, got %s %s", eventName(t, s[0]), eventName(t, s[1]))
	}
}

func TestRealPublisherQueueOverflowWhileConnected(t *testing.T) {
	client := &fakeClient{open: true}
	p := newPublisher(client, Options{})
	defer p.Close()

	const n = queueSize + 5
	for i := 0; i < n; i++ {
		if err := p.Publish(logic.Event{Type: logic.EventChannelOn, Channel: 0, Detail: strconv.Itoa(i)}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if got := p.Buffered(); got != 5 {
		t.Fatalf("buffered before sending: got %d, want 5", got)
	}

	go p.send()
	s := client.waitFor(t, n)

	if got := p.Buffered(); got != 0 {
		t.Errorf("buffered after sending: got %d, want 0", got)
	}
	for i, msg := range s {
		var payload Payload
		if err := json.Unmarshal(msg.payload, &payload); err != nil {
			t.Fatalf("invalid payload: %v", err)
		}
		if payload.Dispenser.Detail != strconv.Itoa(i) {
			t.Fatalf("message %d out of order: detail %q", i, payload.Dispenser.Detail)
		}
	}
}

func TestRealPublisherOverflowKeepsOrderWhileSending(t *testing.T) {
	client := &fakeClient{open: true}
	p := newPublisher(client, Options{})
	defer p.Close()

	for i := 0; i < queueSize+1; i++ {
		p.Publish(logic.Event{Type: logic.EventChannelOn, Channel: 0, Detail: strconv.Itoa(i)})
	}
	go p.send()
	// Published after the overflow but while the sender may still be busy.
	p.Publish(logic.Event{Type: logic.EventChannelOff, Channel: 0, Detail: "last"})

	s := client.waitFor(t, queueSize+2)
	if eventName(t, s[len(s)-1]) != "CHANNEL_OFF" {
		t.Errorf("newest event should arrive last, got %s", eventName(t, s[len(s)-1]))
	}
}

func TestRealPublisherClose(t *testing.T) {
	client := &fakeClient{open: true}
	p := startTestPublisher(client, Options{})

	if err := p.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if !client.disconnected {
		t.Error("client should be disconnected")
	}
	if err := p.Publish(logic.Event{}); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
