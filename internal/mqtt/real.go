package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/scent-dispenser/internal/logic"
	"go.uber.org/zap"
)

// ErrClosed is returned when publishing after Close.
var ErrClosed = errors.New("publisher closed")

const (
	publishTimeout = 5 * time.Second
	queueSize      = 64
)

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	Topic       string
	SystemTopic string
	// BufferSize caps messages held while disconnected; oldest are dropped first.
	BufferSize int
	Logger     *zap.Logger
	// OnConnectionChange is called from the MQTT client goroutine on connect and connection loss.
	OnConnectionChange func(connected bool)
}

func (o Options) withDefaults() Options {
	if o.ClientID == "" {
		o.ClientID = "scent-dispenser"
	}
	if o.Topic == "" {
		o.Topic = Topic
	}
	if o.SystemTopic == "" {
		o.SystemTopic = TopicSystem
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 256
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// RealPublisher publishes to an actual MQTT broker.
// Controller events go through a queue drained by a sender goroutine so the
// control loop never waits on the network; while disconnected they are held
// in a ring buffer and replayed on reconnect.
type RealPublisher struct {
	client      paho.Client
	topic       string
	systemTopic string
	logger      *zap.Logger
	onStatus    func(bool)

	mu            sync.Mutex
	buf           *ringBuffer
	queue         chan bufferedMsg
	closed        bool
	everConnected bool
	done          chan struct{}
}

func newPublisher(client paho.Client, o Options) *RealPublisher {
	o = o.withDefaults()
	return &RealPublisher{
		client:      client,
		topic:       o.Topic,
		systemTopic: o.SystemTopic,
		logger:      o.Logger,
		onStatus:    o.OnConnectionChange,
		buf:         newRingBuffer(o.BufferSize),
		queue:       make(chan bufferedMsg, queueSize),
		done:        make(chan struct{}),
	}
}

// NewRealPublisher creates a publisher for the given broker.
// The broker does not need to be reachable yet; the client keeps retrying
// and messages are buffered until it connects.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	o = o.withDefaults()
	p := newPublisher(nil, o)

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "LWT"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(o.SystemTopic, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.connected() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { p.lost(err) })

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		p.client.Disconnect(0)
		return nil, fmt.Errorf("connect to broker: %w", token.Error())
	}

	go p.send()
	return p, nil
}

// Publish queues a controller event.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.enqueue(bufferedMsg{topic: p.topic, payload: payload})
}

// PublishSystem sends a system lifecycle event and waits for the broker.
// While disconnected the event is buffered instead.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	msg := bufferedMsg{topic: p.systemTopic, payload: payload, qos: 1, retained: event.Retained}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if !p.client.IsConnectionOpen() {
		p.buf.push(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	// QoS 1 (at-least-once) for lifecycle events
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish system timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns how many messages are waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close stops the sender and disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		p.logger.Warn("mqtt sender did not drain before close")
	}
	p.client.Disconnect(1000) // 1 second quiesce
	return nil
}

func (p *RealPublisher) enqueue(msg bufferedMsg) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if !p.client.IsConnectionOpen() {
		p.buf.push(msg)
		return nil
	}
	// Older messages still waiting in the buffer go first.
	if p.buf.len() > 0 {
		p.buf.push(msg)
		p.refillLocked()
		return nil
	}
	select {
	case p.queue <- msg:
	default:
		p.buf.push(msg)
	}
	return nil
}

// refillLocked moves buffered messages into the send queue while it has room.
// The caller holds p.mu; every queue send happens under it, so the sends
// below never block.
func (p *RealPublisher) refillLocked() {
	for !p.closed && len(p.queue) < cap(p.queue) {
		msg, ok := p.buf.pop()
		if !ok {
			return
		}
		p.queue <- msg
	}
}

func (p *RealPublisher) send() {
	defer close(p.done)
	for msg := range p.queue {
		p.publish(msg)

		p.mu.Lock()
		if p.client.IsConnectionOpen() {
			p.refillLocked()
		}
		p.mu.Unlock()
	}
}

func (p *RealPublisher) publish(msg bufferedMsg) {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Warn("mqtt publish timeout", zap.String("topic", msg.topic))
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("mqtt publish failed", zap.String("topic", msg.topic), zap.Error(err))
	}
}

// connected replays buffered messages. After the first connection a
// RECONNECTED system event is queued ahead of them.
func (p *RealPublisher) connected() {
	if p.onStatus != nil {
		p.onStatus(true)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	reconnect := p.everConnected
	p.everConnected = true

	var pending []bufferedMsg
	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		pending = append(pending, bufferedMsg{topic: p.systemTopic, payload: payload, qos: 1})
	}
	msgs, dropped := p.buf.drainAll()
	pending = append(pending, msgs...)

	sent := 0
	for _, msg := range pending {
		select {
		case p.queue <- msg:
			sent++
			continue
		default:
		}
		break
	}
	for _, msg := range pending[sent:] {
		p.buf.push(msg)
	}
	p.mu.Unlock()

	p.logger.Info("mqtt connected", zap.Bool("reconnect", reconnect), zap.Int("replayed", len(msgs)))
	if dropped > 0 {
		p.logger.Warn("mqtt buffer overflowed while offline", zap.Int("dropped", dropped))
	}
}

func (p *RealPublisher) lost(err error) {
	p.logger.Warn("mqtt connection lost", zap.Error(err))
	if p.onStatus != nil {
		p.onStatus(false)
	}
}
