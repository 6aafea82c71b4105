package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sweeney/turbulence-sensor/internal/host"
)

const (
	publishTimeout = 5 * time.Second
	connectTimeout = 10 * time.Second

	// DefaultBufferSize is the number of messages kept while disconnected.
	DefaultBufferSize = 256
)

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string // generated when empty
	BufferSize int
	Logger     *slog.Logger
	// Now replaces time.Now for the will and reconnect payloads.
	Now func() time.Time
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	log    *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	buf       *offlineBuffer
	subs      map[string]func([]byte)
	lost      chan struct{}
	// connected is set by the OnConnect handler once the buffer has been
	// handed over; publishes buffer until then.
	connected bool
	everUp    bool
}

// NewRealPublisher creates a publisher connected to the given broker.
// The broker keeps a retained SHUTDOWN/MQTT_DISCONNECT as the last will.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.ClientID == "" {
		opts.ClientID = "turbulence-sensor-" + uuid.NewString()[:8]
	}
	log := opts.Logger.With("component", "mqtt")

	p := &RealPublisher{
		log:  log,
		now:  opts.Now,
		buf:  newOfflineBuffer(opts.BufferSize, log),
		subs: make(map[string]func([]byte)),
		lost: make(chan struct{}),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: opts.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(co)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// Connect keeps retrying in the background; publishes buffer meanwhile.
		log.Warn("broker not reachable yet, buffering", "broker", opts.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// onConnect runs in its own goroutine on every (re)connect.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connected = true
	reconnect := p.everUp
	p.everUp = true
	pending := p.buf.drainAll()
	subs := make(map[string]func([]byte), len(p.subs))
	for t, fn := range p.subs {
		subs[t] = fn
	}
	p.mu.Unlock()

	for topic, fn := range subs {
		if err := p.subscribe(topic, fn); err != nil {
			p.log.Warn("resubscribe failed", "topic", topic, "err", err)
		}
	}

	if reconnect {
		p.log.Info("reconnected", "replaying", len(pending))
		if err := p.PublishSystem(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"}); err != nil {
			p.log.Warn("publish reconnected failed", "err", err)
		}
	} else {
		p.log.Info("connected", "replaying", len(pending))
	}
	for _, m := range pending {
		if err := p.send(m); err != nil {
			p.log.Warn("replay failed", "topic", m.topic, "err", err)
		}
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	close(p.lost)
	p.lost = make(chan struct{})
	p.mu.Unlock()
	p.log.Warn("connection lost", "err", err)
}

// publish sends now or buffers while disconnected.
func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	m := bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained}
	p.mu.Lock()
	if !p.connected {
		p.buf.push(m)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.send(m)
}

func (p *RealPublisher) send(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// PublishEvent sends a status transition (QoS 0, not retained).
func (p *RealPublisher) PublishEvent(event StatusEvent) error {
	payload, err := FormatEventPayload(event)
	if err != nil {
		return fmt.Errorf("format event payload: %w", err)
	}
	return p.publish(TopicEvents, 0, false, payload)
}

// PublishReading sends a periodic reading (QoS 0, not retained).
func (p *RealPublisher) PublishReading(r Reading) error {
	payload, err := FormatReadingPayload(r)
	if err != nil {
		return fmt.Errorf("format reading payload: %w", err)
	}
	return p.publish(TopicReadings, 0, false, payload)
}

// PublishSystem sends a system lifecycle event (QoS 1).
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

// PublishNotification sends the overlay notification (QoS 1, retained).
func (p *RealPublisher) PublishNotification(n host.Notification) error {
	payload, err := FormatNotificationPayload(n)
	if err != nil {
		return fmt.Errorf("format notification payload: %w", err)
	}
	return p.publish(TopicNotification, 1, true, payload)
}

// Subscribe registers fn for topic. The subscription is restored on every
// reconnect.
func (p *RealPublisher) Subscribe(topic string, fn func([]byte)) error {
	p.mu.Lock()
	p.subs[topic] = fn
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return nil
	}
	return p.subscribe(topic, fn)
}

func (p *RealPublisher) subscribe(topic string, fn func([]byte)) error {
	token := p.client.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		fn(m.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe removes the handler for topic.
func (p *RealPublisher) Unsubscribe(topic string) error {
	p.mu.Lock()
	delete(p.subs, topic)
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return nil
	}
	token := p.client.Unsubscribe(topic)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("unsubscribe %s: timeout", topic)
	}
	return token.Error()
}

// IsConnected reports whether the broker connection is up. It asks the
// client directly: the OnConnect handler runs in its own goroutine and may
// not have fired yet when Connect returns.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// ConnectionLost returns a channel closed at the next connection loss.
func (p *RealPublisher) ConnectionLost() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lost
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}
