package mqtt

import (
	"errors"
	"sync"

	"github.com/sweeney/turbulence-sensor/internal/host"
)

// FakePublisher records published messages for test assertions and acts as
// an in-memory Subscriber. Safe for concurrent use.
type FakePublisher struct {
	// PublishError, if set, will be returned by every Publish method.
	PublishError error

	mu            sync.Mutex
	events        []StatusEvent
	readings      []Reading
	systemEvents  []SystemEvent
	notifications []host.Notification
	payloads      map[string][][]byte
	subs          map[string]func([]byte)
	lost          chan struct{}
	connected     bool
	closed        bool
}

// NewFakePublisher creates a connected FakePublisher.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{
		payloads:  make(map[string][][]byte),
		subs:      make(map[string]func([]byte)),
		lost:      make(chan struct{}),
		connected: true,
	}
}

func (f *FakePublisher) record(topic string, payload []byte, err error) error {
	if err != nil {
		return err
	}
	f.payloads[topic] = append(f.payloads[topic], payload)
	return nil
}

// PublishEvent records the status event.
func (f *FakePublisher) PublishEvent(event StatusEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.events = append(f.events, event)
	payload, err := FormatEventPayload(event)
	return f.record(TopicEvents, payload, err)
}

// PublishReading records the reading.
func (f *FakePublisher) PublishReading(r Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.readings = append(f.readings, r)
	payload, err := FormatReadingPayload(r)
	return f.record(TopicReadings, payload, err)
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.systemEvents = append(f.systemEvents, event)
	payload, err := FormatSystemPayload(event)
	return f.record(TopicSystem, payload, err)
}

// PublishNotification records the notification.
func (f *FakePublisher) PublishNotification(n host.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.notifications = append(f.notifications, n)
	payload, err := FormatNotificationPayload(n)
	return f.record(TopicNotification, payload, err)
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

// Subscribe registers fn for topic.
func (f *FakePublisher) Subscribe(topic string, fn func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.New("not connected")
	}
	f.subs[topic] = fn
	return nil
}

// Unsubscribe removes the handler for topic.
func (f *FakePublisher) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, topic)
	return nil
}

// Deliver calls the handler subscribed to topic, if any, and reports
// whether one was found.
func (f *FakePublisher) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	fn := f.subs[topic]
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(payload)
	return true
}

// Subscribed reports whether a handler is registered for topic.
func (f *FakePublisher) Subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[topic] != nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected changes the reported connection state.
func (f *FakePublisher) SetConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}

// ConnectionLost returns a channel closed by DropConnection.
func (f *FakePublisher) ConnectionLost() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lost
}

// DropConnection simulates a broker disconnect.
func (f *FakePublisher) DropConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	close(f.lost)
	f.lost = make(chan struct{})
}

// Events returns recorded status events.
func (f *FakePublisher) Events() []StatusEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StatusEvent(nil), f.events...)
}

// Readings returns recorded readings.
func (f *FakePublisher) Readings() []Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Reading(nil), f.readings...)
}

// SystemEvents returns recorded system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// Notifications returns recorded notifications.
func (f *FakePublisher) Notifications() []host.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]host.Notification(nil), f.notifications...)
}

// Payloads returns the JSON payloads published to topic.
func (f *FakePublisher) Payloads(topic string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads[topic]...)
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
	f.readings = nil
	f.systemEvents = nil
	f.notifications = nil
	f.payloads = make(map[string][][]byte)
	f.PublishError = nil
}
