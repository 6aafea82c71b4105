package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/turbulence-sensor/internal/engine"
	"github.com/sweeney/turbulence-sensor/internal/host"
	"github.com/sweeney/turbulence-sensor/internal/logic"
	"github.com/sweeney/turbulence-sensor/internal/sensor"
)

var ts = time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC)

func TestFormatEventPayloadExactJSON(t *testing.T) {
	payload, err := FormatEventPayload(StatusEvent{
		Timestamp: ts,
		Host:      "overlay",
		Session:   "abc",
		Type:      EventStatusChange,
		From:      logic.LevelSmooth,
		To:        logic.LevelModerate,
		GForce:    1.0912345,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"turbulence":{"timestamp":"2026-02-02T22:18:12Z","host":"overlay","session":"abc","event":"STATUS_CHANGE","from":"SMOOTH","to":"MODERATE","g_force":1.091}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatEventPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	payload, err := FormatEventPayload(StatusEvent{
		Timestamp: time.Date(2026, 2, 3, 0, 18, 12, 0, loc),
		Type:      EventSensorLost,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed EventPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Turbulence.Timestamp != "2026-02-02T22:18:12Z" {
		t.Errorf("unexpected timestamp: %s", parsed.Turbulence.Timestamp)
	}
	if parsed.Turbulence.Event != "SENSOR_LOST" {
		t.Errorf("unexpected event: %s", parsed.Turbulence.Event)
	}
}

func TestFormatReadingPayload(t *testing.T) {
	payload, err := FormatReadingPayload(Reading{
		Timestamp:   ts,
		Host:        "widget",
		Session:     "s1",
		GForce:      1.02,
		Status:      logic.LevelLight,
		WorstRecent: 1.0449,
		Min:         0.97,
		Max:         1.1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"reading":{"timestamp":"2026-02-02T22:18:12Z","host":"widget","session":"s1","g_force":1.02,"status":"LIGHT","worst_recent":1.045,"min":0.97,"max":1.1}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatNotificationPayload(t *testing.T) {
	payload, err := FormatNotificationPayload(host.Notification{
		Title:   "Turbulence monitor",
		Text:    "light · 1.05 G",
		Running: true,
		State:   engine.StateRunning,
		Status:  logic.LevelLight,
		GForce:  1.04999,
		Actions: []string{host.CommandStop},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"notification":{"title":"Turbulence monitor","text":"light · 1.05 G","running":true,"state":"RUNNING","status":"LIGHT","g_force":1.05,"actions":["STOP"]}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatNotificationPayloadStoppedOmitsActions(t *testing.T) {
	payload, err := FormatNotificationPayload(host.Notification{Text: "Stopped", State: engine.StateIdle})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed map[string]map[string]any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, exists := parsed["notification"]["actions"]; exists {
		t.Error("stopped notification should not offer actions")
	}
	if parsed["notification"]["state"] != "IDLE" {
		t.Errorf("unexpected state: %v", parsed["notification"]["state"])
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T08:30:00Z","event":"SHUTDOWN","reason":"MQTT_DISCONNECT"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadReconnectedOmitsReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC),
		Event:     "RECONNECTED",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T14:30:00Z","event":"RECONNECTED"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadRawPassthrough(t *testing.T) {
	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload not returned as-is: %s", payload)
	}
}

func TestFakePublisherRecordsAllKinds(t *testing.T) {
	f := NewFakePublisher()

	if err := f.PublishEvent(StatusEvent{Timestamp: ts, Type: EventStatusChange, To: logic.LevelSevere}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.PublishReading(Reading{Timestamp: ts, Host: "widget"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.PublishSystem(SystemEvent{Timestamp: ts, Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.PublishNotification(host.Notification{Text: "Stopped"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.Events()) != 1 || f.Events()[0].To != logic.LevelSevere {
		t.Errorf("unexpected events: %+v", f.Events())
	}
	if len(f.Readings()) != 1 {
		t.Errorf("expected 1 reading, got %d", len(f.Readings()))
	}
	if len(f.SystemEvents()) != 1 || !f.SystemEvents()[0].Retained {
		t.Errorf("unexpected system events: %+v", f.SystemEvents())
	}
	if len(f.Notifications()) != 1 {
		t.Errorf("expected 1 notification, got %d", len(f.Notifications()))
	}
	for _, topic := range []string{TopicEvents, TopicReadings, TopicSystem, TopicNotification} {
		if len(f.Payloads(topic)) != 1 {
			t.Errorf("%s: expected 1 payload, got %d", topic, len(f.Payloads(topic)))
		}
	}

	f.Reset()
	if len(f.Events())+len(f.Readings())+len(f.SystemEvents())+len(f.Notifications()) != 0 {
		t.Error("expected empty publisher after reset")
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("simulated error")

	if err := f.PublishEvent(StatusEvent{}); err == nil {
		t.Error("expected error")
	}
	if err := f.PublishSystem(SystemEvent{}); err == nil {
		t.Error("expected error")
	}
	if len(f.Events()) != 0 || len(f.SystemEvents()) != 0 {
		t.Error("nothing should be recorded on error")
	}
}

func TestFakePublisherClose(t *testing.T) {
	f := NewFakePublisher()
	if f.Closed() || !f.IsConnected() {
		t.Fatal("should start open and connected")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed() || f.IsConnected() {
		t.Error("should be closed and disconnected")
	}
}

func TestNotifierPublishesNotification(t *testing.T) {
	f := NewFakePublisher()
	var n host.Notifier = Notifier{Publisher: f}

	if err := n.Notify(host.Notification{Text: "Stopped"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.Notifications(); len(got) != 1 || got[0].Text != "Stopped" {
		t.Errorf("unexpected notifications: %+v", got)
	}
}

func TestDecodeSample(t *testing.T) {
	s, err := DecodeSample([]byte(`{"x":0.1,"y":-0.2,"z":9.81}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != (logic.Sample{X: 0.1, Y: -0.2, Z: 9.81}) {
		t.Errorf("unexpected sample: %+v", s)
	}

	for _, bad := range []string{``, `{`, `[1,2,3]`, `{"x":"a"}`} {
		if _, err := DecodeSample([]byte(bad)); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestListenCommands(t *testing.T) {
	f := NewFakePublisher()
	var got []string
	if err := ListenCommands(f, func(cmd string) { got = append(got, cmd) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.Deliver(TopicCommand, []byte(" STOP\n"))
	f.Deliver(TopicCommand, []byte("DISMISS"))
	if len(got) != 2 || got[0] != "STOP" || got[1] != "DISMISS" {
		t.Errorf("unexpected commands: %q", got)
	}
}

func TestSampleSourceForwardsSamples(t *testing.T) {
	f := NewFakePublisher()
	src := NewSampleSource(f, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := src.Subscribe(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Subscribed(TopicSamples) {
		t.Fatal("expected subscription to samples topic")
	}

	go func() {
		f.Deliver(TopicSamples, []byte(`not json`))
		f.Deliver(TopicSamples, []byte(`{"x":0,"y":0,"z":19.62}`))
	}()

	select {
	case s := <-ch:
		if s.Z != 19.62 {
			t.Errorf("unexpected sample: %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no sample delivered")
	}

	cancel()
	for range ch {
	}
	if f.Subscribed(TopicSamples) {
		t.Error("expected unsubscribe after cancel")
	}
}

func TestSampleSourceUnavailableWhenDisconnected(t *testing.T) {
	f := NewFakePublisher()
	f.SetConnected(false)

	_, err := NewSampleSource(f, nil).Subscribe(context.Background(), 0)
	if !errors.Is(err, sensor.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestSampleSourceEndsOnConnectionLoss(t *testing.T) {
	f := NewFakePublisher()
	ch, err := NewSampleSource(f, nil).Subscribe(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.DropConnection()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed stream")
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed after connection loss")
	}
}

func TestTelemetryPublishesTransitions(t *testing.T) {
	samples := make([]logic.Sample, 0, 150)
	for range 150 {
		samples = append(samples, logic.Sample{Z: 2 * logic.StandardGravity})
	}
	src := sensor.NewFakeSource(samples)
	src.Hold = true

	eng, err := engine.New("overlay", logic.DefaultOverlayConfig(), src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer eng.Stop()

	f := NewFakePublisher()
	tel := NewTelemetry(f, nil, func() time.Time { return ts })
	unwatch := tel.Watch(eng)
	defer unwatch()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tel.Run(ctx)
		close(done)
	}()

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ev := f.Events(); len(ev) > 0 && ev[len(ev)-1].To == logic.LevelSevere {
			break
		}
		time.Sleep(time.Millisecond)
	}

	tel.PublishReadings(eng)
	src.Lose()
	for time.Now().Before(deadline) {
		if ev := f.Events(); len(ev) > 0 && ev[len(ev)-1].Type == EventSensorLost {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	events := f.Events()
	if len(events) < 2 {
		t.Fatalf("expected at least 2 events, got %+v", events)
	}
	first := events[0]
	if first.Host != "overlay" || first.From != logic.LevelSmooth || first.Type != EventStatusChange {
		t.Errorf("unexpected first event: %+v", first)
	}
	for i := 1; i < len(events)-1; i++ {
		if events[i].From != events[i-1].To {
			t.Errorf("event %d: from %s does not follow %s", i, events[i].From, events[i-1].To)
		}
	}
	if last := events[len(events)-1]; last.Type != EventSensorLost {
		t.Errorf("expected SENSOR_LOST last, got %+v", last)
	}

	readings := f.Readings()
	if len(readings) != 1 || readings[0].Status != logic.LevelSevere || readings[0].Host != "overlay" {
		t.Errorf("unexpected readings: %+v", readings)
	}
	if tel.Dropped() != 0 {
		t.Errorf("unexpected drops: %d", tel.Dropped())
	}
}

func TestTelemetrySkipsIdleEngines(t *testing.T) {
	eng, err := engine.New("widget", logic.DefaultWidgetConfig(), sensor.NewFakeSource(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := NewFakePublisher()
	NewTelemetry(f, nil, nil).PublishReadings(eng)
	if len(f.Readings()) != 0 {
		t.Errorf("idle engine should not publish readings")
	}
}
