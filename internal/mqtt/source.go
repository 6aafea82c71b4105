package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/turbulence-sensor/internal/logic"
	"github.com/sweeney/turbulence-sensor/internal/sensor"
)

// SamplePayload is one remote accelerometer sample in m/s².
type SamplePayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DecodeSample parses a sample message.
func DecodeSample(payload []byte) (logic.Sample, error) {
	var p SamplePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return logic.Sample{}, fmt.Errorf("decode sample: %w", err)
	}
	s := logic.Sample{X: p.X, Y: p.Y, Z: p.Z}
	if !s.Finite() {
		return logic.Sample{}, fmt.Errorf("decode sample: non-finite value")
	}
	return s, nil
}

// SampleSource is a sensor.Source fed by samples published to a topic, for
// bridging a phone or remote IMU. The stream ends if the broker connection
// drops, which the engine reports as sensor loss.
type SampleSource struct {
	Sub   Subscriber
	Topic string
	Log   *slog.Logger
}

var _ sensor.Source = (*SampleSource)(nil)

// NewSampleSource creates a source on TopicSamples.
func NewSampleSource(sub Subscriber, logger *slog.Logger) *SampleSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &SampleSource{Sub: sub, Topic: TopicSamples, Log: logger.With("component", "mqtt-source")}
}

// Subscribe starts forwarding samples. The interval is set by the remote
// publisher and ignored here.
func (s *SampleSource) Subscribe(ctx context.Context, _ time.Duration) (<-chan logic.Sample, error) {
	if !s.Sub.IsConnected() {
		return nil, fmt.Errorf("%w: broker not connected", sensor.ErrUnavailable)
	}
	lost := s.Sub.ConnectionLost()

	out := make(chan logic.Sample)
	stop := make(chan struct{})
	var (
		mu     sync.Mutex
		closed bool
	)
	handler := func(payload []byte) {
		sample, err := DecodeSample(payload)
		if err != nil {
			s.Log.Debug("dropping sample", "err", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- sample:
		case <-stop:
		}
	}
	if err := s.Sub.Subscribe(s.Topic, handler); err != nil {
		return nil, fmt.Errorf("%w: %v", sensor.ErrUnavailable, err)
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-lost:
			s.Log.Warn("broker connection lost, ending sample stream")
		}
		close(stop)
		if err := s.Sub.Unsubscribe(s.Topic); err != nil {
			s.Log.Debug("unsubscribe failed", "err", err)
		}
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out, nil
}
