package mqtt

import (
	"log/slog"

	"github.com/sweeney/turbulence-sensor/internal/logic"
)

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// offlineBuffer holds messages while disconnected, dropping the oldest when
// full. Not safe for concurrent use; caller must synchronize.
type offlineBuffer struct {
	ring     *logic.Ring[bufferedMsg]
	log      *slog.Logger
	dropped  int
	overflow bool // a drop has been logged since the last drain
}

func newOfflineBuffer(capacity int, logger *slog.Logger) *offlineBuffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &offlineBuffer{ring: logic.NewRing[bufferedMsg](capacity), log: logger}
}

func (b *offlineBuffer) push(msg bufferedMsg) {
	if _, evicted := b.ring.Push(msg); evicted {
		b.dropped++
		if !b.overflow {
			b.log.Warn("offline buffer full, dropping oldest", "capacity", b.ring.Cap())
			b.overflow = true
		}
	}
}

// drainAll returns buffered messages oldest first and empties the buffer.
func (b *offlineBuffer) drainAll() []bufferedMsg {
	if b.ring.Len() == 0 {
		return nil
	}
	out := b.ring.Slice()
	b.ring.Reset()
	b.overflow = false
	return out
}

func (b *offlineBuffer) len() int {
	return b.ring.Len()
}
