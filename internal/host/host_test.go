package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/turbulence-sensor/internal/engine"
	"github.com/sweeney/turbulence-sensor/internal/logic"
	"github.com/sweeney/turbulence-sensor/internal/sensor"
)

const waitFor = 2 * time.Second

var (
	level = logic.Sample{Z: logic.StandardGravity}
	twoG  = logic.Sample{Z: 2 * logic.StandardGravity}
)

func newEngine(t *testing.T, cfg logic.Config, src sensor.Source) *engine.Engine {
	t.Helper()
	cfg.RefreshInterval = 5 * time.Millisecond
	e, err := engine.New("test", cfg, src)
	require.NoError(t, err)
	t.Cleanup(e.Stop)
	return e
}

// fakeNotifier records every notification in order.
type fakeNotifier struct {
	mu  sync.Mutex
	got []Notification
	err error
}

func (f *fakeNotifier) Notify(n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
	return f.err
}

func (f *fakeNotifier) all() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.got...)
}

func (f *fakeNotifier) last() Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got[len(f.got)-1]
}

// --- Widget ---

func TestWidgetFirstShowStartsLastHideStops(t *testing.T) {
	src := sensor.NewFakeSource(nil)
	src.Hold = true
	w := NewWidget(newEngine(t, logic.DefaultWidgetConfig(), src), nil)

	hideA, err := w.Show()
	require.NoError(t, err)
	require.True(t, w.Engine().Running())

	hideB, err := w.Show()
	require.NoError(t, err)
	require.Equal(t, 2, w.Viewers())
	require.Equal(t, 1, src.Subscribes(), "second screen shares the session")

	hideA()
	hideA()
	require.Equal(t, 1, w.Viewers(), "hide is idempotent")
	require.True(t, w.Engine().Running())

	hideB()
	require.Equal(t, 0, w.Viewers())
	require.False(t, w.Engine().Running())
	require.Equal(t, 0, src.Active(), "stream released when no screen is visible")
}

func TestWidgetReshowStartsFreshSession(t *testing.T) {
	src := sensor.NewFakeSource(nil)
	src.Hold = true
	w := NewWidget(newEngine(t, logic.DefaultWidgetConfig(), src), nil)

	hide, err := w.Show()
	require.NoError(t, err)
	first := w.Engine().Snapshot().Session
	hide()

	hide, err = w.Show()
	require.NoError(t, err)
	defer hide()
	require.NotEqual(t, first, w.Engine().Snapshot().Session)
	require.Equal(t, 2, src.Subscribes())
}

func TestWidgetShowUnavailable(t *testing.T) {
	src := sensor.NewFakeSource(nil)
	src.SubscribeError = sensor.ErrUnavailable
	w := NewWidget(newEngine(t, logic.DefaultWidgetConfig(), src), nil)

	hide, err := w.Show()
	require.ErrorIs(t, err, engine.ErrSensorUnavailable)
	require.Nil(t, hide)
	require.Equal(t, 0, w.Viewers())
	require.Equal(t, engine.StateUnavailable, w.Engine().Snapshot().State)
}

func TestWidgetShowAfterLossRetries(t *testing.T) {
	src := sensor.NewFakeSource(nil)
	src.Hold = true
	w := NewWidget(newEngine(t, logic.DefaultWidgetConfig(), src), nil)

	hideA, err := w.Show()
	require.NoError(t, err)
	defer hideA()

	src.Lose()
	require.Eventually(t, func() bool {
		return w.Engine().Snapshot().State == engine.StateUnavailable
	}, waitFor, time.Millisecond)

	hideB, err := w.Show()
	require.NoError(t, err)
	defer hideB()
	require.True(t, w.Engine().Running())
	require.Equal(t, 2, src.Subscribes())
}

// --- Overlay ---

func newOverlay(t *testing.T, src sensor.Source) (*Overlay, *fakeNotifier) {
	t.Helper()
	n := &fakeNotifier{}
	o := NewOverlay(newEngine(t, logic.DefaultOverlayConfig(), src), n, Surface{Width: 400, Height: 800, Size: 40}, nil)
	t.Cleanup(func() { o.Stop("cleanup") })
	return o, n
}

func TestOverlayStartShowsIndicatorAndNotification(t *testing.T) {
	src := sensor.NewFakeSource(nil)
	src.Hold = true
	o, n := newOverlay(t, src)

	require.Equal(t, "Stopped", o.Notification().Text)
	require.NoError(t, o.Start(context.Background()))

	st := o.State()
	require.True(t, st.Running)
	require.True(t, st.Indicator.Visible)
	require.Equal(t, Indicator{X: 360, Y: 200, Visible: true}, st.Indicator)
	require.True(t, st.Notification.Running)
	require.Equal(t, []string{CommandStop}, st.Notification.Actions)
	require.Equal(t, engine.StateRunning, n.last().State)
}

func TestOverlayStartTwiceRegistersOnce(t *testing.T) {
	src := sensor.NewFakeSource(nil)
	src.Hold = true
	o, _ := newOverlay(t, src)

	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.Start(context.Background()))
	require.Equal(t, 1, src.Subscribes())
	require.Equal(t, 1, src.Active())
}

func TestOverlayStopOrdersEngineBeforeNotification(t *testing.T) {
	src := sensor.NewFakeSource(nil)
	src.Hold = true
	o, n := newOverlay(t, src)
	require.NoError(t, o.Start(context.Background()))

	o.Stop("test")
	require.False(t, o.Running())
	require.False(t, o.Engine().Running())
	require.Equal(t, 0, src.Active())
	require.Equal(t, "Stopped", n.last().Text)
	require.False(t, n.last().Running)
	require.False(t, o.State().Indicator.Visible)

	count := len(n.all())
	o.Stop("again")
	require.Len(t, n.all(), count, "stop is idempotent")
}

func TestOverlayStatusChangePublishes(t *testing.T) {
	src := sensor.NewFakeSource(nil)
	src.Hold = true
	o, n := newOverlay(t, src)
	require.NoError(t, o.Start(context.Background()))

	for range 150 {
		src.Send(twoG)
	}
	require.Eventually(t, func() bool {
		return n.last().Status == logic.LevelSevere
	}, waitFor, time.Millisecond)
	require.Contains(t, o.Notification().Text, "severe")
}

func TestOverlaySensorLossKeepsStopAction(t *testing.T) {
	src := sensor.NewFakeSource(nil)
	src.Hold = true
	o, n := newOverlay(t, src)
	require.NoError(t, o.Start(context.Background()))

	src.Lose()
	require.Eventually(t, func() bool {
		return n.last().State == engine.StateUnavailable
	}, waitFor, time.Millisecond)
	require.Equal(t, []string{CommandStop}, n.last().Actions)
	require.True(t, o.Running(), "the overlay stays up until the user stops it")

	o.Stop("user")
	require.Equal(t, engine.StateIdle, n.last().State)
}

func TestOverlayStartUnavailable(t *testing.T) {
	src := sensor.NewFakeSource(nil)
	src.SubscribeError = errors.New("no accelerometer")
	o, n := newOverlay(t, src)

	err := o.Start(context.Background())
	require.ErrorIs(t, err, engine.ErrSensorUnavailable)
	require.False(t, o.Running())
	require.Equal(t, engine.StateUnavailable, n.last().State)
	require.Contains(t, n.last().Text, "no accelerometer")
	require.False(t, o.State().Indicator.Visible)
}

func TestOverlayMoveClamps(t *testing.T) {
	src := sensor.NewFakeSource(nil)
	src.Hold = true
	o, _ := newOverlay(t, src)

	require.False(t, o.Move(1, 1), "no indicator before start")
	require.NoError(t, o.Start(context.Background()))

	require.True(t, o.Move(-100, 50))
	require.Equal(t, Indicator{X: 260, Y: 250, Visible: true}, o.State().Indicator)

	require.True(t, o.Move(10_000, -10_000))
	require.Equal(t, Indicator{X: 360, Y: 0, Visible: true}, o.State().Indicator)

	require.True(t, o.Move(-10_000, 10_000))
	require.Equal(t, Indicator{X: 0, Y: 760, Visible: true}, o.State().Indicator)
}

func TestOverlayDismissKeepsSession(t *testing.T) {
	src := sensor.NewFakeSource(nil)
	src.Hold = true
	o, _ := newOverlay(t, src)
	require.NoError(t, o.Start(context.Background()))

	o.Dismiss()
	require.False(t, o.State().Indicator.Visible)
	require.True(t, o.Engine().Running())
	require.False(t, o.Move(1, 1))

	require.True(t, o.Restore())
	require.True(t, o.State().Indicator.Visible)
}

func TestOverlayHandleCommand(t *testing.T) {
	src := sensor.NewFakeSource(nil)
	src.Hold = true
	o, _ := newOverlay(t, src)
	ctx := context.Background()

	require.NoError(t, o.HandleCommand(ctx, "show"))
	require.True(t, o.Running())

	require.NoError(t, o.HandleCommand(ctx, " DISMISS "))
	require.False(t, o.State().Indicator.Visible)

	require.NoError(t, o.HandleCommand(ctx, CommandShow))
	require.True(t, o.State().Indicator.Visible)
	require.Equal(t, 1, src.Subscribes())

	require.NoError(t, o.HandleCommand(ctx, CommandStop))
	require.False(t, o.Running())

	require.Error(t, o.HandleCommand(ctx, "REBOOT"))
}

func TestOverlayNotifierErrorDoesNotStopSession(t *testing.T) {
	src := sensor.NewFakeSource(nil)
	src.Hold = true
	o, n := newOverlay(t, src)
	n.err = errors.New("broker down")

	require.NoError(t, o.Start(context.Background()))
	require.True(t, o.Running())
	require.True(t, o.Notification().Running)
}

func TestOverlayRestartAfterStop(t *testing.T) {
	src := sensor.NewFakeSource(nil)
	src.Hold = true
	o, n := newOverlay(t, src)

	require.NoError(t, o.Start(context.Background()))
	o.Stop("user")
	require.NoError(t, o.Start(context.Background()))
	require.True(t, o.Running())
	require.True(t, n.last().Running)
	require.Equal(t, 2, src.Subscribes())
}
