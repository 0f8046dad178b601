package violation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestMonitor(t *testing.T, opts ...Option) (*Monitor, *Bus) {
	t.Helper()
	bus := NewBus()
	bus.SetViewport(Viewport{OuterWidth: 1280, OuterHeight: 800, InnerWidth: 1280, InnerHeight: 720})
	opts = append([]Option{WithPollInterval(5 * time.Millisecond)}, opts...)
	m := NewMonitor(bus, opts...)
	t.Cleanup(m.Deactivate)
	return m, bus
}

func TestMonitor_InactiveIgnoresSignals(t *testing.T) {
	m, bus := newTestMonitor(t)

	bus.Emit(&Event{Kind: SignalBlur})
	bus.Emit(&Event{Kind: SignalVisibility, Hidden: true})

	assert.False(t, m.Detected())
	assert.False(t, m.Active())
}

func TestMonitor_SignalsRaiseFlag(t *testing.T) {
	tests := []struct {
		name      string
		event     *Event
		detected  bool
		prevented bool
	}{
		{name: "tab hidden", event: &Event{Kind: SignalVisibility, Hidden: true}, detected: true},
		{name: "tab shown", event: &Event{Kind: SignalVisibility, Hidden: false}},
		{name: "window blur", event: &Event{Kind: SignalBlur}, detected: true},
		{name: "F12", event: &Event{Kind: SignalKeyDown, Key: KeyEvent{Key: "F12"}}, detected: true, prevented: true},
		{name: "ctrl shift I", event: &Event{Kind: SignalKeyDown, Key: KeyEvent{Key: "I", Ctrl: true, Shift: true}}, detected: true, prevented: true},
		{name: "meta shift j", event: &Event{Kind: SignalKeyDown, Key: KeyEvent{Key: "j", Meta: true, Shift: true}}, detected: true, prevented: true},
		{name: "ctrl shift C", event: &Event{Kind: SignalKeyDown, Key: KeyEvent{Key: "C", Ctrl: true, Shift: true}}, detected: true, prevented: true},
		{name: "ctrl U", event: &Event{Kind: SignalKeyDown, Key: KeyEvent{Key: "U", Ctrl: true}}, detected: true, prevented: true},
		{name: "plain i", event: &Event{Kind: SignalKeyDown, Key: KeyEvent{Key: "i"}}},
		{name: "ctrl i without shift", event: &Event{Kind: SignalKeyDown, Key: KeyEvent{Key: "i", Ctrl: true}}},
		{name: "shift i without ctrl", event: &Event{Kind: SignalKeyDown, Key: KeyEvent{Key: "I", Shift: true}}},
		{name: "context menu", event: &Event{Kind: SignalContextMenu}, detected: true, prevented: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, bus := newTestMonitor(t)
			m.Activate()

			bus.Emit(tt.event)

			assert.Equal(t, tt.detected, m.Detected())
			assert.Equal(t, tt.prevented, tt.event.DefaultPrevented())
		})
	}
}

func TestMonitor_FlagIsWriteOnce(t *testing.T) {
	m, bus := newTestMonitor(t)
	m.Activate()

	bus.Emit(&Event{Kind: SignalBlur})
	require.True(t, m.Detected())

	m.Deactivate()
	assert.True(t, m.Detected(), "flag survives deactivation")

	m.Activate()
	bus.Emit(&Event{Kind: SignalVisibility, Hidden: false})
	assert.True(t, m.Detected(), "flag survives reactivation")
}

func TestMonitor_DeactivateRemovesListeners(t *testing.T) {
	m, bus := newTestMonitor(t)
	m.Activate()
	for _, kind := range []SignalKind{SignalVisibility, SignalBlur, SignalKeyDown, SignalContextMenu} {
		assert.Equal(t, 1, bus.Subscribers(kind), kind)
	}

	m.Deactivate()
	for _, kind := range []SignalKind{SignalVisibility, SignalBlur, SignalKeyDown, SignalContextMenu} {
		assert.Zero(t, bus.Subscribers(kind), kind)
	}

	bus.Emit(&Event{Kind: SignalBlur})
	assert.False(t, m.Detected())
}

func TestMonitor_ReactivateDoesNotDuplicateListeners(t *testing.T) {
	var mu sync.Mutex
	var got []Violation
	m, bus := newTestMonitor(t, OnViolation(func(v Violation) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	}))

	first := m.Activate()
	assert.Same(t, first, m.Activate(), "activating twice returns the same handle")
	m.SetActive(false)
	m.SetActive(true)
	m.SetActive(true)

	assert.Equal(t, 1, bus.Subscribers(SignalBlur))

	bus.Emit(&Event{Kind: SignalBlur})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, ReasonBlur, got[0].Reason)
}

func TestMonitor_ActivationRelease(t *testing.T) {
	m, bus := newTestMonitor(t)
	a := m.Activate()

	a.Release()
	a.Release()

	assert.False(t, m.Active())
	assert.Zero(t, bus.Subscribers(SignalKeyDown))
}

func TestMonitor_ViewportPollersDetectDevTools(t *testing.T) {
	var mu sync.Mutex
	reasons := map[string]int{}
	m, bus := newTestMonitor(t, OnViolation(func(v Violation) {
		mu.Lock()
		reasons[v.Reason]++
		mu.Unlock()
	}))
	m.Activate()

	// Below the threshold: 1280-1200 = 80.
	bus.SetViewport(Viewport{OuterWidth: 1280, OuterHeight: 800, InnerWidth: 1200, InnerHeight: 720})
	time.Sleep(30 * time.Millisecond)
	assert.False(t, m.Detected())

	bus.SetViewport(Viewport{OuterWidth: 1280, OuterHeight: 800, InnerWidth: 900, InnerHeight: 720})
	require.Eventually(t, m.Detected, time.Second, 5*time.Millisecond)

	// Let both pollers observe the exceeded state several times.
	time.Sleep(30 * time.Millisecond)
	m.Deactivate()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, reasons[ReasonDevTools], "reported once per episode")
	assert.Equal(t, 1, reasons[ReasonConsole], "reported once per episode")
}

func TestMonitor_Threshold(t *testing.T) {
	m, bus := newTestMonitor(t, WithThreshold(500))
	m.Activate()

	bus.SetViewport(Viewport{OuterWidth: 1280, OuterHeight: 800, InnerWidth: 900, InnerHeight: 720})
	time.Sleep(30 * time.Millisecond)

	assert.False(t, m.Detected())
}

func TestDescribeKey(t *testing.T) {
	assert.Equal(t, "Ctrl+Shift+I", describeKey(KeyEvent{Key: "I", Ctrl: true, Shift: true}))
	assert.Equal(t, "Meta+u", describeKey(KeyEvent{Key: "u", Meta: true}))
	assert.Equal(t, "F12", describeKey(KeyEvent{Key: "F12"}))
}
