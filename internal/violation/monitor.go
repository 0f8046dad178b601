package violation

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultThreshold is the outer-vs-inner viewport delta, in pixels,
	// above which docked developer tools are assumed open.
	DefaultThreshold = 160
)

// Signal names reported in Violation records.
const (
	ReasonHidden       = "tab_hidden"
	ReasonBlur         = "window_blur"
	ReasonDevTools     = "devtools_resize"
	ReasonConsole      = "console_resize"
	ReasonForbiddenKey = "forbidden_key"
	ReasonContextMenu  = "context_menu"
)

// Violation describes one detected signal.
type Violation struct {
	Reason string
	Detail string
	At     time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPollInterval overrides the viewport poll period.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) { m.pollInterval = d }
}

// WithThreshold overrides the viewport delta threshold.
func WithThreshold(px int) Option {
	return func(m *Monitor) { m.threshold = px }
}

// WithLogger sets the monitor logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// OnViolation registers a hook called for each detected signal. Repeated
// viewport detections are reported once until the condition clears.
func OnViolation(fn func(Violation)) Option {
	return func(m *Monitor) { m.onViolation = fn }
}

// Monitor raises a write-once flag when the candidate appears to leave the
// exam context or open developer tooling. It never ends the exam itself.
type Monitor struct {
	platform     Platform
	pollInterval time.Duration
	threshold    int
	log          zerolog.Logger
	onViolation  func(Violation)

	detected atomic.Bool

	mu     sync.Mutex
	active *Activation
}

// NewMonitor creates an inactive monitor over platform.
func NewMonitor(platform Platform, opts ...Option) *Monitor {
	m := &Monitor{
		platform:     platform,
		pollInterval: DefaultPollInterval,
		threshold:    DefaultThreshold,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Detected reports whether any signal fired during this monitor's lifetime.
func (m *Monitor) Detected() bool { return m.detected.Load() }

// Active reports whether listeners are installed.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// SetActive activates or deactivates the monitor.
func (m *Monitor) SetActive(on bool) {
	if on {
		m.Activate()
		return
	}
	m.Deactivate()
}

// Activate installs all listeners and starts both viewport pollers. It
// returns the handle owning them; activating twice returns the same handle.
func (m *Monitor) Activate() *Activation {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return m.active
	}

	a := &Activation{monitor: m, stop: make(chan struct{})}
	a.unsubscribe = []func(){
		m.platform.Subscribe(SignalVisibility, func(ev *Event) {
			if ev.Hidden {
				m.raise(ReasonHidden, "")
			}
		}),
		m.platform.Subscribe(SignalBlur, func(*Event) {
			m.raise(ReasonBlur, "")
		}),
		m.platform.Subscribe(SignalKeyDown, func(ev *Event) {
			if forbiddenKey(ev.Key) {
				ev.PreventDefault()
				m.raise(ReasonForbiddenKey, describeKey(ev.Key))
			}
		}),
		m.platform.Subscribe(SignalContextMenu, func(ev *Event) {
			ev.PreventDefault()
			m.raise(ReasonContextMenu, "")
		}),
	}

	// Two independent pollers, one per detection path.
	a.poll(ReasonDevTools)
	a.poll(ReasonConsole)

	m.active = a
	m.log.Debug().Msg("Violation monitor activated")
	return a
}

// Deactivate removes every listener and stops the pollers of the current
// activation. It is a no-op when inactive.
func (m *Monitor) Deactivate() {
	m.mu.Lock()
	a := m.active
	m.active = nil
	m.mu.Unlock()

	if a != nil {
		a.release()
		m.log.Debug().Msg("Violation monitor deactivated")
	}
}

func (m *Monitor) raise(reason, detail string) {
	if m.detected.CompareAndSwap(false, true) {
		m.log.Warn().Str("reason", reason).Str("detail", detail).Msg("Violation detected")
	}
	if m.onViolation != nil {
		m.onViolation(Violation{Reason: reason, Detail: detail, At: time.Now()})
	}
}

func (m *Monitor) viewportExceeded() bool {
	v := m.platform.Viewport()
	return v.OuterWidth-v.InnerWidth > m.threshold || v.OuterHeight-v.InnerHeight > m.threshold
}

// Activation owns the subscriptions and pollers of one activation.
type Activation struct {
	monitor     *Monitor
	unsubscribe []func()
	stop        chan struct{}
	wg          sync.WaitGroup
	once        sync.Once
}

// Release removes all listeners and stops the pollers. Safe to call more
// than once; the monitor's Deactivate calls it.
func (a *Activation) Release() {
	a.monitor.mu.Lock()
	if a.monitor.active == a {
		a.monitor.active = nil
	}
	a.monitor.mu.Unlock()
	a.release()
}

func (a *Activation) release() {
	a.once.Do(func() {
		for _, unsub := range a.unsubscribe {
			unsub()
		}
		close(a.stop)
		a.wg.Wait()
	})
}

func (a *Activation) poll(reason string) {
	m := a.monitor
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()

		reported := false
		for {
			select {
			case <-a.stop:
				return
			case <-ticker.C:
				if !m.viewportExceeded() {
					reported = false
					continue
				}
				if reported {
					m.detected.Store(true)
					continue
				}
				reported = true
				v := m.platform.Viewport()
				m.raise(reason, fmt.Sprintf("outer %dx%d inner %dx%d",
					v.OuterWidth, v.OuterHeight, v.InnerWidth, v.InnerHeight))
			}
		}
	}()
}

func describeKey(k KeyEvent) string {
	s := ""
	if k.Ctrl {
		s += "Ctrl+"
	}
	if k.Meta {
		s += "Meta+"
	}
	if k.Shift {
		s += "Shift+"
	}
	return s + k.Key
}
