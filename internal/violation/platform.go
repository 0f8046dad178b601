package violation

import (
	"sync"
)

// SignalKind names a browser-level event the monitor listens to.
type SignalKind string

const (
	SignalVisibility  SignalKind = "visibilitychange"
	SignalBlur        SignalKind = "blur"
	SignalKeyDown     SignalKind = "keydown"
	SignalContextMenu SignalKind = "contextmenu"
)

// KeyEvent is a key press with its modifier state.
type KeyEvent struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrl"`
	Meta  bool   `json:"meta"`
	Shift bool   `json:"shift"`
}

// Event is one platform signal. Handlers may suppress the default action.
type Event struct {
	Kind   SignalKind
	Hidden bool
	Key    KeyEvent

	prevented bool
}

// PreventDefault marks the default browser action as suppressed.
func (e *Event) PreventDefault() { e.prevented = true }

// DefaultPrevented reports whether a handler suppressed the default action.
func (e *Event) DefaultPrevented() bool { return e.prevented }

// Handler receives platform events.
type Handler func(*Event)

// Viewport holds window and content dimensions in CSS pixels.
type Viewport struct {
	OuterWidth  int `json:"outer_width"`
	OuterHeight int `json:"outer_height"`
	InnerWidth  int `json:"inner_width"`
	InnerHeight int `json:"inner_height"`
}

// Platform is the signal source the monitor subscribes to.
type Platform interface {
	// Subscribe registers h for kind and returns the function removing it.
	Subscribe(kind SignalKind, h Handler) (unsubscribe func())
	// Viewport returns the latest known window dimensions.
	Viewport() Viewport
}

// Bus is a Platform fed by signals relayed from the candidate's browser.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[SignalKind]map[uint64]Handler
	viewport Viewport
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[SignalKind]map[uint64]Handler)}
}

func (b *Bus) Subscribe(kind SignalKind, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[uint64]Handler)
	}
	b.handlers[kind][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[kind], id)
		})
	}
}

func (b *Bus) Viewport() Viewport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.viewport
}

// SetViewport records the latest dimensions reported by the browser.
func (b *Bus) SetViewport(v Viewport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.viewport = v
}

// Emit delivers ev to every handler subscribed to its kind.
func (b *Bus) Emit(ev *Event) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[ev.Kind]))
	for _, h := range b.handlers[ev.Kind] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}

// Subscribers returns the number of handlers registered for kind.
func (b *Bus) Subscribers(kind SignalKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}
