// Package session holds the engine's shared mutable state in one explicit
// object handed to every component.
package session

import (
	"log/slog"
	"sync"

	"github.com/WazeDev/hn-navpoints/internal/config"
)

// State is the engine lifecycle state.
type State int

const (
	// Inactive: no host listeners attached.
	Inactive State = iota
	// Active: listeners attached, reconciliation live.
	Active
	// Suspended: listeners attached but zoom is below the threshold.
	Suspended
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case Suspended:
		return "suspended"
	}
	return "unknown"
}

// Context holds the current engine state and settings
type Context struct {
	mu         sync.RWMutex
	state      State
	generation uint64
	editing    bool
	settings   config.Settings
}

// NewContext creates a new Context with the given settings
func NewContext(settings config.Settings) *Context {
	settings.DisableBelowZoom = config.ClampZoom(settings.DisableBelowZoom)
	return &Context{settings: settings}
}

// State returns the current lifecycle state
func (c *Context) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState sets the lifecycle state
func (c *Context) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Generation returns the current fetch generation
func (c *Context) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// NextGeneration invalidates every in-flight fetch and returns the new generation
func (c *Context) NextGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return c.generation
}

// Editing reports whether the host is in house-number edit mode
func (c *Context) Editing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.editing
}

// SetEditing records the host edit mode
func (c *Context) SetEditing(editing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editing = editing
}

// Settings returns a copy of the current settings
func (c *Context) Settings() config.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// UpdateSettings applies fn to the settings under the write lock
func (c *Context) UpdateSettings(fn func(*config.Settings)) config.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.settings)
	c.settings.DisableBelowZoom = config.ClampZoom(c.settings.DisableBelowZoom)
	return c.settings
}

// ZoomThreshold returns the zoom level below which rendering is disabled
func (c *Context) ZoomThreshold() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.DisableBelowZoom
}

// LogAttrs returns the attributes injected into every log record.
// Suitable as a logging.ContextProvider.
func (c *Context) LogAttrs() []slog.Attr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return []slog.Attr{
		slog.String("state", c.state.String()),
		slog.Uint64("generation", c.generation),
	}
}
