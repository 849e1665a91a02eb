// Package tooltip shows a popover for the house number label under the
// pointer and hides it after a short grace period.
package tooltip

import (
	"sync"
	"time"

	"github.com/WazeDev/hn-navpoints/pkg/host"
)

const (
	DefaultMinZoom   = 18
	DefaultHideDelay = 300 * time.Millisecond

	// gap between the anchor and the popover edge, arrow included
	gap = 10.0
	// arrowMargin keeps the arrow off the popover's rounded corners
	arrowMargin = 12.0
)

// State of the controller.
type State int

const (
	Hidden State = iota
	Showing
)

func (s State) String() string {
	if s == Showing {
		return "showing"
	}
	return "hidden"
}

// Timer is the subset of *time.Timer the controller needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules fn after d.
type AfterFunc func(d time.Duration, fn func()) Timer

func stdAfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Option configures a Controller.
type Option func(*Controller)

// WithMinZoom sets the lowest zoom at which tooltips show.
func WithMinZoom(z int) Option {
	return func(c *Controller) { c.minZoom = z }
}

// WithHideDelay sets the grace period before hiding.
func WithHideDelay(d time.Duration) Option {
	return func(c *Controller) { c.hideDelay = d }
}

// WithAfterFunc replaces the timer source. The engine uses it to run the
// hide on its event loop.
func WithAfterFunc(f AfterFunc) Option {
	return func(c *Controller) { c.afterFunc = f }
}

// WithEditing reports whether the host is in an editing mode.
func WithEditing(f func() bool) Option {
	return func(c *Controller) { c.editing = f }
}

// Controller is the hover state machine.
type Controller struct {
	popover   host.Popover
	viewport  host.Viewport
	minZoom   int
	hideDelay time.Duration
	afterFunc AfterFunc
	editing   func() bool

	mu        sync.Mutex
	enabled   bool
	state     State
	shown     string
	hideTok   uint64
	hideTimer Timer
}

// New creates an enabled controller.
func New(popover host.Popover, viewport host.Viewport, opts ...Option) *Controller {
	c := &Controller{
		popover:   popover,
		viewport:  viewport,
		minZoom:   DefaultMinZoom,
		hideDelay: DefaultHideDelay,
		afterFunc: stdAfterFunc,
		editing:   func() bool { return false },
		enabled:   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetEnabled turns tooltips on or off. Turning them off hides any popover.
func (c *Controller) SetEnabled(on bool) {
	c.mu.Lock()
	c.enabled = on
	c.mu.Unlock()
	if !on {
		c.Hide()
	}
}

// HoverEnter shows the popover for content anchored at a screen position.
// It reports whether the popover is showing content afterwards.
func (c *Controller) HoverEnter(content host.TooltipContent, anchor host.Pixel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled || c.popover == nil || c.editing() {
		return false
	}
	if c.viewport != nil && c.viewport.Zoom() < c.minZoom {
		return false
	}
	c.cancelHideLocked()
	if c.state == Showing && c.shown == content.FeatureID {
		return true
	}

	p := Place(anchor, c.popover.Size(), c.popover.ViewportSize())
	c.popover.Show(content, p)
	c.state = Showing
	c.shown = content.FeatureID
	return true
}

// HoverExit starts the hide grace period.
func (c *Controller) HoverExit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Showing {
		return
	}
	c.cancelHideLocked()
	c.hideTok++
	tok := c.hideTok
	c.hideTimer = c.afterFunc(c.hideDelay, func() { c.hideIf(tok) })
}

// PopoverEnter keeps the popover open while the pointer is over it.
func (c *Controller) PopoverEnter() {
	c.mu.Lock()
	c.cancelHideLocked()
	c.mu.Unlock()
}

// PopoverExit is HoverExit for the popover itself.
func (c *Controller) PopoverExit() {
	c.HoverExit()
}

// Hide closes the popover immediately.
func (c *Controller) Hide() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelHideLocked()
	c.hideLocked()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Shown returns the feature id on display, empty when hidden.
func (c *Controller) Shown() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shown
}

func (c *Controller) hideIf(tok uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok != c.hideTok {
		return
	}
	c.hideTimer = nil
	c.hideLocked()
}

func (c *Controller) hideLocked() {
	if c.state == Hidden {
		return
	}
	c.state = Hidden
	c.shown = ""
	c.popover.Hide()
}

func (c *Controller) cancelHideLocked() {
	c.hideTok++
	if c.hideTimer != nil {
		c.hideTimer.Stop()
		c.hideTimer = nil
	}
}

// Place positions a popover of size pop for an anchor inside a viewport
// of size view. Above the anchor is preferred; below is used when the
// popover does not fit above. The popover is clamped horizontally and the
// arrow moves to keep pointing at the anchor.
func Place(anchor host.Pixel, pop, view host.Size) host.Placement {
	p := host.Placement{Top: anchor.Y - pop.H - gap}
	if p.Top < 0 {
		p.Top = anchor.Y + gap
		p.Below = true
	}

	p.Left = anchor.X - pop.W/2
	if maxLeft := view.W - pop.W; p.Left > maxLeft {
		p.Left = maxLeft
	}
	if p.Left < 0 {
		p.Left = 0
	}

	p.ArrowLeft = anchor.X - p.Left
	lo, hi := arrowMargin, pop.W-arrowMargin
	if hi < lo {
		lo, hi = pop.W/2, pop.W/2
	}
	switch {
	case p.ArrowLeft < lo:
		p.ArrowLeft = lo
	case p.ArrowLeft > hi:
		p.ArrowLeft = hi
	}
	return p
}
