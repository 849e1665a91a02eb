// Package engine keeps the rendered house numbers in step with the host
// model. Host signals, fetch completions and public calls are all handled
// on one dispatcher loop, so the layers and the tracker are only ever
// touched from that goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/WazeDev/hn-navpoints/internal/cache"
	"github.com/WazeDev/hn-navpoints/internal/dispatcher"
	"github.com/WazeDev/hn-navpoints/internal/fetch"
	"github.com/WazeDev/hn-navpoints/internal/logging"
	"github.com/WazeDev/hn-navpoints/internal/render"
	"github.com/WazeDev/hn-navpoints/internal/session"
	"github.com/WazeDev/hn-navpoints/internal/tooltip"
	"github.com/WazeDev/hn-navpoints/internal/util"
	"github.com/WazeDev/hn-navpoints/pkg/core"
	"github.com/WazeDev/hn-navpoints/pkg/host"
)

// Loop commands other than the host signals, which use their own names.
const (
	cmdEnable        = "engine.enable"
	cmdDisable       = "engine.disable"
	cmdZoomThreshold = "engine.zoomThreshold"
	cmdTooltip       = "engine.tooltip"
	cmdLayerVisible  = "engine.layerVisible"
	cmdFetchResult   = "fetch.result"
	cmdFetchFailure  = "fetch.failure"
	cmdMarkersReady  = "markers.ready"
	cmdMarkerEvent   = "markers.event"
	cmdActiveField   = "ui.activeField"
	cmdSaveState     = "ui.saveState"
	cmdTooltipHide   = "tooltip.hide"
)

const (
	defaultPollAttempts = 20
	defaultPollInterval = 50 * time.Millisecond

	closeTimeout = 5 * time.Second
)

// ErrNoLayersVisible is returned by Enable when both sub-layers are hidden.
var ErrNoLayersVisible = errors.New("both house number layers are hidden")

// SubLayer names one of the two feature layers.
type SubLayer int

const (
	LinesLayer SubLayer = iota
	LabelsLayer
)

func (l SubLayer) String() string {
	if l == LabelsLayer {
		return "labels"
	}
	return "lines"
}

// Option configures a Router.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	dispLogger   dispatcher.Logger
	queueSize    int
	fetchOpts    []fetch.Option
	pollAttempts int
	pollInterval time.Duration
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDispatcherLogger sets the logger used by the event loop.
func WithDispatcherLogger(l dispatcher.Logger) Option {
	return func(o *options) { o.dispLogger = l }
}

// WithQueueSize sets the event loop capacity.
func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

// WithFetchOptions passes options through to the batch fetcher.
func WithFetchOptions(opts ...fetch.Option) Option {
	return func(o *options) { o.fetchOpts = append(o.fetchOpts, opts...) }
}

// WithMarkerPoll sets how long edit mode waits for the host markers.
func WithMarkerPoll(attempts int, interval time.Duration) Option {
	return func(o *options) {
		o.pollAttempts = attempts
		o.pollInterval = interval
	}
}

// Router is the engine state machine.
type Router struct {
	host    host.Host
	session *session.Context
	disp    *dispatcher.Dispatcher
	fetcher *fetch.Fetcher
	tracker *cache.SegmentTracker
	recon   *render.Reconciler
	tooltip *tooltip.Controller
	logger  *slog.Logger

	pollAttempts int
	pollInterval time.Duration

	// owned by the loop
	subs        []func()
	uiSubs      []func()
	markerSub   func()
	touched     map[int64]struct{}
	requested   map[int64]struct{}
	savePending bool

	polling   cache.SafeCounter
	runCtx    context.Context
	cancel    context.CancelFunc
	started   atomic.Bool
	startOnce sync.Once
	done      chan struct{}
}

// New wires a router to the host collaborators, the two feature layers and
// an annotation source. Call Start before using the public API.
func New(h host.Host, lines, labels host.Layer, source fetch.Source, sess *session.Context, opts ...Option) (*Router, error) {
	if h.Segments == nil || h.Viewport == nil || h.Bus == nil {
		return nil, errors.New("host segments, viewport and bus are required")
	}
	if lines == nil || labels == nil {
		return nil, errors.New("both layers are required")
	}

	o := options{
		logger:       slog.Default(),
		dispLogger:   logging.NewDispatcherLogger(zerolog.Nop()),
		pollAttempts: defaultPollAttempts,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}

	disp, err := dispatcher.New(o.dispLogger, o.queueSize)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	fetcher, err := fetch.New(source, o.logger, o.fetchOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating fetcher: %w", err)
	}

	tracker := cache.NewSegmentTracker()
	r := &Router{
		host:         h,
		session:      sess,
		disp:         disp,
		fetcher:      fetcher,
		tracker:      tracker,
		recon:        render.NewReconciler(lines, labels, h.Segments, tracker, o.logger),
		logger:       o.logger,
		pollAttempts: o.pollAttempts,
		pollInterval: o.pollInterval,
		touched:      make(map[int64]struct{}),
		requested:    make(map[int64]struct{}),
		done:         make(chan struct{}),
	}
	r.runCtx, r.cancel = context.WithCancel(context.Background())

	settings := sess.Settings()
	if h.Popover != nil {
		r.tooltip = tooltip.New(h.Popover, h.Viewport,
			tooltip.WithMinZoom(settings.TooltipMinZoom),
			tooltip.WithHideDelay(settings.TooltipHideDelay),
			tooltip.WithAfterFunc(r.afterFunc),
			tooltip.WithEditing(sess.Editing),
		)
		r.tooltip.SetEnabled(settings.EnableTooltip)
	}

	r.register()
	return r, nil
}

// Start runs the event loop until ctx is done or Close is called.
func (r *Router) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.started.Store(true)
		stop := context.AfterFunc(ctx, r.cancel)
		go func() {
			defer close(r.done)
			defer stop()
			if err := r.disp.Serve(r.runCtx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("event loop stopped", "error", err)
			}
		}()
	})
}

// Close disables the engine, stops the loop and waits for in-flight fetches.
func (r *Router) Close() error {
	var err error
	if r.started.Load() {
		ctx, cancel := context.WithTimeout(r.runCtx, closeTimeout)
		err = r.Disable(ctx)
		cancel()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	} else {
		_, err = r.disp.Dispatch(dispatcher.Event{Command: cmdDisable})
	}
	r.cancel()
	r.fetcher.Wait()
	if r.started.Load() {
		<-r.done
	}
	return errors.Join(err, r.disp.Close())
}

// Settle blocks until the loop is drained and no fetch or marker poll is
// outstanding.
func (r *Router) Settle(ctx context.Context) error {
	for {
		if err := r.disp.Sync(ctx); err != nil {
			return err
		}
		if r.idle() && r.disp.Pending() == 0 {
			return nil
		}
		err := util.Poll(ctx, r.idle, 100, time.Millisecond)
		if err != nil && !errors.Is(err, util.ErrPollTimeout) {
			return err
		}
	}
}

func (r *Router) idle() bool {
	return r.fetcher.InFlight() == 0 && r.polling.Value() == 0
}

// Enable attaches the host listeners and renders everything in view.
func (r *Router) Enable(ctx context.Context) error {
	_, err := r.disp.Call(ctx, dispatcher.Event{Command: cmdEnable})
	return err
}

// Disable detaches the host listeners and removes every rendered feature.
func (r *Router) Disable(ctx context.Context) error {
	_, err := r.disp.Call(ctx, dispatcher.Event{Command: cmdDisable})
	return err
}

// SetZoomThreshold changes the zoom below which nothing is rendered and
// returns the clamped value in effect.
func (r *Router) SetZoomThreshold(ctx context.Context, zoom int) (int, error) {
	res, err := r.disp.Call(ctx, dispatcher.Event{Command: cmdZoomThreshold, Payload: zoom})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}

// SetTooltipEnabled toggles hover tooltips. Labels are redrawn as markers
// or plain features to match.
func (r *Router) SetTooltipEnabled(ctx context.Context, on bool) error {
	_, err := r.disp.Call(ctx, dispatcher.Event{Command: cmdTooltip, Payload: on})
	return err
}

type layerVisibility struct {
	layer   SubLayer
	visible bool
}

// SetLayerVisible shows or hides one sub-layer. Hiding the last visible
// one disables the engine; showing one enables it.
func (r *Router) SetLayerVisible(ctx context.Context, layer SubLayer, visible bool) error {
	_, err := r.disp.Call(ctx, dispatcher.Event{
		Command: cmdLayerVisible,
		Payload: layerVisibility{layer: layer, visible: visible},
	})
	return err
}

// Lines returns the lines layer.
func (r *Router) Lines() host.Layer { return r.recon.Lines() }

// Labels returns the labels layer.
func (r *Router) Labels() host.Layer { return r.recon.Labels() }

// State returns the lifecycle state.
func (r *Router) State() session.State { return r.session.State() }

// Busy returns the number of fetches in progress.
func (r *Router) Busy() int { return r.fetcher.InFlight() }

// HoverLabel shows the tooltip for a label feature under the pointer.
func (r *Router) HoverLabel(label *core.Feature, anchor host.Pixel) bool {
	if r.tooltip == nil || label == nil || label.Kind != core.KindLabel {
		return false
	}
	if r.session.State() != session.Active {
		return false
	}
	return r.tooltip.HoverEnter(host.TooltipContent{
		FeatureID: label.FeatureID,
		SegmentID: label.SegmentID,
		Number:    label.Number,
		Forced:    label.Forced,
		UpdatedBy: label.UpdatedBy,
		Color:     label.Color,
	}, anchor)
}

// LeaveLabel starts hiding the tooltip.
func (r *Router) LeaveLabel() {
	if r.tooltip != nil {
		r.tooltip.HoverExit()
	}
}

// EnterPopover keeps the tooltip open while the pointer is over it.
func (r *Router) EnterPopover() {
	if r.tooltip != nil {
		r.tooltip.PopoverEnter()
	}
}

// LeavePopover starts hiding the tooltip.
func (r *Router) LeavePopover() {
	if r.tooltip != nil {
		r.tooltip.PopoverExit()
	}
}

// afterFunc runs tooltip hides on the loop.
func (r *Router) afterFunc(d time.Duration, fn func()) tooltip.Timer {
	return time.AfterFunc(d, func() { r.post(cmdTooltipHide, fn) })
}

// post hands a host callback to the loop without blocking the host.
func (r *Router) post(command string, payload any) {
	_ = r.disp.Post(dispatcher.Event{Command: command, Payload: payload})
}

// deliver hands a background completion to the loop, waiting for room.
func (r *Router) deliver(command string, payload any) {
	if err := r.disp.PostWait(r.runCtx, dispatcher.Event{Command: command, Payload: payload}); err != nil {
		r.logger.Debug("completion dropped", "command", command, "error", err)
	}
}
