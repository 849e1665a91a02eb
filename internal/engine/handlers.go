package engine

import (
	"fmt"
	"strings"

	"github.com/WazeDev/hn-navpoints/internal/config"
	"github.com/WazeDev/hn-navpoints/internal/dispatcher"
	"github.com/WazeDev/hn-navpoints/internal/session"
	"github.com/WazeDev/hn-navpoints/pkg/core"
	"github.com/WazeDev/hn-navpoints/pkg/host"
)

func (r *Router) register() {
	d := r.disp

	d.Register(cmdEnable, func(dispatcher.Event) (any, error) {
		return nil, r.enable()
	}, dispatcher.Logged())
	d.Register(cmdDisable, func(dispatcher.Event) (any, error) {
		r.disable()
		return nil, nil
	}, dispatcher.Logged())
	d.Register(cmdZoomThreshold, r.handleZoomThreshold, dispatcher.Logged())
	d.Register(cmdTooltip, r.handleTooltip, dispatcher.Logged())
	d.Register(cmdLayerVisible, r.handleLayerVisible, dispatcher.Logged())

	d.Register(cmdFetchResult, r.handleFetchResult)
	d.Register(cmdFetchFailure, r.handleFetchFailure)
	d.Register(cmdMarkersReady, r.handleMarkersReady, dispatcher.Logged())
	d.Register(cmdMarkerEvent, r.handleMarkerEvent, dispatcher.Logged())
	d.Register(cmdActiveField, r.handleActiveField)
	d.Register(cmdSaveState, r.handleSaveState)
	d.Register(cmdTooltipHide, func(e dispatcher.Event) (any, error) {
		if fn, ok := e.Payload.(func()); ok {
			fn()
		}
		return nil, nil
	})

	r.on(host.SignalSegmentsAdded, r.onSegmentsAdded, false)
	r.on(host.SignalSegmentsRemoved, r.onSegmentsRemoved, false)
	r.on(host.SignalAnnotationAdded, r.onAnnotationAdded, false)
	r.on(host.SignalAnnotationChanged, r.onAnnotationChanged, false)
	r.on(host.SignalAnnotationDeleted, r.onAnnotationDeleted, false)
	r.on(host.SignalAnnotationIDChanged, r.onAnnotationIDChanged, false)
	r.on(host.SignalAfterAction, r.onAction(false), false)
	r.on(host.SignalAfterUndoAction, r.onAction(true), false)
	r.on(host.SignalAfterClearActions, r.onClearActions, false)
	r.on(host.SignalZoomChanged, r.onZoomChanged, true)
	r.on(host.SignalViewportMoved, r.onViewportMoved, false)
	r.on(host.SignalEditModeChanged, r.onEditModeChanged, true)
	r.on(host.SignalSaveCommitted, r.onSaveCommitted, false)
	r.on(host.SignalReloadRequested, r.onReloadRequested, false)
}

// on registers a signal handler that only runs while the engine is active,
// or also while suspended when suspended is set.
func (r *Router) on(sig host.Signal, fn func(payload any) error, suspended bool) {
	r.disp.Register(string(sig), func(e dispatcher.Event) (any, error) {
		switch r.session.State() {
		case session.Active:
		case session.Suspended:
			if !suspended {
				return nil, nil
			}
		default:
			return nil, nil
		}
		return nil, fn(e.Payload)
	}, dispatcher.Logged())
}

func payloadAs[T any](sig host.Signal, payload any) (T, error) {
	v, ok := payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s: unexpected payload %T", sig, payload)
	}
	return v, nil
}

func (r *Router) enable() error {
	if r.session.State() != session.Inactive {
		return nil
	}
	s := r.session.Settings()
	if !s.HNLines && !s.HNNumbers {
		return ErrNoLayersVisible
	}

	r.recon.Lines().SetVisibility(s.HNLines)
	r.recon.Labels().SetVisibility(s.HNNumbers)
	r.recon.SetMarkerMode(s.EnableTooltip)
	r.recon.SetRaiseOnDraw(s.KeepAnnotationLayerOnTop)

	for _, sig := range host.Signals {
		r.subs = append(r.subs, r.host.Bus.On(sig, func(payload any) {
			r.post(string(sig), payload)
		}))
	}
	if ui := r.host.UI; ui != nil {
		r.uiSubs = append(r.uiSubs,
			ui.OnActiveFieldChanged(func(active bool) { r.post(cmdActiveField, active) }),
			ui.OnSaveStateChanged(func(pending bool) { r.post(cmdSaveState, pending) }),
		)
	}

	r.session.SetState(session.Active)
	r.logger.Info("enabled", "threshold", s.DisableBelowZoom)

	if r.belowThreshold() {
		r.suspend()
		return nil
	}
	r.processSegs("init", r.annotatable(), false)
	return nil
}

func (r *Router) disable() {
	if r.session.State() == session.Inactive {
		return
	}
	for _, unsub := range append(r.subs, r.uiSubs...) {
		if unsub != nil {
			unsub()
		}
	}
	r.subs, r.uiSubs = nil, nil
	r.detachMarkers()

	r.session.SetState(session.Inactive)
	r.reset()
	r.hideTooltip()
	clear(r.touched)
	r.savePending = false
	r.logger.Info("disabled")
}

// suspend tears the rendering down while zoomed out.
func (r *Router) suspend() {
	r.session.SetState(session.Suspended)
	r.reset()
	r.hideTooltip()
	r.logger.Debug("suspended", "zoom", r.host.Viewport.Zoom(), "threshold", r.session.ZoomThreshold())
}

// reset drops every rendered feature and invalidates in-flight fetches.
func (r *Router) reset() {
	r.recon.DestroyAll()
	r.session.NextGeneration()
	clear(r.requested)
}

func (r *Router) hideTooltip() {
	if r.tooltip != nil {
		r.tooltip.Hide()
	}
}

func (r *Router) belowThreshold() bool {
	return r.host.Viewport.Zoom() < r.session.ZoomThreshold()
}

func (r *Router) handleZoomThreshold(e dispatcher.Event) (any, error) {
	zoom, ok := e.Payload.(int)
	if !ok {
		return nil, fmt.Errorf("zoom threshold: unexpected payload %T", e.Payload)
	}
	s := r.session.UpdateSettings(func(s *config.Settings) { s.DisableBelowZoom = zoom })

	switch r.session.State() {
	case session.Active:
		if r.belowThreshold() {
			r.suspend()
			break
		}
		r.processSegs("settingChanged", r.annotatable(), true)
	case session.Suspended:
		if !r.belowThreshold() {
			r.session.SetState(session.Active)
			r.processSegs("settingChanged", r.annotatable(), true)
		}
	}
	return s.DisableBelowZoom, nil
}

func (r *Router) handleTooltip(e dispatcher.Event) (any, error) {
	on, ok := e.Payload.(bool)
	if !ok {
		return nil, fmt.Errorf("tooltip: unexpected payload %T", e.Payload)
	}
	r.session.UpdateSettings(func(s *config.Settings) { s.EnableTooltip = on })
	if r.tooltip != nil {
		r.tooltip.SetEnabled(on)
	}

	was := r.recon.MarkerMode()
	if r.recon.SetMarkerMode(on) == was || r.session.State() != session.Active {
		return nil, nil
	}
	r.reset()
	r.processSegs("settingChanged", r.annotatable(), true)
	return nil, nil
}

func (r *Router) handleLayerVisible(e dispatcher.Event) (any, error) {
	lv, ok := e.Payload.(layerVisibility)
	if !ok {
		return nil, fmt.Errorf("layer visibility: unexpected payload %T", e.Payload)
	}
	s := r.session.UpdateSettings(func(s *config.Settings) {
		if lv.layer == LabelsLayer {
			s.HNNumbers = lv.visible
		} else {
			s.HNLines = lv.visible
		}
	})
	if lv.layer == LabelsLayer {
		r.recon.Labels().SetVisibility(lv.visible)
	} else {
		r.recon.Lines().SetVisibility(lv.visible)
	}

	if !lv.visible {
		if !s.HNLines && !s.HNNumbers {
			r.disable()
		}
		return nil, nil
	}
	if r.session.State() == session.Inactive {
		return nil, r.enable()
	}
	r.processSegs(lv.layer.String()+"Toggled", r.annotatable(), false)
	return nil, nil
}

func (r *Router) onZoomChanged(payload any) error {
	zoom, err := payloadAs[int](host.SignalZoomChanged, payload)
	if err != nil {
		return err
	}
	if zoom < r.session.ZoomThreshold() {
		if r.session.State() == session.Active {
			r.suspend()
		}
		return nil
	}
	if r.session.State() == session.Suspended {
		r.session.SetState(session.Active)
		r.logger.Debug("resumed", "zoom", zoom)
	}
	r.processSegs("zoomChanged", r.annotatable(), false)
	return nil
}

func (r *Router) onViewportMoved(any) error {
	r.processSegs("viewportMoved", r.annotatable(), false)
	return nil
}

func (r *Router) onSegmentsAdded(payload any) error {
	segs, err := payloadAs[[]core.Segment](host.SignalSegmentsAdded, payload)
	if err != nil {
		return err
	}
	r.processSegs("segmentsAdded", withHNs(segs), false)
	return nil
}

func (r *Router) onSegmentsRemoved(payload any) error {
	segs, err := payloadAs[[]core.Segment](host.SignalSegmentsRemoved, payload)
	if err != nil {
		return err
	}
	if culled := r.recon.Cull(segs, r.host.Viewport.Extent()); len(culled) > 0 {
		r.logger.Debug("culled segments", "segments", len(culled))
	}
	return nil
}

func (r *Router) onAnnotationAdded(payload any) error {
	rec, err := payloadAs[core.AnnotationRecord](host.SignalAnnotationAdded, payload)
	if err != nil {
		return err
	}
	r.touch(rec.SegmentID)
	r.recon.Draw([]core.AnnotationRecord{rec})
	return nil
}

func (r *Router) onAnnotationChanged(payload any) error {
	ch, err := payloadAs[host.AnnotationChange](host.SignalAnnotationChanged, payload)
	if err != nil {
		return err
	}
	if ch.Previous != nil {
		r.touch(ch.Previous.SegmentID)
		r.recon.RemoveRecords([]core.AnnotationRecord{*ch.Previous})
	}
	r.touch(ch.Record.SegmentID)
	r.recon.Draw([]core.AnnotationRecord{ch.Record})
	return nil
}

func (r *Router) onAnnotationDeleted(payload any) error {
	rec, err := payloadAs[core.AnnotationRecord](host.SignalAnnotationDeleted, payload)
	if err != nil {
		return err
	}
	r.touch(rec.SegmentID)
	r.recon.RemoveRecords([]core.AnnotationRecord{rec})
	return nil
}

func (r *Router) onAnnotationIDChanged(payload any) error {
	ch, err := payloadAs[host.AnnotationIDChange](host.SignalAnnotationIDChanged, payload)
	if err != nil {
		return err
	}
	old := ch.Record
	old.ID = ch.OldID
	r.touch(ch.Record.SegmentID)
	r.recon.RemoveRecords([]core.AnnotationRecord{old})
	r.recon.Draw([]core.AnnotationRecord{ch.Record})
	return nil
}

type actionKind int

const (
	actionOther actionKind = iota
	actionAdded
	actionUpdated
	actionDeleted
	actionMoved
)

var actionCategories = []struct {
	marker string
	kind   actionKind
}{
	{"Added annotation", actionAdded},
	{"Updated annotation", actionUpdated},
	{"Deleted annotation", actionDeleted},
	{"Moved annotation", actionMoved},
}

func classifyAction(description string) actionKind {
	for _, c := range actionCategories {
		if strings.Contains(description, c.marker) {
			return c.kind
		}
	}
	return actionOther
}

// onAction applies an undo-stack entry. A forward action replaces Before
// with After; an undo replaces After with Before.
func (r *Router) onAction(undo bool) func(payload any) error {
	sig := host.SignalAfterAction
	if undo {
		sig = host.SignalAfterUndoAction
	}
	return func(payload any) error {
		a, err := payloadAs[host.Action](sig, payload)
		if err != nil {
			return err
		}
		from, to := a.Before, a.After
		if undo {
			from, to = to, from
		}

		kind := classifyAction(a.Description)
		if kind == actionOther {
			// unrelated actions only ever add what they carry
			from = nil
		}
		if from != nil {
			r.touch(from.SegmentID)
			r.recon.RemoveRecords([]core.AnnotationRecord{*from})
		}
		if to != nil {
			r.touch(to.SegmentID)
			r.recon.Draw([]core.AnnotationRecord{*to})
		}
		if r.session.Editing() {
			r.attachMarkers()
		}
		return nil
	}
}

func (r *Router) onClearActions(any) error {
	r.processSegs("afterClearActions", r.annotatable(), r.session.Editing())
	return nil
}

func (r *Router) onSaveCommitted(any) error {
	r.processTouched("saveCommitted")
	return nil
}

func (r *Router) onReloadRequested(any) error {
	r.reset()
	r.processSegs("reloadRequested", r.annotatable(), false)
	return nil
}

func (r *Router) handleActiveField(e dispatcher.Event) (any, error) {
	active, _ := e.Payload.(bool)
	if !active && r.session.State() == session.Active && r.session.Editing() {
		r.attachMarkers()
	}
	return nil, nil
}

func (r *Router) handleSaveState(e dispatcher.Event) (any, error) {
	pending, _ := e.Payload.(bool)
	was := r.savePending
	r.savePending = pending
	if was && !pending && r.session.State() == session.Active {
		r.processTouched("saveCommitted")
	}
	return nil, nil
}

func (r *Router) touch(segmentID int64) {
	r.touched[segmentID] = struct{}{}
}

func withHNs(segs []core.Segment) []core.Segment {
	out := make([]core.Segment, 0, len(segs))
	for _, s := range segs {
		if s.HasHNs {
			out = append(out, s)
		}
	}
	return out
}
