package engine

import (
	"github.com/WazeDev/hn-navpoints/internal/dispatcher"
	"github.com/WazeDev/hn-navpoints/internal/session"
	"github.com/WazeDev/hn-navpoints/internal/util"
	"github.com/WazeDev/hn-navpoints/pkg/core"
	"github.com/WazeDev/hn-navpoints/pkg/host"
)

func (r *Router) onEditModeChanged(payload any) error {
	editing, err := payloadAs[bool](host.SignalEditModeChanged, payload)
	if err != nil {
		return err
	}
	r.session.SetEditing(editing)
	if editing {
		r.hideTooltip()
		r.watchMarkers()
		return nil
	}

	r.recon.Hold().Flush()
	r.detachMarkers()
	r.processTouched("editModeExited")
	return nil
}

// watchMarkers waits in the background for the host to attach its
// house-number markers, then hooks them on the loop.
func (r *Router) watchMarkers() {
	if r.host.Markers == nil {
		return
	}
	r.polling.Inc()
	go func() {
		defer r.polling.Dec()
		err := util.Poll(r.runCtx, r.host.Markers.MarkersAttached, r.pollAttempts, r.pollInterval)
		r.deliver(cmdMarkersReady, err)
	}()
}

func (r *Router) handleMarkersReady(e dispatcher.Event) (any, error) {
	if err, _ := e.Payload.(error); err != nil {
		r.logger.Warn("house number markers not attached", "error", err)
		return nil, nil
	}
	if r.session.State() == session.Inactive || !r.session.Editing() {
		return nil, nil
	}
	r.attachMarkers()
	return nil, nil
}

func (r *Router) attachMarkers() {
	if r.host.Markers == nil {
		return
	}
	r.detachMarkers()
	r.markerSub = r.host.Markers.OnMarkerEvent(func(ev host.MarkerEvent) {
		r.post(cmdMarkerEvent, ev)
	})
}

func (r *Router) detachMarkers() {
	if r.markerSub != nil {
		r.markerSub()
		r.markerSub = nil
	}
}

func (r *Router) handleMarkerEvent(e dispatcher.Event) (any, error) {
	ev, err := payloadAs[host.MarkerEvent]("marker", e.Payload)
	if err != nil {
		return nil, err
	}
	if r.session.State() != session.Active || !r.session.Editing() {
		return nil, nil
	}

	hold := r.recon.Hold()
	switch ev.Type {
	case host.MarkerDragStart:
		if fid, ok := r.recon.FeatureIDFor(ev.Record); ok {
			hold.Hold(fid)
		}
	case host.MarkerDragEnd:
		if !ev.Changed {
			hold.Flush()
			break
		}
		// the drop may have changed the feature id; the held copy is obsolete
		hold.Clear()
		r.touch(ev.Record.SegmentID)
		r.recon.Draw([]core.AnnotationRecord{ev.Record})
	case host.MarkerDelete:
		r.touch(ev.Record.SegmentID)
		r.recon.RemoveRecords([]core.AnnotationRecord{ev.Record})
	}
	return nil, nil
}
