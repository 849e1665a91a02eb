package engine

import (
	"maps"
	"slices"

	"github.com/WazeDev/hn-navpoints/internal/dispatcher"
	"github.com/WazeDev/hn-navpoints/internal/fetch"
	"github.com/WazeDev/hn-navpoints/internal/geo"
	"github.com/WazeDev/hn-navpoints/internal/session"
	"github.com/WazeDev/hn-navpoints/pkg/core"
)

// fetchRequest remembers what one processSegs call asked for. Segments are
// snapshotted so the tracker records the update time that was fetched.
type fetchRequest struct {
	reason     string
	generation uint64
	segments   map[int64]core.Segment
}

type fetchResult struct {
	req    *fetchRequest
	result fetch.Result
}

type fetchFailure struct {
	req     *fetchRequest
	failure fetch.Failure
}

func (r *Router) annotatable() []core.Segment {
	return r.host.Segments.SegmentsWhere(func(s core.Segment) bool { return s.HasHNs })
}

// processSegs fetches the stale segments among segs and returns how many
// were requested. processAll bypasses the staleness check.
func (r *Router) processSegs(reason string, segs []core.Segment, processAll bool) int {
	s := r.session.Settings()
	if !s.HNLines && !s.HNNumbers {
		r.disable()
		return 0
	}
	if len(segs) == 0 || r.belowThreshold() {
		return 0
	}

	req := &fetchRequest{
		reason:     reason,
		generation: r.session.Generation(),
		segments:   make(map[int64]core.Segment, len(segs)),
	}
	for _, seg := range segs {
		if seg.IsTemporary() {
			continue
		}
		if _, dup := req.segments[seg.ID]; dup {
			continue
		}
		if _, busy := r.requested[seg.ID]; busy && !processAll {
			continue
		}
		if !r.tracker.ShouldProcess(seg, processAll) {
			continue
		}
		req.segments[seg.ID] = seg
	}
	if len(req.segments) == 0 {
		return 0
	}

	ids := slices.Sorted(maps.Keys(req.segments))
	for _, id := range ids {
		r.requested[id] = struct{}{}
	}
	r.logger.Debug("fetching house numbers", "reason", reason, "segments", len(ids), "processAll", processAll)

	r.fetcher.Fetch(r.runCtx, ids,
		func(res fetch.Result) { r.deliver(cmdFetchResult, fetchResult{req: req, result: res}) },
		func(f fetch.Failure) { r.deliver(cmdFetchFailure, fetchFailure{req: req, failure: f}) },
	)
	return len(ids)
}

// processTouched refetches every segment edited since the last commit.
func (r *Router) processTouched(reason string) {
	if len(r.touched) == 0 {
		return
	}
	ids := slices.Sorted(maps.Keys(r.touched))
	clear(r.touched)
	r.processSegs(reason, r.host.Segments.SegmentsByIDs(ids), true)
}

// current reports whether a completion for generation may still mutate
// the layers.
func (r *Router) current(generation uint64) bool {
	return generation == r.session.Generation() &&
		r.session.State() == session.Active &&
		!r.belowThreshold()
}

func (r *Router) release(req *fetchRequest, ids []int64) {
	if req.generation != r.session.Generation() {
		return
	}
	for _, id := range ids {
		delete(r.requested, id)
	}
}

func (r *Router) handleFetchResult(e dispatcher.Event) (any, error) {
	p := e.Payload.(fetchResult)
	r.release(p.req, p.result.SegmentIDs)
	if !r.current(p.req.generation) {
		r.logger.Debug("discarded stale house numbers",
			"reason", p.req.reason,
			"segments", len(p.result.SegmentIDs))
		return nil, nil
	}

	gone := r.outOfView(p.result.SegmentIDs)
	records := p.result.Records
	if len(gone) > 0 {
		records = slices.DeleteFunc(slices.Clone(records), func(rec core.AnnotationRecord) bool {
			_, drop := gone[rec.SegmentID]
			return drop
		})
		r.logger.Debug("dropped house numbers of segments gone from view",
			"reason", p.req.reason,
			"segments", len(gone))
	}

	drawn := r.recon.Draw(records)
	for _, id := range p.result.SegmentIDs {
		if _, drop := gone[id]; drop {
			continue
		}
		if seg, ok := p.req.segments[id]; ok {
			r.tracker.MarkProcessed(seg)
		}
	}
	r.logger.Debug("drew house numbers",
		"reason", p.req.reason,
		"segments", len(p.result.SegmentIDs)-len(gone),
		"drawn", drawn)
	return drawn, nil
}

// outOfView returns the fetched segments that the host no longer holds or
// that left the visible extent while the request was in flight.
func (r *Router) outOfView(ids []int64) map[int64]struct{} {
	extent := r.host.Viewport.Extent()
	gone := make(map[int64]struct{})
	for _, id := range ids {
		seg, ok := r.host.Segments.SegmentByID(id)
		if !ok || (len(seg.Geometry) > 0 && !geo.Intersects(extent, seg.Geometry)) {
			gone[id] = struct{}{}
		}
	}
	return gone
}

func (r *Router) handleFetchFailure(e dispatcher.Event) (any, error) {
	p := e.Payload.(fetchFailure)
	r.release(p.req, p.failure.SegmentIDs)
	r.logger.Warn("house numbers left unprocessed",
		"reason", p.req.reason,
		"segments", len(p.failure.SegmentIDs),
		"attempts", p.failure.Attempts)
	return nil, nil
}
