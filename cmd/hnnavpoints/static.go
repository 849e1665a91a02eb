package main

import (
	"slices"

	"github.com/WazeDev/hn-navpoints/pkg/core"
	"github.com/WazeDev/hn-navpoints/pkg/host"
)

// staticSegments serves a fixed segment list read from a file.
type staticSegments struct {
	byID  map[int64]core.Segment
	order []int64
}

func newStaticSegments(segs []core.Segment) *staticSegments {
	s := &staticSegments{byID: make(map[int64]core.Segment, len(segs))}
	for _, seg := range segs {
		if _, dup := s.byID[seg.ID]; !dup {
			s.order = append(s.order, seg.ID)
		}
		s.byID[seg.ID] = seg
	}
	slices.Sort(s.order)
	return s
}

func (s *staticSegments) SegmentsWhere(pred func(core.Segment) bool) []core.Segment {
	var out []core.Segment
	for _, id := range s.order {
		if seg := s.byID[id]; pred(seg) {
			out = append(out, seg)
		}
	}
	return out
}

func (s *staticSegments) SegmentByID(id int64) (core.Segment, bool) {
	seg, ok := s.byID[id]
	return seg, ok
}

func (s *staticSegments) SegmentsByIDs(ids []int64) []core.Segment {
	out := make([]core.Segment, 0, len(ids))
	for _, id := range ids {
		if seg, ok := s.byID[id]; ok {
			out = append(out, seg)
		}
	}
	return out
}

type staticViewport struct {
	zoom   int
	extent core.Extent
}

func (v staticViewport) Zoom() int           { return v.zoom }
func (v staticViewport) Extent() core.Extent { return v.extent }

// nopBus never emits; an export run has no edits.
type nopBus struct{}

func (nopBus) On(host.Signal, func(any)) func() { return func() {} }
