package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WazeDev/hn-navpoints/internal/api"
	"github.com/WazeDev/hn-navpoints/internal/config"
	"github.com/WazeDev/hn-navpoints/internal/layer/memory"
	"github.com/WazeDev/hn-navpoints/internal/session"
	"github.com/WazeDev/hn-navpoints/pkg/core"
	"github.com/WazeDev/hn-navpoints/pkg/host"
)

type fakeSegments struct {
	mu   sync.Mutex
	segs map[int64]core.Segment
}

func newFakeSegments(segs ...core.Segment) *fakeSegments {
	f := &fakeSegments{segs: make(map[int64]core.Segment)}
	for _, s := range segs {
		f.segs[s.ID] = s
	}
	return f
}

func (f *fakeSegments) SegmentsWhere(pred func(core.Segment) bool) []core.Segment {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Segment
	for _, s := range f.segs {
		if pred(s) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b core.Segment) int { return int(a.ID - b.ID) })
	return out
}

func (f *fakeSegments) SegmentByID(id int64) (core.Segment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.segs[id]
	return s, ok
}

func (f *fakeSegments) SegmentsByIDs(ids []int64) []core.Segment {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Segment
	for _, id := range ids {
		if s, ok := f.segs[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeSegments) update(id int64, fn func(*core.Segment)) core.Segment {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.segs[id]
	fn(&s)
	f.segs[id] = s
	return s
}

func (f *fakeSegments) remove(id int64) core.Segment {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.segs[id]
	delete(f.segs, id)
	return s
}

func (f *fakeSegments) add(s core.Segment) {
	f.mu.Lock()
	f.segs[s.ID] = s
	f.mu.Unlock()
}

func (f *fakeSegments) get(ids ...int64) []core.Segment {
	return f.SegmentsByIDs(ids)
}

type fakeViewport struct {
	mu     sync.Mutex
	zoom   int
	extent core.Extent
}

func (v *fakeViewport) Zoom() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.zoom
}

func (v *fakeViewport) Extent() core.Extent {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.extent
}

func (v *fakeViewport) setZoom(z int) {
	v.mu.Lock()
	v.zoom = z
	v.mu.Unlock()
}

func (v *fakeViewport) setExtent(e core.Extent) {
	v.mu.Lock()
	v.extent = e
	v.mu.Unlock()
}

type fakeBus struct {
	mu   sync.Mutex
	next int
	subs map[host.Signal]map[int]func(any)
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[host.Signal]map[int]func(any))}
}

func (b *fakeBus) On(sig host.Signal, fn func(any)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sig] == nil {
		b.subs[sig] = make(map[int]func(any))
	}
	b.next++
	id := b.next
	b.subs[sig][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[sig], id)
	}
}

func (b *fakeBus) emit(sig host.Signal, payload any) {
	b.mu.Lock()
	fns := make([]func(any), 0, len(b.subs[sig]))
	for _, fn := range b.subs[sig] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subs {
		n += len(s)
	}
	return n
}

type fakeMarkers struct {
	mu       sync.Mutex
	attached bool
	next     int
	subs     map[int]func(host.MarkerEvent)
}

func (m *fakeMarkers) MarkersAttached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attached
}

func (m *fakeMarkers) setAttached(on bool) {
	m.mu.Lock()
	m.attached = on
	m.mu.Unlock()
}

func (m *fakeMarkers) OnMarkerEvent(fn func(host.MarkerEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs == nil {
		m.subs = make(map[int]func(host.MarkerEvent))
	}
	m.next++
	id := m.next
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *fakeMarkers) emit(ev host.MarkerEvent) {
	m.mu.Lock()
	var fns []func(host.MarkerEvent)
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (m *fakeMarkers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

type fakeUI struct {
	mu     sync.Mutex
	active []func(bool)
	save   []func(bool)
}

func (u *fakeUI) OnActiveFieldChanged(fn func(bool)) func() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.active = append(u.active, fn)
	return func() {}
}

func (u *fakeUI) OnSaveStateChanged(fn func(bool)) func() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.save = append(u.save, fn)
	return func() {}
}

func (u *fakeUI) setPending(pending bool) {
	u.mu.Lock()
	fns := slices.Clone(u.save)
	u.mu.Unlock()
	for _, fn := range fns {
		fn(pending)
	}
}

type fakePopover struct {
	mu    sync.Mutex
	shown []host.TooltipContent
	hides int
}

func (p *fakePopover) Size() host.Size         { return host.Size{W: 80, H: 30} }
func (p *fakePopover) ViewportSize() host.Size { return host.Size{W: 1000, H: 800} }

func (p *fakePopover) Show(c host.TooltipContent, _ host.Placement) {
	p.mu.Lock()
	p.shown = append(p.shown, c)
	p.mu.Unlock()
}

func (p *fakePopover) Hide() {
	p.mu.Lock()
	p.hides++
	p.mu.Unlock()
}

// fakeSource answers from a per-segment record table and records every
// request it receives.
type fakeSource struct {
	mu      sync.Mutex
	records map[int64][]core.AnnotationRecord
	calls   [][]int64
	err     error
	gate    chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{records: make(map[int64][]core.AnnotationRecord)}
}

func (s *fakeSource) FetchAnnotations(ctx context.Context, ids []int64) (api.Batch, error) {
	s.mu.Lock()
	s.calls = append(s.calls, slices.Clone(ids))
	gate, err := s.gate, s.err
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return api.Batch{}, ctx.Err()
		}
	}
	if err != nil {
		return api.Batch{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var batch api.Batch
	for _, id := range ids {
		batch.Records = append(batch.Records, s.records[id]...)
	}
	return batch, nil
}

func (s *fakeSource) set(recs ...core.AnnotationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.records[r.SegmentID] = append(s.records[r.SegmentID], r)
	}
}

func (s *fakeSource) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeSource) setGate(gate chan struct{}) {
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
}

func (s *fakeSource) requests() [][]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

var errBackend = errors.New("backend unavailable")

// countingLayer counts AddFeatures calls.
type countingLayer struct {
	*memory.Layer
	mu   sync.Mutex
	adds int
}

func (c *countingLayer) AddFeatures(fs []*core.Feature) {
	c.mu.Lock()
	c.adds++
	c.mu.Unlock()
	c.Layer.AddFeatures(fs)
}

func (c *countingLayer) addCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adds
}

type harness struct {
	r       *Router
	segs    *fakeSegments
	vp      *fakeViewport
	bus     *fakeBus
	markers *fakeMarkers
	ui      *fakeUI
	popover *fakePopover
	src     *fakeSource
	lines   *countingLayer
	labels  *memory.Layer
	sess    *session.Context
}

func segment(id, updatedOn int64, x float64) core.Segment {
	return core.Segment{
		ID:              id,
		PrimaryStreetID: 100 + id,
		HasHNs:          true,
		UpdatedOn:       updatedOn,
		Geometry:        []core.Point{{X: x, Y: 0}, {X: x + 50, Y: 0}},
	}
}

func annotation(id string, seg int64, number string) core.AnnotationRecord {
	x := float64(seg * 100)
	return core.AnnotationRecord{
		ID:            id,
		SegmentID:     seg,
		Number:        number,
		FractionPoint: core.Point{X: x + 10, Y: 0},
		LabelPoint:    core.Point{X: x + 10, Y: 20},
	}
}

func newHarness(t *testing.T, settings ...func(*config.Settings)) *harness {
	t.Helper()
	s := config.DefaultSettings()
	for _, fn := range settings {
		fn(&s)
	}

	h := &harness{
		segs: newFakeSegments(segment(1, 10, 100), segment(2, 10, 200), segment(3, 10, 300)),
		vp: &fakeViewport{
			zoom:   18,
			extent: core.Extent{MinX: 0, MinY: -1000, MaxX: 1000, MaxY: 1000},
		},
		bus:     newFakeBus(),
		markers: &fakeMarkers{},
		ui:      &fakeUI{},
		popover: &fakePopover{},
		src:     newFakeSource(),
		lines:   &countingLayer{Layer: memory.New("hnNavPoints")},
		labels:  memory.New("hnNavPointsNumbers"),
		sess:    session.NewContext(s),
	}
	h.src.set(annotation("a1", 1, "1"), annotation("a2", 2, "2"), annotation("a3", 3, "3"))

	r, err := New(host.Host{
		Segments: h.segs,
		Viewport: h.vp,
		Bus:      h.bus,
		Markers:  h.markers,
		UI:       h.ui,
		Popover:  h.popover,
	}, h.lines, h.labels, h.src, h.sess,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMarkerPoll(20, time.Millisecond),
	)
	require.NoError(t, err)
	h.r = r

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	t.Cleanup(func() {
		_ = r.Close()
		cancel()
	})
	return h
}

func (h *harness) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.r.Settle(ctx))
}

func (h *harness) enable(t *testing.T) {
	t.Helper()
	require.NoError(t, h.r.Enable(context.Background()))
	h.settle(t)
}

func (h *harness) emit(t *testing.T, sig host.Signal, payload any) {
	t.Helper()
	h.bus.emit(sig, payload)
	h.settle(t)
}

func (h *harness) zoom(t *testing.T, z int) {
	t.Helper()
	h.vp.setZoom(z)
	h.emit(t, host.SignalZoomChanged, z)
}
