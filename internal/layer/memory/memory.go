// internal/layer/memory/memory.go
package memory

import (
	"slices"
	"strconv"
	"sync"

	"github.com/WazeDev/hn-navpoints/pkg/core"
)

type entry struct {
	feature *core.Feature
	seq     uint64
	marker  bool
}

// Layer keeps features in memory, indexed by feature id and segment id.
// It also implements host.MarkerLayer and host.Raiser.
type Layer struct {
	name string

	mu        sync.RWMutex
	byHandle  map[string]*entry
	byFeature map[string]map[string]struct{}
	bySegment map[int64]map[string]struct{}
	seq       uint64
	visible   bool
	raised    int
}

// New creates an empty, visible layer.
func New(name string) *Layer {
	return &Layer{
		name:      name,
		byHandle:  make(map[string]*entry),
		byFeature: make(map[string]map[string]struct{}),
		bySegment: make(map[int64]map[string]struct{}),
		visible:   true,
	}
}

// Init is a no-op for the memory layer.
func (l *Layer) Init() error { return nil }

// Close is a no-op for the memory layer.
func (l *Layer) Close() error { return nil }

func (l *Layer) Name() string { return l.name }

func (l *Layer) AddFeatures(features []*core.Feature) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range features {
		l.insert(f, false)
	}
}

func (l *Layer) RemoveFeatures(features []*core.Feature) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range features {
		l.delete(f)
	}
}

// AddMarker adds a label as an interactive marker.
func (l *Layer) AddMarker(f *core.Feature) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.insert(f, true)
}

// RemoveMarker removes a marker added with AddMarker.
func (l *Layer) RemoveMarker(f *core.Feature) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delete(f)
}

func (l *Layer) insert(f *core.Feature, marker bool) {
	if f == nil {
		return
	}
	if _, ok := l.byHandle[f.Handle]; ok {
		l.delete(f)
	}
	l.seq++
	l.byHandle[f.Handle] = &entry{feature: f, seq: l.seq, marker: marker}
	addIndex(l.byFeature, f.FeatureID, f.Handle)
	addIndex(l.bySegment, f.SegmentID, f.Handle)
}

func (l *Layer) delete(f *core.Feature) {
	if f == nil {
		return
	}
	e, ok := l.byHandle[f.Handle]
	if !ok {
		return
	}
	delete(l.byHandle, f.Handle)
	dropIndex(l.byFeature, e.feature.FeatureID, f.Handle)
	dropIndex(l.bySegment, e.feature.SegmentID, f.Handle)
}

func addIndex[K comparable](idx map[K]map[string]struct{}, key K, handle string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[handle] = struct{}{}
}

func dropIndex[K comparable](idx map[K]map[string]struct{}, key K, handle string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, handle)
	if len(set) == 0 {
		delete(idx, key)
	}
}

// FeaturesByAttribute returns matching features in insertion order.
func (l *Layer) FeaturesByAttribute(key, value string) []*core.Feature {
	l.mu.RLock()
	defer l.mu.RUnlock()

	switch key {
	case core.AttrFeatureID:
		return l.collect(l.byFeature[value])
	case core.AttrSegmentID:
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil
		}
		return l.collect(l.bySegment[id])
	}

	var out []*entry
	for _, e := range l.byHandle {
		if v, ok := e.feature.Attribute(key); ok && v == value {
			out = append(out, e)
		}
	}
	return sorted(out)
}

func (l *Layer) collect(handles map[string]struct{}) []*core.Feature {
	if len(handles) == 0 {
		return nil
	}
	out := make([]*entry, 0, len(handles))
	for h := range handles {
		out = append(out, l.byHandle[h])
	}
	return sorted(out)
}

func sorted(entries []*entry) []*core.Feature {
	if len(entries) == 0 {
		return nil
	}
	slices.SortFunc(entries, func(a, b *entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	out := make([]*core.Feature, len(entries))
	for i, e := range entries {
		out[i] = e.feature
	}
	return out
}

// Features returns every feature in insertion order.
func (l *Layer) Features() []*core.Feature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*entry, 0, len(l.byHandle))
	for _, e := range l.byHandle {
		out = append(out, e)
	}
	return sorted(out)
}

// Markers returns the features added as markers.
func (l *Layer) Markers() []*core.Feature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*entry
	for _, e := range l.byHandle {
		if e.marker {
			out = append(out, e)
		}
	}
	return sorted(out)
}

// Len returns the number of features on the layer.
func (l *Layer) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byHandle)
}

func (l *Layer) DestroyFeatures() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byHandle = make(map[string]*entry)
	l.byFeature = make(map[string]map[string]struct{})
	l.bySegment = make(map[int64]map[string]struct{})
}

func (l *Layer) SetVisibility(visible bool) {
	l.mu.Lock()
	l.visible = visible
	l.mu.Unlock()
}

func (l *Layer) Visible() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.visible
}

// RaiseToTop only counts calls; there is no stacking order in memory.
func (l *Layer) RaiseToTop() {
	l.mu.Lock()
	l.raised++
	l.mu.Unlock()
}

// Raised returns how often RaiseToTop was called.
func (l *Layer) Raised() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.raised
}
