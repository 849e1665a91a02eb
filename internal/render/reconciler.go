// Package render turns annotation records into layer features and keeps
// exactly one rendered set per annotation on the map.
package render

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/WazeDev/hn-navpoints/internal/cache"
	"github.com/WazeDev/hn-navpoints/internal/geo"
	"github.com/WazeDev/hn-navpoints/pkg/core"
	"github.com/WazeDev/hn-navpoints/pkg/host"
)

// FeatureIDPrefix starts every feature id.
const FeatureIDPrefix = "HNNavPoints"

const dashArray = "8, 8"

// FeatureID derives the key shared by the features of one annotation.
func FeatureID(streetID int64, number, id string) string {
	return fmt.Sprintf("%s|%d|%s|%s", FeatureIDPrefix, streetID, number, id)
}

// ColorFor maps the forced flag and editor presence to a color.
func ColorFor(rec core.AnnotationRecord) core.Color {
	switch {
	case rec.Forced && !rec.HasEditor():
		return core.ColorRed
	case rec.Forced:
		return core.ColorOrange
	case !rec.HasEditor():
		return core.ColorYellow
	default:
		return core.ColorWhite
	}
}

// Reconciler owns the lines and labels layers. It is not safe for
// concurrent use; the engine calls it from its event loop only.
type Reconciler struct {
	lines    host.Layer
	labels   host.Layer
	segments host.SegmentProvider
	tracker  *cache.SegmentTracker
	hold     *HoldBuffer
	logger   *slog.Logger

	markerMode bool
	raise      bool
}

// NewReconciler wires the two layers to the segment model and tracker.
func NewReconciler(lines, labels host.Layer, segments host.SegmentProvider, tracker *cache.SegmentTracker, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		lines:    lines,
		labels:   labels,
		segments: segments,
		tracker:  tracker,
		logger:   logger,
	}
	r.hold = newHoldBuffer(r)
	return r
}

// Hold returns the drag hold buffer.
func (r *Reconciler) Hold() *HoldBuffer { return r.hold }

// Lines returns the lines layer.
func (r *Reconciler) Lines() host.Layer { return r.lines }

// Labels returns the labels layer.
func (r *Reconciler) Labels() host.Layer { return r.labels }

// SetMarkerMode switches labels to interactive markers when the labels
// layer supports them. It reports whether marker mode is now active.
func (r *Reconciler) SetMarkerMode(on bool) bool {
	_, ok := r.labels.(host.MarkerLayer)
	r.markerMode = on && ok
	return r.markerMode
}

// MarkerMode reports whether labels are drawn as markers.
func (r *Reconciler) MarkerMode() bool { return r.markerMode }

// SetRaiseOnDraw keeps the layers above the host's layers after each draw.
func (r *Reconciler) SetRaiseOnDraw(on bool) { r.raise = on }

// FeatureIDFor returns the feature id of rec, or false when its segment is
// not in the host model.
func (r *Reconciler) FeatureIDFor(rec core.AnnotationRecord) (string, bool) {
	seg, ok := r.segments.SegmentByID(rec.SegmentID)
	if !ok {
		return "", false
	}
	return FeatureID(seg.PrimaryStreetID, rec.Number, rec.ID), true
}

// Build creates the halo, the colored line and the label for rec.
func Build(rec core.AnnotationRecord, streetID int64) core.RenderedSet {
	fid := FeatureID(streetID, rec.Number, rec.ID)
	color := ColorFor(rec)
	line := geo.Line(rec.FractionPoint, rec.LabelPoint).AsGeometry()

	base := func(kind core.FeatureKind) *core.Feature {
		return &core.Feature{
			Handle:    uuid.NewString(),
			FeatureID: fid,
			SegmentID: rec.SegmentID,
			StreetID:  streetID,
			Kind:      kind,
			Geometry:  line,
		}
	}

	halo := base(core.KindHalo)
	halo.Style = core.Style{
		StrokeWidth:     4,
		StrokeColor:     core.ColorBlack,
		StrokeOpacity:   0.5,
		StrokeDashstyle: "dash",
		StrokeDashArray: dashArray,
	}

	colored := base(core.KindLine)
	colored.Style = core.Style{
		StrokeWidth:     2,
		StrokeColor:     color,
		StrokeOpacity:   1,
		StrokeDashstyle: "dash",
		StrokeDashArray: dashArray,
	}

	label := base(core.KindLabel)
	label.Geometry = geo.ToPoint(rec.LabelPoint).AsGeometry()
	label.Number = rec.Number
	label.Color = color
	label.Forced = rec.Forced
	label.UpdatedBy = rec.UpdatedBy
	label.Style = core.Style{
		StrokeWidth:   3,
		StrokeColor:   color,
		StrokeOpacity: 1,
		FillColor:     core.ColorBlack,
		FillOpacity:   0.6,
	}

	return core.RenderedSet{
		FeatureID: fid,
		Lines:     []*core.Feature{halo, colored},
		Label:     label,
	}
}

// Draw renders records, replacing any set already drawn under the same
// feature id. Records whose segment is unknown are skipped. It returns the
// number of sets drawn.
func (r *Reconciler) Draw(records []core.AnnotationRecord) int {
	if len(records) == 0 {
		return 0
	}

	order := make([]string, 0, len(records))
	sets := make(map[string]core.RenderedSet, len(records))
	skipped := 0
	for _, rec := range records {
		seg, ok := r.segments.SegmentByID(rec.SegmentID)
		if !ok {
			skipped++
			continue
		}
		set := Build(rec, seg.PrimaryStreetID)
		if _, dup := sets[set.FeatureID]; !dup {
			order = append(order, set.FeatureID)
		}
		sets[set.FeatureID] = set
	}
	if skipped > 0 {
		r.logger.Debug("skipped house numbers on unknown segments", "skipped", skipped)
	}
	if len(order) == 0 {
		return 0
	}

	r.hold.FlushIDs(order)

	var lines, labels []*core.Feature
	for _, fid := range order {
		r.RemoveFeature(fid)
		set := sets[fid]
		lines = append(lines, set.Lines...)
		labels = append(labels, set.Label)
	}
	r.attach(lines, labels)

	if r.raise {
		r.raiseLayers()
	}
	return len(order)
}

// attach adds lines and labels with one call per layer.
func (r *Reconciler) attach(lines, labels []*core.Feature) {
	if len(lines) > 0 {
		r.lines.AddFeatures(lines)
	}
	if len(labels) == 0 {
		return
	}
	if ml, ok := r.labels.(host.MarkerLayer); ok && r.markerMode {
		for _, l := range labels {
			ml.AddMarker(l)
		}
		return
	}
	r.labels.AddFeatures(labels)
}

func (r *Reconciler) detachLabels(labels []*core.Feature) {
	if len(labels) == 0 {
		return
	}
	if ml, ok := r.labels.(host.MarkerLayer); ok && r.markerMode {
		for _, l := range labels {
			ml.RemoveMarker(l)
		}
		return
	}
	r.labels.RemoveFeatures(labels)
}

func (r *Reconciler) raiseLayers() {
	for _, l := range []host.Layer{r.lines, r.labels} {
		if rl, ok := l.(host.Raiser); ok {
			rl.RaiseToTop()
		}
	}
}

// Current looks up what is drawn for featureID.
func (r *Reconciler) Current(featureID string) core.RenderedSet {
	set := core.RenderedSet{
		FeatureID: featureID,
		Lines:     r.lines.FeaturesByAttribute(core.AttrFeatureID, featureID),
	}
	if labels := r.labels.FeaturesByAttribute(core.AttrFeatureID, featureID); len(labels) > 0 {
		set.Label = labels[0]
	}
	return set
}

// RemoveFeature removes every feature drawn under featureID and reports
// whether anything was removed.
func (r *Reconciler) RemoveFeature(featureID string) bool {
	lines := r.lines.FeaturesByAttribute(core.AttrFeatureID, featureID)
	labels := r.labels.FeaturesByAttribute(core.AttrFeatureID, featureID)
	if len(lines) > 0 {
		r.lines.RemoveFeatures(lines)
	}
	r.detachLabels(labels)
	return len(lines) > 0 || len(labels) > 0
}

// RemoveRecords removes the sets of records. When a record's segment is
// gone its set is found through the segment tag instead.
func (r *Reconciler) RemoveRecords(records []core.AnnotationRecord) int {
	removed := 0
	for _, rec := range records {
		fid, ok := r.FeatureIDFor(rec)
		if !ok {
			fid, ok = r.findOrphan(rec)
		}
		if !ok {
			continue
		}
		r.hold.Discard(fid)
		if r.RemoveFeature(fid) {
			removed++
		}
	}
	return removed
}

func (r *Reconciler) findOrphan(rec core.AnnotationRecord) (string, bool) {
	suffix := "|" + rec.Number + "|" + rec.ID
	for _, f := range r.lines.FeaturesByAttribute(core.AttrSegmentID, strconv.FormatInt(rec.SegmentID, 10)) {
		if strings.HasSuffix(f.FeatureID, suffix) {
			return f.FeatureID, true
		}
	}
	return "", false
}

// Cull drops committed segments that no longer intersect extent and
// returns their ids.
func (r *Reconciler) Cull(segments []core.Segment, extent core.Extent) []int64 {
	var culled []int64
	for _, seg := range segments {
		if seg.IsTemporary() {
			continue
		}
		if geo.Intersects(extent, seg.Geometry) {
			continue
		}
		r.RemoveSegment(seg.ID)
		culled = append(culled, seg.ID)
	}
	return culled
}

// RemoveSegment removes every feature tagged with the segment and forgets
// it in the tracker.
func (r *Reconciler) RemoveSegment(id int64) {
	key := strconv.FormatInt(id, 10)
	if lines := r.lines.FeaturesByAttribute(core.AttrSegmentID, key); len(lines) > 0 {
		r.lines.RemoveFeatures(lines)
	}
	r.detachLabels(r.labels.FeaturesByAttribute(core.AttrSegmentID, key))
	r.hold.discardSegment(id)
	r.tracker.Forget(id)
}

// DestroyAll empties both layers, the hold buffer and the tracker.
func (r *Reconciler) DestroyAll() {
	r.hold.Clear()
	r.lines.DestroyFeatures()
	r.labels.DestroyFeatures()
	r.tracker.Clear()
}
