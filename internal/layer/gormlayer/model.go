package gormlayer

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/WazeDev/hn-navpoints/pkg/core"
)

// FeatureRow is the persisted form of one rendered feature. Geometry is WKT
// in EPSG:3857.
type FeatureRow struct {
	Handle    string         `json:"handle" gorm:"primaryKey;size:64"`
	LayerName string         `json:"layerName" gorm:"index;size:64;not null"`
	FeatureID string         `json:"featureId" gorm:"index;size:255;not null"`
	SegmentID int64          `json:"segmentId" gorm:"index"`
	StreetID  int64          `json:"streetId"`
	Kind      string         `json:"kind" gorm:"size:16"`
	Marker    bool           `json:"marker"`
	Number    string         `json:"number" gorm:"size:32"`
	Color     string         `json:"color" gorm:"size:16"`
	Forced    bool           `json:"forced"`
	UpdatedBy *int64         `json:"updatedBy"`
	Geometry  string         `json:"geometry"`
	Style     datatypes.JSON `json:"style"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (*FeatureRow) TableName() string {
	return "hn_features"
}

// Models lists the tables a gorm layer needs migrated.
var Models = []any{&FeatureRow{}}

func rowFor(layer string, f *core.Feature, marker bool) FeatureRow {
	style, err := json.Marshal(f.Style)
	if err != nil {
		style = []byte("{}")
	}
	return FeatureRow{
		Handle:    f.Handle,
		LayerName: layer,
		FeatureID: f.FeatureID,
		SegmentID: f.SegmentID,
		StreetID:  f.StreetID,
		Kind:      string(f.Kind),
		Marker:    marker,
		Number:    f.Number,
		Color:     string(f.Color),
		Forced:    f.Forced,
		UpdatedBy: f.UpdatedBy,
		Geometry:  f.Geometry.AsText(),
		Style:     datatypes.JSON(style),
	}
}
