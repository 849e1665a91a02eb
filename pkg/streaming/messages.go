// Package streaming defines the messages a websocket layer sends to a
// mirroring map client.
package streaming

import (
	"encoding/json"

	"github.com/WazeDev/hn-navpoints/pkg/core"
)

// Message type constants of the layer mirroring protocol.
const (
	TypeOpenLayer       = "open_layer"
	TypeCloseLayer      = "close_layer"
	TypeAddFeatures     = "add_features"
	TypeRemoveFeatures  = "remove_features"
	TypeDestroyFeatures = "destroy_features"
	TypeSetVisibility   = "set_visibility"
	TypeAck             = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// LayerPayload names the layer a message applies to.
type LayerPayload struct {
	Layer string `json:"layer"`
}

// Feature is the wire form of a rendered feature. Geometry is WKT in
// EPSG:3857.
type Feature struct {
	Handle    string           `json:"handle"`
	FeatureID string           `json:"featureId"`
	SegmentID int64            `json:"segmentId"`
	StreetID  int64            `json:"streetId"`
	Kind      core.FeatureKind `json:"kind"`
	Marker    bool             `json:"marker,omitempty"`
	Geometry  string           `json:"geometry"`
	Style     core.Style       `json:"style"`
	Number    string           `json:"number,omitempty"`
	Color     core.Color       `json:"color,omitempty"`
	Forced    bool             `json:"forced,omitempty"`
	UpdatedBy *int64           `json:"updatedBy,omitempty"`
}

// FeatureFrom converts a layer feature to its wire form.
func FeatureFrom(f *core.Feature, marker bool) Feature {
	return Feature{
		Handle:    f.Handle,
		FeatureID: f.FeatureID,
		SegmentID: f.SegmentID,
		StreetID:  f.StreetID,
		Kind:      f.Kind,
		Marker:    marker,
		Geometry:  f.Geometry.AsText(),
		Style:     f.Style,
		Number:    f.Number,
		Color:     f.Color,
		Forced:    f.Forced,
		UpdatedBy: f.UpdatedBy,
	}
}

// FeaturesPayload carries features added to a layer.
type FeaturesPayload struct {
	Layer    string    `json:"layer"`
	Features []Feature `json:"features"`
}

// RemovePayload carries the handles of features removed from a layer.
type RemovePayload struct {
	Layer   string   `json:"layer"`
	Handles []string `json:"handles"`
}

// VisibilityPayload toggles a layer on the client.
type VisibilityPayload struct {
	Layer   string `json:"layer"`
	Visible bool   `json:"visible"`
}
