// Package websocket mirrors feature layers to a remote map client over a
// WebSocket connection. Queries are answered from a local memory layer.
package websocket

import (
	"log/slog"

	"github.com/WazeDev/hn-navpoints/internal/layer/memory"
	"github.com/WazeDev/hn-navpoints/pkg/core"
	"github.com/WazeDev/hn-navpoints/pkg/streaming"
)

// Layer is a memory layer whose mutations are streamed through a Client.
type Layer struct {
	*memory.Layer
	client *Client
	logger *slog.Logger
}

// New creates a layer named name on client. The client must be dialled
// before Init.
func New(client *Client, name string) *Layer {
	return &Layer{
		Layer:  memory.New(name),
		client: client,
		logger: client.logger.With("layer", name),
	}
}

// Init opens the layer on the server and waits for its ack.
func (l *Layer) Init() error {
	l.client.OnReconnect(l.resync)
	return l.client.openLayer(l.Name())
}

// Close closes the layer on the server. The client stays open.
func (l *Layer) Close() error {
	return l.client.closeLayer(l.Name())
}

func (l *Layer) AddFeatures(features []*core.Feature) {
	l.Layer.AddFeatures(features)
	l.sendFeatures(features, false)
}

func (l *Layer) RemoveFeatures(features []*core.Feature) {
	l.Layer.RemoveFeatures(features)
	l.sendRemove(features)
}

func (l *Layer) AddMarker(f *core.Feature) {
	l.Layer.AddMarker(f)
	l.sendFeatures([]*core.Feature{f}, true)
}

func (l *Layer) RemoveMarker(f *core.Feature) {
	l.Layer.RemoveMarker(f)
	l.sendRemove([]*core.Feature{f})
}

func (l *Layer) DestroyFeatures() {
	l.Layer.DestroyFeatures()
	l.send(streaming.TypeDestroyFeatures, streaming.LayerPayload{Layer: l.Name()})
}

func (l *Layer) SetVisibility(visible bool) {
	l.Layer.SetVisibility(visible)
	l.send(streaming.TypeSetVisibility, streaming.VisibilityPayload{Layer: l.Name(), Visible: visible})
}

func (l *Layer) sendFeatures(features []*core.Feature, marker bool) {
	wire := make([]streaming.Feature, 0, len(features))
	for _, f := range features {
		if f != nil {
			wire = append(wire, streaming.FeatureFrom(f, marker))
		}
	}
	if len(wire) == 0 {
		return
	}
	l.send(streaming.TypeAddFeatures, streaming.FeaturesPayload{Layer: l.Name(), Features: wire})
}

func (l *Layer) sendRemove(features []*core.Feature) {
	handles := make([]string, 0, len(features))
	for _, f := range features {
		if f != nil {
			handles = append(handles, f.Handle)
		}
	}
	if len(handles) == 0 {
		return
	}
	l.send(streaming.TypeRemoveFeatures, streaming.RemovePayload{Layer: l.Name(), Handles: handles})
}

func (l *Layer) send(msgType string, payload any) {
	if err := l.client.Send(msgType, payload); err != nil {
		l.logger.Warn("Failed to send layer message", "type", msgType, "error", err)
	}
}

// resync replaces the remote copy with the local one after a reconnect.
func (l *Layer) resync() {
	l.send(streaming.TypeDestroyFeatures, streaming.LayerPayload{Layer: l.Name()})

	markers := make(map[string]struct{})
	for _, m := range l.Markers() {
		markers[m.Handle] = struct{}{}
	}
	var plain, marked []*core.Feature
	for _, f := range l.Features() {
		if _, ok := markers[f.Handle]; ok {
			marked = append(marked, f)
		} else {
			plain = append(plain, f)
		}
	}
	l.sendFeatures(plain, false)
	l.sendFeatures(marked, true)
	l.send(streaming.TypeSetVisibility, streaming.VisibilityPayload{Layer: l.Name(), Visible: l.Visible()})
	l.logger.Info("Resynced layer", "features", len(plain)+len(marked))
}
