package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WazeDev/hn-navpoints/internal/geo"
	"github.com/WazeDev/hn-navpoints/pkg/core"
	"github.com/WazeDev/hn-navpoints/pkg/host"
	"github.com/WazeDev/hn-navpoints/pkg/streaming"
)

var (
	_ host.Layer       = (*Layer)(nil)
	_ host.MarkerLayer = (*Layer)(nil)
)

type received struct {
	conn int
	env  streaming.Envelope
}

type messageLog struct {
	mu       sync.Mutex
	messages []received
	secrets  []string
}

func (m *messageLog) add(conn int, env streaming.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, received{conn: conn, env: env})
}

func (m *messageLog) all() []received {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]received, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func (m *messageLog) types(conn int) []string {
	var out []string
	for _, r := range m.all() {
		if r.conn == conn {
			out = append(out, r.env.Type)
		}
	}
	return out
}

// testServer upgrades to WebSocket, records every envelope and acks
// open_layer and close_layer. With dropFirst set, the first connection is
// closed by the server after its first add_features.
func testServer(t *testing.T, dropFirst bool) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}
	var (
		mu    sync.Mutex
		conns int
	)

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		mu.Lock()
		conns++
		id := conns
		ml.mu.Lock()
		ml.secrets = append(ml.secrets, r.URL.Query().Get("secret"))
		ml.mu.Unlock()
		mu.Unlock()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(id, env)

			if env.Type == streaming.TypeOpenLayer || env.Type == streaming.TypeCloseLayer {
				data, _ := json.Marshal(streaming.AckMessage{Type: streaming.TypeAck, For: env.Type})
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
			}
			if dropFirst && id == 1 && env.Type == streaming.TypeAddFeatures {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, ml
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func line(handle, fid string) *core.Feature {
	return &core.Feature{
		Handle:    handle,
		FeatureID: fid,
		SegmentID: 1,
		StreetID:  101,
		Kind:      core.KindLine,
		Geometry:  geo.Line(core.Point{X: 0, Y: 0}, core.Point{X: 10, Y: 0}).AsGeometry(),
		Style:     core.Style{StrokeWidth: 1, StrokeColor: core.ColorWhite, StrokeOpacity: 1},
	}
}

func dialled(t *testing.T, srv *httptest.Server, opts ...ClientOption) *Client {
	t.Helper()
	c := NewClient(wsURL(srv), "s3cret", quietLogger(), opts...)
	require.NoError(t, c.Dial())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLayer_OpenAndClose(t *testing.T) {
	srv, ml := testServer(t, false)
	c := dialled(t, srv)

	l := New(c, "lines")
	require.NoError(t, l.Init())
	require.NoError(t, l.Close())

	assert.Equal(t, []string{streaming.TypeOpenLayer, streaming.TypeCloseLayer}, ml.types(1))
	ml.mu.Lock()
	assert.Equal(t, []string{"s3cret"}, ml.secrets)
	ml.mu.Unlock()

	var p streaming.LayerPayload
	require.NoError(t, json.Unmarshal(ml.all()[0].env.Payload, &p))
	assert.Equal(t, "lines", p.Layer)
}

func TestLayer_StreamsMutations(t *testing.T) {
	srv, ml := testServer(t, false)
	c := dialled(t, srv)
	l := New(c, "labels")
	require.NoError(t, l.Init())

	a := line("a", "F1")
	m := &core.Feature{Handle: "m", FeatureID: "F1", Kind: core.KindLabel, Number: "7", Color: core.ColorYellow}
	l.AddFeatures([]*core.Feature{a})
	l.AddMarker(m)
	l.RemoveFeatures([]*core.Feature{a})
	l.RemoveFeatures(nil)
	l.SetVisibility(false)
	l.DestroyFeatures()

	want := []string{
		streaming.TypeOpenLayer,
		streaming.TypeAddFeatures,
		streaming.TypeAddFeatures,
		streaming.TypeRemoveFeatures,
		streaming.TypeSetVisibility,
		streaming.TypeDestroyFeatures,
	}
	require.Eventually(t, func() bool { return len(ml.types(1)) == len(want) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, ml.types(1))

	msgs := ml.all()
	var added streaming.FeaturesPayload
	require.NoError(t, json.Unmarshal(msgs[1].env.Payload, &added))
	require.Len(t, added.Features, 1)
	assert.Equal(t, "labels", added.Layer)
	assert.Equal(t, "a", added.Features[0].Handle)
	assert.Equal(t, "LINESTRING(0 0,10 0)", added.Features[0].Geometry)
	assert.False(t, added.Features[0].Marker)

	var marker streaming.FeaturesPayload
	require.NoError(t, json.Unmarshal(msgs[2].env.Payload, &marker))
	assert.True(t, marker.Features[0].Marker)
	assert.Equal(t, "7", marker.Features[0].Number)

	var removed streaming.RemovePayload
	require.NoError(t, json.Unmarshal(msgs[3].env.Payload, &removed))
	assert.Equal(t, []string{"a"}, removed.Handles)

	var vis streaming.VisibilityPayload
	require.NoError(t, json.Unmarshal(msgs[4].env.Payload, &vis))
	assert.False(t, vis.Visible)

	assert.Equal(t, 0, l.Len())
}

func TestLayer_ResyncAfterReconnect(t *testing.T) {
	srv, ml := testServer(t, true)
	c := dialled(t, srv, WithReconnectBackoff(10*time.Millisecond))
	l := New(c, "lines")
	require.NoError(t, l.Init())

	l.AddFeatures([]*core.Feature{line("a", "F1"), line("b", "F2")})

	require.Eventually(t, func() bool {
		types := ml.types(2)
		return len(types) >= 4
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{
		streaming.TypeOpenLayer,
		streaming.TypeDestroyFeatures,
		streaming.TypeAddFeatures,
		streaming.TypeSetVisibility,
	}, ml.types(2)[:4])

	var resent streaming.FeaturesPayload
	for _, r := range ml.all() {
		if r.conn == 2 && r.env.Type == streaming.TypeAddFeatures {
			require.NoError(t, json.Unmarshal(r.env.Payload, &resent))
			break
		}
	}
	require.Len(t, resent.Features, 2)
	assert.Equal(t, "a", resent.Features[0].Handle)
	assert.Equal(t, "b", resent.Features[1].Handle)
}

func TestClient_SendAfterClose(t *testing.T) {
	srv, _ := testServer(t, false)
	c := NewClient(wsURL(srv), "", quietLogger())
	require.NoError(t, c.Dial())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.NoError(t, c.Send(streaming.TypeDestroyFeatures, streaming.LayerPayload{Layer: "x"}))
	assert.Error(t, c.SendAndWait(streaming.TypeOpenLayer, streaming.LayerPayload{Layer: "x"}))
	assert.NoError(t, c.closeLayer("x"))
}

func TestClient_DialErrors(t *testing.T) {
	c := NewClient("://bad", "", nil)
	assert.Error(t, c.Dial())

	c = NewClient("ws://127.0.0.1:1/none", "", nil)
	assert.Error(t, c.Dial())
}

func TestEnvelopeSerialization(t *testing.T) {
	data, err := marshalEnvelope(streaming.TypeSetVisibility, streaming.VisibilityPayload{Layer: "lines", Visible: true})
	require.NoError(t, err)

	var env streaming.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, streaming.TypeSetVisibility, env.Type)
	assert.JSONEq(t, `{"layer":"lines","visible":true}`, string(env.Payload))
}
