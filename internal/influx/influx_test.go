package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WazeDev/hn-navpoints/internal/config"
	"github.com/WazeDev/hn-navpoints/internal/fetch"
)

var _ fetch.Observer = (*Manager)(nil)

func TestPointFor(t *testing.T) {
	at := time.Unix(1700000000, 0)
	p := PointFor(fetch.ChunkStat{
		Size:     125,
		Attempt:  3,
		Records:  40,
		Skipped:  2,
		Duration: 1500 * time.Microsecond,
		Outcome:  fetch.OutcomeFailed,
		Err:      errors.New("boom"),
	}, at)

	assert.Equal(t, Measurement, p.Name())
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"outcome": "failed", "attempt": "3"}, tags)

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, int64(125), fields["size"])
	assert.Equal(t, int64(40), fields["records"])
	assert.Equal(t, int64(2), fields["skipped"])
	assert.Equal(t, 1.5, fields["duration_ms"])
	assert.Equal(t, "boom", fields["error"])
	assert.Equal(t, at, p.Time())
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(zerolog.Nop(), "")
	assert.Error(t, m.Connect(context.Background(), config.InfluxConfig{}))
}

func TestConnect_FallsBackToBackup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "hn_fetch.lp.gz")
	m := NewManager(zerolog.Nop(), path)
	require.NoError(t, m.Connect(context.Background(), config.InfluxConfig{
		Enabled:  true,
		Protocol: "http",
		Host:     u.Hostname(),
		Port:     u.Port(),
		Org:      "hn",
		Bucket:   "hn_fetch",
	}))
	assert.False(t, m.IsValid)

	m.ObserveChunk(fetch.ChunkStat{Size: 500, Attempt: 1, Records: 12, Outcome: fetch.OutcomeOK})
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	line := string(data)
	assert.Contains(t, line, "hn_fetch,")
	assert.Contains(t, line, "outcome=ok")
	assert.Contains(t, line, "records=12i")
	assert.Contains(t, line, "size=500i")
}

func TestWritePoint_NoSink(t *testing.T) {
	m := NewManager(zerolog.Nop(), "")
	assert.Error(t, m.WritePoint(PointFor(fetch.ChunkStat{Outcome: fetch.OutcomeOK}, time.Now())))
	assert.NoError(t, m.Close())
}
