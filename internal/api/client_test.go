// internal/api/client_test.go
package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hnPath = "/Descartes/app/HouseNumbers"

func newServer(t *testing.T, status int, body string, seen *string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen = r.URL.Query().Get("ids")
		}
		assert.Equal(t, hnPath, r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return New(server.URL+"/", hnPath, time.Second)
}

func TestNew(t *testing.T) {
	c := New("https://www.waze.com/", "Descartes/app/HouseNumbers", 0)

	assert.Equal(t, "https://www.waze.com", c.baseURL)
	assert.Equal(t, hnPath, c.path)
	assert.Equal(t, 30*time.Second, c.httpClient.Timeout)
}

func TestFetchAnnotations_Success(t *testing.T) {
	body := `{"segmentHouseNumbers":{"objects":[
		{"id":"hn-1","segID":10,"number":"12","forced":true,"updatedBy":77,
		 "fractionPoint":{"type":"Point","coordinates":[0,0]},
		 "geometry":{"type":"Point","coordinates":[10,0]}},
		{"id":2,"segID":11,"number":"14a","forced":false,
		 "fractionPoint":{"coordinates":[1,1]},"geometry":{"coordinates":[1,1.0001]}}
	]}}`
	var ids string
	c := newServer(t, http.StatusOK, body, &ids)

	batch, err := c.FetchAnnotations(context.Background(), []int64{10, 11, 12})
	require.NoError(t, err)

	assert.Equal(t, "10,11,12", ids)
	assert.Zero(t, batch.Skipped)
	require.Len(t, batch.Records, 2)

	first := batch.Records[0]
	assert.Equal(t, "hn-1", first.ID)
	assert.Equal(t, int64(10), first.SegmentID)
	assert.Equal(t, "12", first.Number)
	assert.True(t, first.Forced)
	require.NotNil(t, first.UpdatedBy)
	assert.Equal(t, int64(77), *first.UpdatedBy)
	assert.InDelta(t, 0, first.FractionPoint.X, 1e-6)
	assert.InDelta(t, 1113194.9, first.LabelPoint.X, 1)
	assert.InDelta(t, 0, first.LabelPoint.Y, 1e-6)

	second := batch.Records[1]
	assert.Equal(t, "2", second.ID)
	assert.False(t, second.HasEditor())
}

func TestFetchAnnotations_SkipsUnusableRecords(t *testing.T) {
	body := `{"segmentHouseNumbers":{"objects":[
		{"id":"ok","segID":1,"number":"1","fractionPoint":{"coordinates":[0,0]},"geometry":{"coordinates":[0,0]}},
		{"id":"nofraction","segID":1,"number":"2","geometry":{"coordinates":[0,0]}},
		{"id":"badcoords","segID":1,"number":"3","fractionPoint":{"coordinates":[500,0]},"geometry":{"coordinates":[0,0]}},
		{"segID":1,"number":"4","fractionPoint":{"coordinates":[0,0]},"geometry":{"coordinates":[0,0]}},
		"garbage"
	]}}`
	c := newServer(t, http.StatusOK, body, nil)

	batch, err := c.FetchAnnotations(context.Background(), []int64{1})
	require.NoError(t, err)

	require.Len(t, batch.Records, 1)
	assert.Equal(t, "ok", batch.Records[0].ID)
	assert.Equal(t, 4, batch.Skipped)
}

func TestFetchAnnotations_EmptyObjects(t *testing.T) {
	c := newServer(t, http.StatusOK, `{"segmentHouseNumbers":{"objects":[]}}`, nil)

	batch, err := c.FetchAnnotations(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Empty(t, batch.Records)
}

func TestFetchAnnotations_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"error field", `{"error":"denied","segmentHouseNumbers":{"objects":[]}}`},
		{"missing collection", `{"segments":{}}`},
		{"missing objects", `{"segmentHouseNumbers":{}}`},
		{"not json", `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, http.StatusOK, tt.body, nil)
			_, err := c.FetchAnnotations(context.Background(), []int64{1})
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestFetchAnnotations_StatusError(t *testing.T) {
	c := newServer(t, http.StatusServiceUnavailable, "busy", nil)

	_, err := c.FetchAnnotations(context.Background(), []int64{1})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "busy", se.Body)
	assert.False(t, errors.Is(err, ErrMalformedResponse))
}

func TestFetchAnnotations_ServerDown(t *testing.T) {
	c := New("http://localhost:59999", hnPath, time.Second) // unlikely to be listening
	_, err := c.FetchAnnotations(context.Background(), []int64{1})
	assert.Error(t, err)
}

func TestHealthcheck_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, hnPath, time.Second)
	assert.NoError(t, c.Healthcheck(context.Background()))
}

func TestHealthcheck_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(server.URL, hnPath, time.Second)
	assert.Error(t, c.Healthcheck(context.Background()))
}
