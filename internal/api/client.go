// internal/api/client.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/WazeDev/hn-navpoints/internal/geo"
	"github.com/WazeDev/hn-navpoints/pkg/core"
)

// ErrMalformedResponse is returned when the payload carries an error field
// or lacks the house number collection. Retrying will not help.
var ErrMalformedResponse = errors.New("malformed house number response")

// StatusError is returned for non-200 responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("house number request returned status %d: %s", e.Code, e.Body)
}

// Batch is the usable part of one response.
type Batch struct {
	Records []core.AnnotationRecord
	// Skipped counts records dropped for missing or invalid fields.
	Skipped int
}

// Client fetches house number annotations from the map data service.
type Client struct {
	baseURL    string
	path       string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, path string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       "/" + strings.TrimLeft(path, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Healthcheck checks if the map data service is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

type wirePoint struct {
	Coordinates []float64 `json:"coordinates"`
}

type wireHouseNumber struct {
	ID            json.RawMessage `json:"id"`
	SegID         int64           `json:"segID"`
	Number        string          `json:"number"`
	Forced        bool            `json:"forced"`
	UpdatedBy     *int64          `json:"updatedBy"`
	FractionPoint *wirePoint      `json:"fractionPoint"`
	Geometry      *wirePoint      `json:"geometry"`
}

type wireResponse struct {
	Error               json.RawMessage `json:"error"`
	SegmentHouseNumbers *struct {
		Objects []json.RawMessage `json:"objects"`
	} `json:"segmentHouseNumbers"`
}

// FetchAnnotations requests the house numbers of the given segments.
func (c *Client) FetchAnnotations(ctx context.Context, segmentIDs []int64) (Batch, error) {
	ids := make([]string, len(segmentIDs))
	for i, id := range segmentIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.path+"?"+q.Encode(), nil)
	if err != nil {
		return Batch{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Batch{}, fmt.Errorf("house number request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Batch{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return decodeBatch(payload)
}

func decodeBatch(payload wireResponse) (Batch, error) {
	if len(payload.Error) > 0 && string(payload.Error) != "null" {
		return Batch{}, fmt.Errorf("%w: error %s", ErrMalformedResponse, payload.Error)
	}
	if payload.SegmentHouseNumbers == nil || payload.SegmentHouseNumbers.Objects == nil {
		return Batch{}, fmt.Errorf("%w: no segmentHouseNumbers.objects", ErrMalformedResponse)
	}

	var b Batch
	for _, raw := range payload.SegmentHouseNumbers.Objects {
		rec, ok := decodeRecord(raw)
		if !ok {
			b.Skipped++
			continue
		}
		b.Records = append(b.Records, rec)
	}
	return b, nil
}

func decodeRecord(raw json.RawMessage) (core.AnnotationRecord, bool) {
	var hn wireHouseNumber
	if err := json.Unmarshal(raw, &hn); err != nil {
		return core.AnnotationRecord{}, false
	}
	id, ok := decodeID(hn.ID)
	if !ok || hn.SegID == 0 || hn.FractionPoint == nil || hn.Geometry == nil {
		return core.AnnotationRecord{}, false
	}
	fraction, err := geo.PointFrom4326(hn.FractionPoint.Coordinates)
	if err != nil {
		return core.AnnotationRecord{}, false
	}
	label, err := geo.PointFrom4326(hn.Geometry.Coordinates)
	if err != nil {
		return core.AnnotationRecord{}, false
	}
	return core.AnnotationRecord{
		ID:            id,
		SegmentID:     hn.SegID,
		Number:        hn.Number,
		Forced:        hn.Forced,
		UpdatedBy:     hn.UpdatedBy,
		FractionPoint: fraction,
		LabelPoint:    label,
	}, true
}

// decodeID accepts both string and numeric ids.
func decodeID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil && n != "" {
		return n.String(), true
	}
	return "", false
}
