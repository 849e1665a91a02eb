package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WazeDev/hn-navpoints/pkg/core"
)

func seg(id, updatedOn int64) core.Segment {
	return core.Segment{ID: id, UpdatedOn: updatedOn, HasHNs: true}
}

func TestSegmentTracker_NewSegmentTracker(t *testing.T) {
	tr := NewSegmentTracker()

	require.NotNil(t, tr)
	assert.Equal(t, 0, tr.Len())
}

func TestSegmentTracker_ShouldProcess(t *testing.T) {
	tr := NewSegmentTracker()
	tr.MarkProcessed(seg(1, 100))

	tests := []struct {
		name       string
		seg        core.Segment
		processAll bool
		want       bool
	}{
		{"unknown segment", seg(2, 50), false, true},
		{"same update time", seg(1, 100), false, false},
		{"older update time", seg(1, 90), false, false},
		{"newer update time", seg(1, 101), false, true},
		{"process all same time", seg(1, 100), true, true},
		{"process all older time", seg(1, 10), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.ShouldProcess(tt.seg, tt.processAll))
		})
	}
}

func TestSegmentTracker_ProcessAllDoesNotRewind(t *testing.T) {
	tr := NewSegmentTracker()
	tr.MarkProcessed(seg(1, 100))

	assert.True(t, tr.ShouldProcess(seg(1, 10), true))
	tr.MarkProcessed(seg(1, 10))

	seen, ok := tr.LastSeen(1)
	require.True(t, ok)
	assert.Equal(t, int64(100), seen)
	assert.False(t, tr.ShouldProcess(seg(1, 100), false))
}

func TestSegmentTracker_MarkProcessedAdvances(t *testing.T) {
	tr := NewSegmentTracker()
	tr.MarkProcessed(seg(1, 100))
	tr.MarkProcessed(seg(1, 200))

	seen, ok := tr.LastSeen(1)
	require.True(t, ok)
	assert.Equal(t, int64(200), seen)
}

func TestSegmentTracker_Forget(t *testing.T) {
	tr := NewSegmentTracker()
	tr.MarkProcessed(seg(1, 100))
	tr.MarkProcessed(seg(2, 100))

	tr.Forget(1)

	_, ok := tr.LastSeen(1)
	assert.False(t, ok)
	assert.True(t, tr.ShouldProcess(seg(1, 100), false))
	assert.Equal(t, 1, tr.Len())

	// Should not panic when forgetting an unknown segment
	tr.Forget(999)
}

func TestSegmentTracker_Clear(t *testing.T) {
	tr := NewSegmentTracker()
	tr.MarkProcessed(seg(1, 100))
	tr.MarkProcessed(seg(2, 100))

	tr.Clear()

	assert.Equal(t, 0, tr.Len())
	tr.MarkProcessed(seg(3, 1))
	assert.Equal(t, 1, tr.Len(), "tracker should be usable after clear")
}

func TestSegmentTracker_Concurrent(t *testing.T) {
	tr := NewSegmentTracker()
	var wg sync.WaitGroup

	for i := int64(0); i < 100; i++ {
		wg.Add(2)
		go func(id int64) {
			defer wg.Done()
			tr.MarkProcessed(seg(id, id))
		}(i)
		go func(id int64) {
			defer wg.Done()
			tr.ShouldProcess(seg(id, id), false)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, tr.Len())
}

// SafeCounter tests

func TestSafeCounter_InitialValue(t *testing.T) {
	c := &SafeCounter{}
	assert.Equal(t, 0, c.Value())
}

func TestSafeCounter_SetIncDec(t *testing.T) {
	c := &SafeCounter{}

	c.Set(2)
	c.Inc()
	assert.Equal(t, 3, c.Value())

	c.Dec()
	c.Dec()
	c.Dec()
	c.Dec()
	assert.Equal(t, 0, c.Value(), "counter must not go negative")
}

func TestSafeCounter_Concurrent(t *testing.T) {
	c := &SafeCounter{}
	var wg sync.WaitGroup

	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, c.Value())
}
