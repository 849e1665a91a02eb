// Package gormlayer persists a feature layer through gorm. The in-memory
// layer stays authoritative for queries; writes are queued and flushed to
// the database in batches.
package gormlayer

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/WazeDev/hn-navpoints/internal/layer/memory"
	"github.com/WazeDev/hn-navpoints/internal/queue"
	"github.com/WazeDev/hn-navpoints/pkg/core"
)

type op uint8

const (
	opUpsert op = iota
	opDelete
	opDestroy
)

type change struct {
	op     op
	row    FeatureRow
	handle string
}

// Layer is a memory layer mirrored into the hn_features table.
type Layer struct {
	*memory.Layer

	db       *gorm.DB
	pending  *queue.Queue[change]
	interval time.Duration
	logger   zerolog.Logger

	flushMu   sync.Mutex
	stop      chan struct{}
	wg        sync.WaitGroup
	started   bool
	closeOnce sync.Once
}

// Option configures a Layer.
type Option func(*Layer)

// WithFlushInterval flushes pending writes on a ticker. Zero leaves
// flushing to Flush and Close.
func WithFlushInterval(d time.Duration) Option {
	return func(l *Layer) { l.interval = d }
}

// WithLogger sets the layer's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Layer) { l.logger = log }
}

// New creates a layer writing to db. The table must already be migrated.
func New(db *gorm.DB, name string, opts ...Option) *Layer {
	l := &Layer{
		Layer:   memory.New(name),
		db:      db,
		pending: queue.New[change](),
		logger:  zerolog.Nop(),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With().Str("layer", name).Logger()
	return l
}

// Init clears rows left by a previous run and starts the flush loop.
func (l *Layer) Init() error {
	if err := l.db.Where("layer_name = ?", l.Name()).Delete(&FeatureRow{}).Error; err != nil {
		return fmt.Errorf("failed to clear layer %s: %w", l.Name(), err)
	}
	if l.interval > 0 {
		l.started = true
		l.wg.Add(1)
		go l.flushLoop()
	}
	return nil
}

// Close stops the flush loop and writes whatever is still pending.
func (l *Layer) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stop)
		if l.started {
			l.wg.Wait()
		}
		err = l.Flush()
	})
	return err
}

func (l *Layer) flushLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if err := l.Flush(); err != nil {
				l.logger.Error().Err(err).Int("pending", l.pending.Len()).Msg("Failed to flush layer")
			}
		}
	}
}

func (l *Layer) AddFeatures(features []*core.Feature) {
	l.Layer.AddFeatures(features)
	l.upsert(features, false)
}

func (l *Layer) RemoveFeatures(features []*core.Feature) {
	l.Layer.RemoveFeatures(features)
	l.remove(features)
}

func (l *Layer) AddMarker(f *core.Feature) {
	l.Layer.AddMarker(f)
	l.upsert([]*core.Feature{f}, true)
}

func (l *Layer) RemoveMarker(f *core.Feature) {
	l.Layer.RemoveMarker(f)
	l.remove([]*core.Feature{f})
}

func (l *Layer) DestroyFeatures() {
	l.Layer.DestroyFeatures()
	l.pending.Push(change{op: opDestroy})
}

func (l *Layer) upsert(features []*core.Feature, marker bool) {
	changes := make([]change, 0, len(features))
	for _, f := range features {
		if f == nil {
			continue
		}
		changes = append(changes, change{op: opUpsert, row: rowFor(l.Name(), f, marker)})
	}
	l.pending.Push(changes...)
}

func (l *Layer) remove(features []*core.Feature) {
	changes := make([]change, 0, len(features))
	for _, f := range features {
		if f == nil {
			continue
		}
		changes = append(changes, change{op: opDelete, handle: f.Handle})
	}
	l.pending.Push(changes...)
}

// Pending returns the number of queued writes.
func (l *Layer) Pending() int {
	return l.pending.Len()
}

// Flush writes every queued change in one transaction. On failure the
// changes are requeued.
func (l *Layer) Flush() error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	changes := l.pending.Drain(0)
	if len(changes) == 0 {
		return nil
	}

	start := time.Now()
	err := l.db.Transaction(func(tx *gorm.DB) error {
		return apply(tx, l.Name(), changes)
	})
	if err != nil {
		l.pending.Requeue(changes...)
		return fmt.Errorf("failed to flush layer %s: %w", l.Name(), err)
	}

	l.logger.Debug().
		Int("changes", len(changes)).
		Dur("duration", time.Since(start)).
		Msg("Flushed layer")
	return nil
}

// apply replays changes in order, batching runs of the same kind.
func apply(tx *gorm.DB, layer string, changes []change) error {
	var (
		upserts []FeatureRow
		index   = make(map[string]int)
		deletes []string
	)

	write := func() error {
		if len(upserts) > 0 {
			err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&upserts).Error
			if err != nil {
				return err
			}
			upserts = nil
			clear(index)
		}
		if len(deletes) > 0 {
			if err := tx.Where("handle IN ?", deletes).Delete(&FeatureRow{}).Error; err != nil {
				return err
			}
			deletes = nil
		}
		return nil
	}

	for _, c := range changes {
		switch c.op {
		case opUpsert:
			if len(deletes) > 0 {
				if err := write(); err != nil {
					return err
				}
			}
			// one statement cannot touch the same row twice
			if i, ok := index[c.row.Handle]; ok {
				upserts[i] = c.row
				continue
			}
			index[c.row.Handle] = len(upserts)
			upserts = append(upserts, c.row)
		case opDelete:
			if len(upserts) > 0 {
				if err := write(); err != nil {
					return err
				}
			}
			deletes = append(deletes, c.handle)
		case opDestroy:
			upserts, deletes = nil, nil
			clear(index)
			if err := tx.Where("layer_name = ?", layer).Delete(&FeatureRow{}).Error; err != nil {
				return err
			}
		}
	}
	return write()
}

// Stored reads back the persisted rows of this layer, ordered by handle.
func (l *Layer) Stored() ([]FeatureRow, error) {
	var rows []FeatureRow
	err := l.db.Where("layer_name = ?", l.Name()).Order("handle").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
