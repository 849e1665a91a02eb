// Package layer builds the pair of feature layers the engine draws on,
// backed by memory, sqlite, postgres or a websocket mirror.
package layer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/WazeDev/hn-navpoints/internal/config"
	"github.com/WazeDev/hn-navpoints/internal/database"
	"github.com/WazeDev/hn-navpoints/internal/layer/gormlayer"
	"github.com/WazeDev/hn-navpoints/internal/layer/memory"
	"github.com/WazeDev/hn-navpoints/internal/layer/websocket"
	"github.com/WazeDev/hn-navpoints/pkg/host"
)

// Layer names as shown by the host.
const (
	LinesName  = "hnNavPoints"
	LabelsName = "hnNavPointsNumbers"
)

// Backend is a feature layer with a lifecycle.
type Backend interface {
	host.Layer
	Init() error
	Close() error
}

// Flusher is implemented by backends that buffer writes.
type Flusher interface {
	Flush() error
}

// Dependencies carries the loggers handed to the backends.
type Dependencies struct {
	Logger   *slog.Logger
	DBLogger zerolog.Logger
}

// Set owns the lines and labels layers and whatever connection backs them.
type Set struct {
	Type   string
	Lines  Backend
	Labels Backend

	db     *database.Manager
	client *websocket.Client
	logger *slog.Logger
}

// New creates the layer pair for cfg. Nothing is connected until Init,
// except the database, which is opened and migrated here.
func New(cfg config.LayerConfig, deps Dependencies) (*Set, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Set{Type: cfg.Type, logger: deps.Logger}

	switch cfg.Type {
	case "", "memory":
		s.Type = "memory"
		s.Lines = memory.New(LinesName)
		s.Labels = memory.New(LabelsName)
	case "sqlite", "postgres":
		m := database.NewManager(deps.DBLogger)
		var err error
		if cfg.Type == "sqlite" {
			err = m.OpenSQLite(cfg.SQLite.Path)
		} else {
			err = m.OpenPostgres(cfg.DB)
		}
		if err != nil {
			return nil, err
		}
		if err := m.Migrate(gormlayer.Models...); err != nil {
			_ = m.Close()
			return nil, err
		}
		s.db = m
		opts := []gormlayer.Option{
			gormlayer.WithFlushInterval(cfg.FlushInterval),
			gormlayer.WithLogger(deps.DBLogger),
		}
		s.Lines = gormlayer.New(m.DB, LinesName, opts...)
		s.Labels = gormlayer.New(m.DB, LabelsName, opts...)
	case "websocket":
		s.client = websocket.NewClient(cfg.Websocket.URL, cfg.Websocket.Secret, deps.Logger)
		s.Lines = websocket.New(s.client, LinesName)
		s.Labels = websocket.New(s.client, LabelsName)
	default:
		return nil, fmt.Errorf("unknown layer type: %s", cfg.Type)
	}
	return s, nil
}

// Init connects the backend and initializes both layers.
func (s *Set) Init() error {
	if s.client != nil {
		if err := s.client.Dial(); err != nil {
			return err
		}
	}
	if err := s.Lines.Init(); err != nil {
		return fmt.Errorf("init %s: %w", s.Lines.Name(), err)
	}
	if err := s.Labels.Init(); err != nil {
		return fmt.Errorf("init %s: %w", s.Labels.Name(), err)
	}
	s.logger.Info("Feature layers ready", "type", s.Type)
	return nil
}

// Flush writes buffered changes of both layers.
func (s *Set) Flush() error {
	var errs []error
	for _, l := range []Backend{s.Lines, s.Labels} {
		if f, ok := l.(Flusher); ok {
			errs = append(errs, f.Flush())
		}
	}
	return errors.Join(errs...)
}

// Snapshot writes an in-memory sqlite database to path.
func (s *Set) Snapshot(path string) error {
	if s.db == nil {
		return fmt.Errorf("layer type %s has no database to snapshot", s.Type)
	}
	if err := s.Flush(); err != nil {
		return err
	}
	return s.db.DumpToDisk(path)
}

// Close closes both layers, then the connection behind them.
func (s *Set) Close() error {
	errs := []error{s.Lines.Close(), s.Labels.Close()}
	if s.client != nil {
		errs = append(errs, s.client.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
