package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/WazeDev/hn-navpoints/internal/session"
	"github.com/WazeDev/hn-navpoints/pkg/host"
)

const defaultInterval = time.Second

// Engine is the part of the router the monitor reads.
type Engine interface {
	State() session.State
	Busy() int
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Engine     Engine
	Layers     []host.Layer
	StatusPath string
	Interval   time.Duration
	Logger     *slog.Logger
}

// LayerStatus describes one feature layer.
type LayerStatus struct {
	Name    string `json:"name"`
	Visible bool   `json:"visible"`
	// Features is -1 when the layer cannot count.
	Features int `json:"features"`
	// Pending counts writes not yet flushed to a database.
	Pending int `json:"pending,omitempty"`
}

// Status is one snapshot of the engine.
type Status struct {
	Time     time.Time     `json:"time"`
	State    string        `json:"state"`
	InFlight int           `json:"inFlight"`
	Layers   []LayerStatus `json:"layers"`
}

// Service periodically writes engine status to a file.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = defaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the current status
func (s *Service) GetStatus() Status {
	st := Status{
		Time:     time.Now().UTC(),
		State:    s.deps.Engine.State().String(),
		InFlight: s.deps.Engine.Busy(),
	}
	for _, l := range s.deps.Layers {
		ls := LayerStatus{Name: l.Name(), Visible: l.Visible(), Features: -1}
		if c, ok := l.(interface{ Len() int }); ok {
			ls.Features = c.Len()
		}
		if p, ok := l.(interface{ Pending() int }); ok {
			ls.Pending = p.Pending()
		}
		st.Layers = append(st.Layers, ls)
	}
	return st
}

// WriteStatus replaces the status file with the current status.
func (s *Service) WriteStatus() error {
	data, err := json.MarshalIndent(s.GetStatus(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	tmp := s.deps.StatusPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return os.Rename(tmp, s.deps.StatusPath)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	if s.deps.StatusPath == "" {
		return fmt.Errorf("status path not set")
	}
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		logger := s.deps.Logger
		logger.Debug("Starting status monitor", "path", s.deps.StatusPath, "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.WriteStatus(); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and writes a final status.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
	if err := s.WriteStatus(); err != nil {
		s.deps.Logger.Error("Error writing final status", "error", err)
	}
}
