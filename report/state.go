package report

import (
	"sync"
	"time"
)

// State is the device state owned by the scheduler: the reports it
// publishes and the time of the last publish attempt.
type State struct {
	reports []*Report

	mu          sync.RWMutex
	lastPublish time.Time
	cycles      uint64
}

// Snapshot is a point-in-time copy of State, safe to hand to other goroutines.
type Snapshot struct {
	LastPublish time.Time `json:"last_publish"`
	Cycles      uint64    `json:"cycles"`
	Reports     []Entry   `json:"reports"`
}

type Entry struct {
	Path    string  `json:"path"`
	Payload Payload `json:"payload"`
}

// NewState starts the publish clock at start, so the first publish happens
// one full interval later.
func NewState(start time.Time, reports ...*Report) *State {
	return &State{
		reports:     reports,
		lastPublish: start,
	}
}

// Reports returns the reports in publish order. The slice must not be modified.
func (s *State) Reports() []*Report {
	return s.reports
}

func (s *State) LastPublish() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPublish
}

// MarkPublished records a publish attempt at t.
func (s *State) MarkPublished(t time.Time) {
	s.mu.Lock()
	s.lastPublish = t
	s.cycles++
	s.mu.Unlock()
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		LastPublish: s.lastPublish,
		Cycles:      s.cycles,
		Reports:     make([]Entry, 0, len(s.reports)),
	}
	s.mu.RUnlock()

	for _, r := range s.reports {
		snap.Reports = append(snap.Reports, Entry{Path: r.Path(), Payload: r.Payload()})
	}
	return snap
}
