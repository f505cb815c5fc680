// Package scheduler gates sensor sampling and backend writes behind a fixed
// interval and the readiness of the backend session.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Uranury/hommie-node/report"
	"github.com/Uranury/hommie-node/sensors"
)

// RefreshMode decides how a failed reading affects readings taken from the
// same sensor in the same cycle.
type RefreshMode int

const (
	// RefreshUnit keeps every reading of a sensor stale when any of them fails.
	RefreshUnit RefreshMode = iota
	// RefreshIndependent updates every reading that succeeded.
	RefreshIndependent
)

func (m RefreshMode) String() string {
	if m == RefreshIndependent {
		return "independent"
	}
	return "unit"
}

func ParseRefreshMode(s string) (RefreshMode, error) {
	switch strings.ToLower(s) {
	case "", "unit":
		return RefreshUnit, nil
	case "independent":
		return RefreshIndependent, nil
	default:
		return 0, fmt.Errorf("unknown refresh mode %q", s)
	}
}

// Session is the backend readiness the scheduler waits on.
type Session interface {
	Authenticated() bool
	Ready(ctx context.Context) bool
}

// Sink receives every report payload once per cycle.
type Sink interface {
	Name() string
	Write(ctx context.Context, path string, p report.Payload) error
}

// Observer is told about cycle events; implementations must not block.
type Observer interface {
	CycleStarted(id string, at time.Time)
	ReadFailed(sensor string, err error)
	Written(sink, path string, p report.Payload, err error)
}

// Binding ties a report to one field of a sensor's output.
type Binding struct {
	Report *report.Report
	Field  string
}

// Source is a physical sensor and the reports fed from it.
type Source struct {
	Sensor   sensors.Sensor
	Bindings []Binding
}

type Config struct {
	Interval     time.Duration
	PollPeriod   time.Duration
	WriteTimeout time.Duration
	Mode         RefreshMode
}

type Scheduler struct {
	cfg       Config
	state     *report.State
	session   Session
	sources   []Source
	sinks     []Sink
	observers []Observer
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func New(cfg Config, state *report.State, session Session, sources []Source, sinks []Sink, logger *zap.SugaredLogger, observers ...Observer) *Scheduler {
	if cfg.PollPeriod <= 0 {
		cfg.PollPeriod = 100 * time.Millisecond
	}
	return &Scheduler{
		cfg:       cfg,
		state:     state,
		session:   session,
		sources:   sources,
		sinks:     sinks,
		observers: observers,
		logger:    logger,
		now:       time.Now,
	}
}

// Run calls MaybePublish every poll period until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Infow("Scheduler started",
		"interval", s.cfg.Interval,
		"poll_period", s.cfg.PollPeriod,
		"refresh_mode", s.cfg.Mode.String(),
		"reports", len(s.state.Reports()),
		"sinks", len(s.sinks))

	ticker := time.NewTicker(s.cfg.PollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.MaybePublish(ctx, s.now())
		}
	}
}

// MaybePublish runs one publish cycle if the interval has elapsed since the
// last one and the backend is authenticated and ready. It reports whether a
// cycle ran. Failed writes do not move the timer.
func (s *Scheduler) MaybePublish(ctx context.Context, now time.Time) bool {
	if now.Sub(s.state.LastPublish()) <= s.cfg.Interval {
		return false
	}
	if !s.session.Authenticated() || !s.session.Ready(ctx) {
		return false
	}

	s.state.MarkPublished(now)

	id := uuid.NewString()
	for _, o := range s.observers {
		o.CycleStarted(id, now)
	}
	logger := s.logger.With("cycle", id)

	s.refresh(ctx, logger)
	s.publish(ctx, logger)
	return true
}

func (s *Scheduler) refresh(ctx context.Context, logger *zap.SugaredLogger) {
	logger.Debug("Reading Sensor data ...")

	for _, src := range s.sources {
		name := src.Sensor.Name()
		data, err := src.Sensor.Read(ctx)
		if err != nil {
			logger.Warnw("Failed to read from sensor", "sensor", name, "error", err)
			s.readFailed(name, err)
			continue
		}

		var missing []string
		for _, b := range src.Bindings {
			v, ok := data.Fields[b.Field]
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				missing = append(missing, b.Field)
			}
		}
		if len(missing) > 0 {
			err := fmt.Errorf("%w: %s", sensors.ErrUnavailable, strings.Join(missing, ","))
			logger.Warnw("Failed to read from sensor", "sensor", name, "fields", missing)
			s.readFailed(name, err)
			if s.cfg.Mode == RefreshUnit {
				continue
			}
		}

		for _, b := range src.Bindings {
			v, ok := data.Fields[b.Field]
			if ok && b.Report.SetValue(v) {
				logger.Infof("%s reading: %.2f", b.Report.Kind(), v)
			}
		}
	}
}

func (s *Scheduler) publish(ctx context.Context, logger *zap.SugaredLogger) {
	for _, r := range s.state.Reports() {
		path := r.Path()
		p := r.Payload()
		for _, sink := range s.sinks {
			err := s.write(ctx, sink, path, p)
			if err != nil {
				logger.Errorw("FAILED", "sink", sink.Name(), "path", path, "reason", err.Error())
			} else {
				logger.Infow("PASSED", "sink", sink.Name(), "path", path, "value", p.Value)
			}
			for _, o := range s.observers {
				o.Written(sink.Name(), path, p, err)
			}
		}
	}
}

func (s *Scheduler) write(ctx context.Context, sink Sink, path string, p report.Payload) error {
	if s.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()
	}
	return sink.Write(ctx, path, p)
}

func (s *Scheduler) readFailed(sensor string, err error) {
	for _, o := range s.observers {
		o.ReadFailed(sensor, err)
	}
}
