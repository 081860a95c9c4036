// Package sweeper periodically flags tasks whose due date has passed.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/madfam-io/madlab/pkg/logger"
)

// Marker flags overdue tasks. The task service implements it.
type Marker interface {
	MarkOverdue(ctx context.Context, now time.Time) (int, error)
}

// Observer is notified after each sweep. The metrics registry
// implements it; nil disables observation.
type Observer interface {
	SweepCompleted(flagged int)
}

// Sweeper runs the overdue scan on a cron schedule. It implements the
// application lifecycle interface.
type Sweeper struct {
	schedule string
	marker   Marker
	observer Observer
	log      *logger.Logger

	cron *cron.Cron
}

// New creates a sweeper with a cron schedule expression such as
// "@every 10m".
func New(schedule string, marker Marker, observer Observer, log *logger.Logger) (*Sweeper, error) {
	if log == nil {
		log = logger.NewDefault("sweeper")
	}
	s := &Sweeper{
		schedule: schedule,
		marker:   marker,
		observer: observer,
		log:      log,
		cron:     cron.New(),
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Name identifies the sweeper to the lifecycle manager.
func (s *Sweeper) Name() string { return "sweeper" }

// Start runs an immediate sweep and begins the schedule.
func (s *Sweeper) Start(ctx context.Context) error {
	s.sweep()
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	flagged, err := s.marker.MarkOverdue(ctx, time.Now())
	if err != nil {
		s.log.WithError(err).Error("overdue sweep failed")
		return
	}
	if s.observer != nil {
		s.observer.SweepCompleted(flagged)
	}
	if flagged > 0 {
		s.log.WithField("flagged", flagged).Info("overdue sweep flagged tasks")
	}
}
