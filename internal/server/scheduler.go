package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/mohammad-safakhou/deepscout/internal/store"
)

// Scheduler fires recurring research queries from the schedules table.
type Scheduler struct {
	registry *store.Store
	launch   func(query string) (string, error)
	logger   *log.Logger
	interval time.Duration
	stop     chan struct{}
	now      func() time.Time
}

// NewScheduler ticks every minute by default.
func NewScheduler(registry *store.Store, launch func(string) (string, error), logger *log.Logger) *Scheduler {
	return &Scheduler{
		registry: registry,
		launch:   launch,
		logger:   logger,
		interval: time.Minute,
		stop:     make(chan struct{}),
		now:      time.Now,
	}
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) Stop() { close(s.stop) }

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scheds, err := s.registry.ListSchedules(ctx, true)
	if err != nil {
		s.logger.Printf("scheduler: list schedules: %v", err)
		return
	}
	for _, sc := range scheds {
		if !isDue(sc.Cron, sc.LastRunAt, s.now()) {
			continue
		}
		// Mark fired before launching so a crash cannot double-fire.
		if err := s.registry.TouchSchedule(ctx, sc.ID, s.now()); err != nil {
			s.logger.Printf("scheduler: touch %s: %v", sc.ID, err)
			continue
		}
		runID, err := s.launch(sc.Query)
		if err != nil {
			s.logger.Printf("scheduler: launch %q: %v", sc.Query, err)
			continue
		}
		s.logger.Printf("scheduler: fired %q as run %s", sc.Query, runID)
	}
}

// isDue reports whether a schedule with the given cron spec should fire.
// Supports "@daily", "@hourly", and 5-field cron expressions. A schedule
// that has never fired is due immediately.
func isDue(cronSpec string, last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	switch cronSpec {
	case "@daily":
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		return now.Sub(*last) >= time.Hour
	}
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		// Invalid spec degrades to daily rather than firing hot.
		return now.Sub(*last) >= 24*time.Hour
	}
	return !expr.Next(*last).After(now)
}
