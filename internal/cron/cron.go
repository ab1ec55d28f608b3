package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/loykin/botvisor/internal/metrics"
	"github.com/loykin/botvisor/internal/supervisor"
	"github.com/robfig/cron/v3"
)

// Job starts a registered bot on a cron schedule: five fields (an optional
// leading seconds field is accepted) or a descriptor such as "@hourly" or
// "@every 5m". A tick is skipped while the bot is still running; the
// scheduler never stops bots.
type Job struct {
	Bot      string `mapstructure:"bot"`
	Schedule string `mapstructure:"schedule"`
}

// Starter is the part of the supervisor the scheduler drives.
type Starter interface {
	Start(ctx context.Context, name string) error
	IsRunning(name string) bool
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the bot name and schedule expression.
func (j Job) Validate() error {
	if strings.TrimSpace(j.Bot) == "" {
		return errors.New("schedule requires a bot")
	}
	if j.Schedule == "" {
		return fmt.Errorf("schedule for %s is empty", j.Bot)
	}
	if _, err := parser.Parse(j.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", j.Schedule, j.Bot, err)
	}
	return nil
}

// Scheduler fires Jobs against a Starter.
type Scheduler struct {
	starter Starter
	log     *slog.Logger
	c       *cron.Cron

	mu      sync.Mutex
	bots    map[cron.EntryID]string
	started bool
}

func NewScheduler(starter Starter, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		starter: starter,
		log:     log,
		c:       cron.New(cron.WithParser(parser)),
		bots:    make(map[cron.EntryID]string),
	}
}

// Add schedules job. Jobs may be added before or after Start.
func (s *Scheduler) Add(job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.c.AddFunc(job.Schedule, func() { s.fire(job) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", job.Bot, err)
	}
	s.bots[id] = job.Bot
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bots)
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true
	s.c.Start()
	s.publishNext()
	return nil
}

func (s *Scheduler) fire(j Job) {
	defer func() {
		s.mu.Lock()
		s.publishNext()
		s.mu.Unlock()
	}()
	if s.starter.IsRunning(j.Bot) {
		metrics.IncScheduleRun(j.Bot, "skipped")
		s.log.Debug("scheduled start skipped, bot still running", "bot", j.Bot)
		return
	}
	err := s.starter.Start(context.Background(), j.Bot)
	switch {
	case err == nil:
		metrics.IncScheduleRun(j.Bot, "started")
		s.log.Info("scheduled start", "bot", j.Bot, "schedule", j.Schedule)
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		metrics.IncScheduleRun(j.Bot, "skipped")
		s.log.Debug("scheduled start skipped, bot still running", "bot", j.Bot)
	default:
		metrics.IncScheduleRun(j.Bot, "failed")
		s.log.Warn("scheduled start failed", "bot", j.Bot, "error", err)
	}
}

// publishNext must be called with mu held.
func (s *Scheduler) publishNext() {
	if !s.started {
		return
	}
	for _, e := range s.c.Entries() {
		if name, ok := s.bots[e.ID]; ok && !e.Next.IsZero() {
			metrics.SetScheduleNext(name, float64(e.Next.Unix()))
		}
	}
}

// Stop cancels the schedule and waits for in-flight starts to return.
// Starts already issued are not undone.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	<-s.c.Stop().Done()
}
