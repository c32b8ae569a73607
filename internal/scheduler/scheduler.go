// Package scheduler runs store maintenance on cron schedules.
//
// Schedules use six fields with seconds first ("0 */15 * * * *") or the
// descriptors understood by robfig/cron ("@hourly", "@every 30s"). Each job
// is registered under its Name; registering a name again replaces the
// earlier schedule.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a unit of maintenance work
type Job interface {
	Run() error
	Name() string
}

// ErrUnknownJob is returned by Remove for a name that was never registered
var ErrUnknownJob = errors.New("unknown job")

type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		log:     log.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]cron.EntryID),
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", s.Len()).Msg("Maintenance scheduler running")
}

// Stop blocks until in-flight jobs return
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Maintenance scheduler stopped")
}

// AddJob schedules job, replacing any job already registered under the same name
func (s *Scheduler) AddJob(schedule string, job Job) error {
	name := job.Name()
	id, err := s.cron.AddFunc(schedule, func() { _ = s.execute(job) })
	if err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", name, schedule, err)
	}

	s.mu.Lock()
	previous, replaced := s.entries[name]
	s.entries[name] = id
	s.mu.Unlock()

	if replaced {
		s.cron.Remove(previous)
	}

	s.log.Info().
		Str("job", name).
		Str("schedule", schedule).
		Bool("replaced", replaced).
		Msg("Job scheduled")
	return nil
}

// Remove unschedules the job registered under name
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	id, ok := s.entries[name]
	delete(s.entries, name)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	s.cron.Remove(id)
	return nil
}

// RunNow runs job on the calling goroutine, outside its schedule
func (s *Scheduler) RunNow(job Job) error {
	return s.execute(job)
}

// Len reports how many jobs are scheduled
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// execute runs one job and reports a panic as its error
func (s *Scheduler) execute(job Job) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}

		ev := s.log.Debug()
		if err != nil {
			ev = s.log.Error().Err(err)
		}
		ev.Str("job", job.Name()).Dur("took", time.Since(start)).Msg("Job finished")
	}()

	return job.Run()
}
