// Package scheduler runs the periodic jobs: brief generation on each
// market's local clock, notification promotion, and state eviction.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job.
type Job interface {
	Run() error
	Name() string
}

// JobFunc adapts a function to the Job interface.
type JobFunc struct {
	JobName string
	Fn      func() error
}

func (j JobFunc) Run() error { return j.Fn() }

func (j JobFunc) Name() string { return j.JobName }

// Scheduler manages background jobs. Market-local schedules run on crons
// pinned to the exchange timezone; everything else runs on the UTC cron.
type Scheduler struct {
	utc   *cron.Cron
	local map[string]*cron.Cron
	log   zerolog.Logger
}

// New creates a new scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		utc:   cron.New(cron.WithLocation(time.UTC)),
		local: make(map[string]*cron.Cron),
		log:   log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts all crons.
func (s *Scheduler) Start() {
	s.utc.Start()
	for _, c := range s.local {
		c.Start()
	}
	s.log.Info().Msg("Scheduler started")
}

// Stop stops all crons and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	contexts := []<-chan struct{}{s.utc.Stop().Done()}
	for _, c := range s.local {
		contexts = append(contexts, c.Stop().Done())
	}
	for _, done := range contexts {
		<-done
	}
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job on the UTC cron.
// Schedule examples:
//   - "*/5 * * * *"       - Every 5 minutes
//   - "@hourly"           - Every hour
//   - "30 8 * * MON-FRI"  - 08:30 weekdays
//   - "@every 30s"        - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	return s.add(s.utc, schedule, job)
}

// AddMarketJob registers a job evaluated on the exchange's wall clock.
func (s *Scheduler) AddMarketJob(timezone, schedule string, job Job) error {
	c, ok := s.local[timezone]
	if !ok {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return err
		}
		c = cron.New(cron.WithLocation(loc))
		s.local[timezone] = c
	}
	return s.add(c, schedule, job)
}

func (s *Scheduler) add(c *cron.Cron, schedule string, job Job) error {
	_, err := c.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("Running job")
		if err := job.Run(); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
		} else {
			s.log.Debug().Str("job", job.Name()).Msg("Job completed")
		}
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}
