// Package scheduler runs periodic background jobs (NAV mark-to-market
// sweeps, §4.10) on cron expressions. Grounded on aristath-sentinel's
// trader-go/internal/scheduler package: same Job interface and
// log-wrapped AddFunc dispatch, generalized beyond its single-job use.
package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one named unit of periodic work.
type Job interface {
	Run() error
	Name() string
}

// Scheduler wraps a robfig/cron instance with structured logging around
// every run.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New builds a Scheduler. Seconds resolution matches the fund
// mark-to-market cadence this process needs (minutes, not days).
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// AddJob registers job on the given cron schedule (e.g. "@every 1m").
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if err := job.Run(); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("scheduled job failed")
		}
	})
	return err
}

// Start begins running registered jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop waits for any in-flight job to finish, then halts the scheduler.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}
