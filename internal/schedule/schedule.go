// Package schedule runs periodic panel maintenance from a cron expression.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "it8951ctl/internal/log"
)

// Validate checks a standard five-field cron expression.
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("schedule: invalid cron %q: %w", spec, err)
	}
	return nil
}

// cronLogger sends cron's own messages to the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron "+msg, err, kv...)
}

// Scheduler runs one named job. Runs never overlap; a run that is still going
// when the next one is due causes that one to be skipped.
type Scheduler struct {
	c    *cron.Cron
	id   cron.EntryID
	name string
	spec string
}

// New prepares a scheduler for job. Nothing runs until Start.
func New(spec, name string, job func() error) (*Scheduler, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron %q: %w", spec, err)
	}
	l := cronLogger{}
	c := cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	id := c.Schedule(sched, cron.FuncJob(func() {
		start := time.Now()
		if err := job(); err != nil {
			appLog.Error("scheduled job failed", err, "job", name)
			return
		}
		appLog.Info("scheduled job done", "job", name, "elapsed", time.Since(start))
	}))
	return &Scheduler{c: c, id: id, name: name, spec: spec}, nil
}

// Start begins running the job in the background.
func (s *Scheduler) Start() {
	s.c.Start()
	appLog.Info("schedule started", "job", s.name, "cron", s.spec, "next", s.Next())
}

// Next is the next planned run, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.c.Entry(s.id).Next
}

// RunNow runs the job synchronously through the same wrappers as a
// scheduled run.
func (s *Scheduler) RunNow() {
	s.c.Entry(s.id).WrappedJob.Run()
}

// Stop prevents further runs and waits for a running job or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return s.Stop(stopCtx)
}
