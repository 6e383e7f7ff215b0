package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobFunc is a cron-triggered job.
type JobFunc func(ctx context.Context) error

// CronRunner runs named jobs on cron specs in UTC. A job still running when
// its next trigger fires is skipped.
type CronRunner struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

// NewCronRunner builds a runner using the standard five-field parser.
func NewCronRunner(logger zerolog.Logger) *CronRunner {
	l := logger.With().Str("component", "cron").Logger()
	return &CronRunner{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{l})),
		),
		logger: l,
	}
}

// Add registers job under spec. The job sees ctx from Run.
func (r *CronRunner) Add(ctx context.Context, name, spec string, job JobFunc) error {
	_, err := r.cron.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		r.logger.Info().Str("job", name).Msg("cron job starting")
		if err := job(ctx); err != nil {
			r.logger.Error().Err(err).Str("job", name).Msg("cron job failed")
			return
		}
		r.logger.Info().Str("job", name).Msg("cron job complete")
	})
	if err != nil {
		return fmt.Errorf("add cron job %s (%q): %w", name, spec, err)
	}
	return nil
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (r *CronRunner) Run(ctx context.Context) error {
	r.cron.Start()
	<-ctx.Done()
	<-r.cron.Stop().Done()
	return ctx.Err()
}

// ValidateSpec reports whether spec parses as a five-field cron expression.
func ValidateSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
