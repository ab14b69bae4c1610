// Package scheduler runs background jobs once per clinic schema on a
// gocron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
)

// Task does one clinic's share of a job. ctx carries the clinic-scoped
// connection.
type Task func(ctx context.Context) error

// jobTimeout bounds a single clinic run.
const jobTimeout = 2 * time.Minute

type Scheduler struct {
	cron   gocron.Scheduler
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	err    error

	clinics func(ctx context.Context) ([]string, error)
	scope   func(ctx context.Context, clinicID string) (context.Context, func(), error)
}

func New(pool *pgxpool.Pool, logger zerolog.Logger, opts ...gocron.SchedulerOption) (*Scheduler, error) {
	cron, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron,
		logger: logger.With().Str("component", "scheduler").Logger(),
		ctx:    ctx,
		cancel: cancel,
		clinics: func(ctx context.Context) ([]string, error) {
			return db.ListClinics(ctx, pool)
		},
		scope: func(ctx context.Context, clinicID string) (context.Context, func(), error) {
			return db.ScopedConn(ctx, pool, clinicID)
		},
	}, nil
}

// Every runs task for every clinic at a fixed interval.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) error {
	return s.add(name, gocron.DurationJob(interval), task)
}

// Cron runs task for every clinic on a five-field cron spec.
func (s *Scheduler) Cron(name, spec string, task Task) error {
	return s.add(name, gocron.CronJob(spec, false), task)
}

func (s *Scheduler) add(name string, def gocron.JobDefinition, task Task) error {
	_, err := s.cron.NewJob(
		def,
		gocron.NewTask(func() { s.RunOnce(name, task) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.logger.Info().Str("job", name).Msg("job scheduled")
	return nil
}

// RunOnce executes task against each clinic in turn. One clinic failing does
// not stop the others.
func (s *Scheduler) RunOnce(name string, task Task) {
	log := s.logger.With().Str("job", name).Logger()

	clinics, err := s.clinics(s.ctx)
	if err != nil {
		log.Error().Err(err).Msg("list clinics")
		return
	}

	for _, clinic := range clinics {
		if s.ctx.Err() != nil {
			return
		}
		s.runClinic(log, clinic, task)
	}
}

func (s *Scheduler) runClinic(log zerolog.Logger, clinic string, task Task) {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	ctx, release, err := s.scope(ctx, clinic)
	if err != nil {
		log.Error().Err(err).Str("clinic_id", clinic).Msg("scope connection")
		return
	}
	defer release()

	start := time.Now()
	if err := task(ctx); err != nil {
		log.Error().Err(err).Str("clinic_id", clinic).Msg("job failed")
		return
	}
	log.Debug().Str("clinic_id", clinic).Dur("took", time.Since(start)).Msg("job finished")
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

func (s *Scheduler) JobNames() []string {
	jobs := s.cron.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

// Shutdown cancels running tasks and waits for them to return.
// Repeated calls return the first result.
func (s *Scheduler) Shutdown() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.cron.Shutdown()
	})
	return s.err
}
