package scheduler

import (
	"context"
	"time"

	"github.com/fencewatch/fencewatch/config"
	"github.com/fencewatch/fencewatch/lib"
	"github.com/fencewatch/fencewatch/lib/models"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler owns the process's two job families: the ingestion sweep
// over tracked subjects (fixed interval) and the daily digest run
// (cron). Jobs never overlap themselves and a failing job only waits
// for its next tick.
type Scheduler struct {
	log   *zap.Logger
	cfg   *config.Config
	svc   *lib.Service
	inner gocron.Scheduler
}

func NewScheduler(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, svc *lib.Service) (*Scheduler, error) {
	inner, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	s := &Scheduler{log, cfg, svc, inner}

	interval := time.Duration(cfg.Scraper.IntervalMinutes) * time.Minute
	ingestionOpts := []gocron.JobOption{
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if cfg.Scraper.RunOnStartup {
		ingestionOpts = append(ingestionOpts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	if _, err := inner.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.ingestionTick),
		ingestionOpts...,
	); err != nil {
		return nil, err
	}

	if _, err := inner.NewJob(
		gocron.CronJob(cfg.Digest.CronSpec, false),
		gocron.NewTask(s.digestTick),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			inner.Start()
			log.Sugar().Infow("Scheduler started",
				"ingestion_interval", interval, "digest_cron", cfg.Digest.CronSpec)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Sugar().Info("Trying to stop scheduler")
			return inner.Shutdown()
		},
	})

	return s, nil
}

func (s *Scheduler) ingestionTick() {
	defer s.recoverPanic("ingestion")
	s.RunIngestionSweep(context.Background())
}

func (s *Scheduler) digestTick() {
	defer s.recoverPanic("digest")
	s.svc.Digests.RunDailyDigests(context.Background())
}

func (s *Scheduler) recoverPanic(job string) {
	if r := recover(); r != nil {
		s.log.Sugar().Errorw("Job panicked", "job", job, "panic", r)
	}
}

// RunIngestionSweep scrapes every active tracked subject once. Each
// subject is isolated: a failure bumps that subject's failure counter
// and the sweep moves on.
func (s *Scheduler) RunIngestionSweep(ctx context.Context) {
	start := time.Now().UTC()

	clubs, err := s.svc.Subjects.AllActiveClubs(ctx)
	if err != nil {
		s.log.Sugar().Errorw("Failed to list tracked clubs", "err", err)
	}
	for i := range clubs {
		s.sweepClub(ctx, &clubs[i])
	}

	fencers, err := s.svc.Subjects.AllActiveFencers(ctx)
	if err != nil {
		s.log.Sugar().Errorw("Failed to list tracked fencers", "err", err)
	}
	for i := range fencers {
		s.sweepFencer(ctx, &fencers[i])
	}

	elapsed := time.Now().UTC().Sub(start)
	s.log.Sugar().Infow("Ingestion sweep finished",
		"clubs", len(clubs), "fencers", len(fencers), "elapsed_msecs", int(elapsed.Milliseconds()))
}

func (s *Scheduler) sweepClub(ctx context.Context, club *models.TrackedClub) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	now := time.Now().UTC()

	stats, err := s.svc.RunIngestion(ctx, club.ClubURL)
	if err != nil {
		s.log.Sugar().Errorw("Scrape failed for club", "club_url", club.ClubURL, "err", err)
		if err := s.svc.Subjects.RecordClubFailure(ctx, club, now); err != nil {
			s.log.Sugar().Errorw("Failed to record club failure", "club_url", club.ClubURL, "err", err)
		}
		return
	}

	if err := s.svc.Subjects.RecordClubSuccess(ctx, club, now); err != nil {
		s.log.Sugar().Errorw("Failed to record club success", "club_url", club.ClubURL, "err", err)
	}
	s.log.Sugar().Infow("Scrape finished for club",
		"club_url", club.ClubURL, "new", stats.New, "updated", stats.Updated, "total", stats.Total)
}

func (s *Scheduler) sweepFencer(ctx context.Context, fencer *models.TrackedFencer) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	now := time.Now().UTC()

	result, err := s.svc.RunFencerIngestion(ctx, fencer)
	if err != nil {
		s.log.Sugar().Errorw("Scrape failed for fencer",
			"fencer_id", fencer.FencerID, "failures", fencer.FailureCount+1, "err", err)
		if err := s.svc.Subjects.RecordFencerFailure(ctx, fencer, now); err != nil {
			s.log.Sugar().Errorw("Failed to record fencer failure", "fencer_id", fencer.FencerID, "err", err)
		}
		return
	}

	if err := s.svc.Subjects.RecordFencerSuccess(ctx, fencer, now, result.Hash); err != nil {
		s.log.Sugar().Errorw("Failed to record fencer success", "fencer_id", fencer.FencerID, "err", err)
	}
	if result.Skipped {
		s.log.Sugar().Infow("Scrape finished for fencer (unchanged)", "fencer_id", fencer.FencerID)
	} else {
		s.log.Sugar().Infow("Scrape finished for fencer",
			"fencer_id", fencer.FencerID,
			"new", result.Stats.New, "updated", result.Stats.Updated, "total", result.Stats.Total)
	}
}
