package lib

import (
	"context"
	"fmt"

	"github.com/fencewatch/fencewatch/config"
	"github.com/fencewatch/fencewatch/lib/digest"
	"github.com/fencewatch/fencewatch/lib/ingest"
	"github.com/fencewatch/fencewatch/lib/models"
	"github.com/fencewatch/fencewatch/lib/scrape"
	"github.com/fencewatch/fencewatch/lib/subjects"
	"github.com/fencewatch/fencewatch/senders"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service is the facade the API and scheduler drive.
type Service struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *gorm.DB
	scraper  *scrape.Scraper
	ingester *ingest.Reconciler
	Subjects *subjects.Manager
	Digests  *digest.Selector
	senders  senders.Registry

	*onboardUser
}

func NewService(
	lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, db *gorm.DB,
	scraper *scrape.Scraper, ingester *ingest.Reconciler,
	subs *subjects.Manager, digests *digest.Selector, reg senders.Registry,
) *Service {
	return &Service{
		cfg, log, db, scraper, ingester, subs, digests, reg,
		&onboardUser{cfg, log, db},
	}
}

// RunIngestion fetches a club registration page and reconciles its
// rows into the store as one atomic run.
func (svc *Service) RunIngestion(ctx context.Context, sourceURL string) (ingest.Stats, error) {
	rows, err := svc.scraper.FetchClubRows(ctx, sourceURL)
	if err != nil {
		return ingest.Stats{}, err
	}
	return svc.ingester.Run(ctx, sourceURL, rows)
}

// FencerRunResult reports one tracked-fencer ingestion, including the
// change-detection outcome.
type FencerRunResult struct {
	Stats   ingest.Stats
	Hash    string
	Skipped bool // page unchanged since the last successful scrape
}

// RunFencerIngestion scrapes a tracked fencer's profile page. When the
// registration tables hash to the same value as the previous scrape,
// parsing and reconciliation are skipped entirely.
func (svc *Service) RunFencerIngestion(ctx context.Context, fencer *models.TrackedFencer) (FencerRunResult, error) {
	profile, err := svc.scraper.FetchProfile(ctx, fencer.SourceURL())
	if err != nil {
		return FencerRunResult{}, err
	}

	if fencer.LastRegistrationHash != "" && profile.Hash == fencer.LastRegistrationHash {
		svc.log.Sugar().Infow("No changes detected on fencer profile, skipping parse",
			"fencer_id", fencer.FencerID)
		return FencerRunResult{Hash: profile.Hash, Skipped: true}, nil
	}

	name := profile.FencerName
	if name == "" {
		name = fencer.DisplayName
	}
	if name == "" {
		name = "Fencer_" + fencer.FencerID
	}
	rows := make([]scrape.Row, len(profile.Rows))
	for i, row := range profile.Rows {
		row.FencerName = name
		rows[i] = row
	}

	stats, err := svc.ingester.Run(ctx, fencer.SourceURL(), rows)
	if err != nil {
		return FencerRunResult{}, err
	}
	return FencerRunResult{Stats: stats, Hash: profile.Hash}, nil
}

// FindUser looks up a user by ID.
func (svc *Service) FindUser(ctx context.Context, userID uint) (*models.User, error) {
	user := &models.User{}
	if err := svc.db.WithContext(ctx).First(user, userID).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// SendRegistrationAlert delivers a transactional single-registration
// notification, used by manual triggers and configuration checks.
func (svc *Service) SendRegistrationAlert(ctx context.Context, fencerName, events, tournamentName, sourceURL string, recipients ...string) (string, error) {
	sender, ok := svc.senders["email"]
	if !ok {
		return "", fmt.Errorf("unsupported notifier platform: email")
	}

	subject, body := senders.FormatRegistrationAlert(fencerName, events, tournamentName, sourceURL)
	return sender.Send(ctx, subject, body, recipients...)
}
