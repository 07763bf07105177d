package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fencewatch/fencewatch/lib/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrConflictUnresolved means an insert hit the (fencer, tournament)
// unique constraint but the conflicting row could not be found on
// re-query. The retry is bounded to one attempt; callers treat this as
// fatal for the current run.
var ErrConflictUnresolved = errors.New("registration conflict could not be resolved")

// Store owns the canonical fencer/tournament/registration records.
type Store struct {
	log *zap.Logger
	db  *gorm.DB
}

func NewStore(lc fx.Lifecycle, log *zap.Logger, db *gorm.DB) *Store {
	return &Store{log, db}
}

// WithTx returns a Store bound to the given transaction handle so a
// whole ingestion run commits as one unit.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{s.log, tx}
}

// ResolveFencer returns the fencer with the exact given name, creating
// it on first sighting. Concurrent creators are reconciled through the
// unique constraint on name.
func (s *Store) ResolveFencer(ctx context.Context, name string) (*models.Fencer, error) {
	var fencer models.Fencer
	tx := s.db.WithContext(ctx).Where("name = ?", name).First(&fencer)
	if tx.Error == nil {
		return &fencer, nil
	}
	if !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return nil, tx.Error
	}

	fencer = models.Fencer{Name: name}
	if err := s.db.WithContext(ctx).Create(&fencer).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.requeryFencer(ctx, name)
		}
		return nil, err
	}
	return &fencer, nil
}

func (s *Store) requeryFencer(ctx context.Context, name string) (*models.Fencer, error) {
	var fencer models.Fencer
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&fencer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: fencer %q", ErrConflictUnresolved, name)
		}
		return nil, err
	}
	return &fencer, nil
}

// ResolveTournament returns the tournament with the given name,
// creating it on first sighting. The date is fixed at creation and
// ignored when the tournament already exists.
func (s *Store) ResolveTournament(ctx context.Context, name, date string) (*models.Tournament, error) {
	var tournament models.Tournament
	tx := s.db.WithContext(ctx).Where("name = ?", name).First(&tournament)
	if tx.Error == nil {
		return &tournament, nil
	}
	if !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return nil, tx.Error
	}

	tournament = models.Tournament{Name: name, Date: date}
	if err := s.db.WithContext(ctx).Create(&tournament).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.requeryTournament(ctx, name)
		}
		return nil, err
	}
	return &tournament, nil
}

func (s *Store) requeryTournament(ctx context.Context, name string) (*models.Tournament, error) {
	var tournament models.Tournament
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&tournament).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: tournament %q", ErrConflictUnresolved, name)
		}
		return nil, err
	}
	return &tournament, nil
}

// UpsertRegistration creates the (fencer, tournament) registration or
// merges the events string into the existing one. The returned bool
// reports whether a new row was created.
//
// A concurrent writer may insert the same pair between our query and
// insert; on a uniqueness violation we re-query once and merge into
// the row that won. If the re-query misses, ErrConflictUnresolved.
func (s *Store) UpsertRegistration(ctx context.Context, fencer *models.Fencer, tournament *models.Tournament, events, sourceURL string) (*models.Registration, bool, error) {
	now := time.Now().UTC()

	var reg models.Registration
	tx := s.db.WithContext(ctx).
		Where("fencer_id = ? AND tournament_id = ?", fencer.ID, tournament.ID).
		First(&reg)
	if tx.Error == nil {
		merged, err := s.mergeRegistration(ctx, &reg, events, now)
		return merged, false, err
	}
	if !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return nil, false, tx.Error
	}

	reg = models.Registration{
		FencerID:     fencer.ID,
		TournamentID: tournament.ID,
		Events:       events,
		SourceURL:    sourceURL,
		LastSeenAt:   now,
	}
	err := s.db.WithContext(ctx).Create(&reg).Error
	if err == nil {
		return &reg, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, err
	}

	var existing models.Registration
	tx = s.db.WithContext(ctx).
		Where("fencer_id = ? AND tournament_id = ?", fencer.ID, tournament.ID).
		First(&existing)
	if tx.Error != nil {
		if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("%w: fencer %d, tournament %d", ErrConflictUnresolved, fencer.ID, tournament.ID)
		}
		return nil, false, tx.Error
	}

	merged, mergeErr := s.mergeRegistration(ctx, &existing, events, now)
	return merged, false, mergeErr
}

func (s *Store) mergeRegistration(ctx context.Context, reg *models.Registration, events string, now time.Time) (*models.Registration, error) {
	reg.Events = MergeEvents(reg.Events, events)
	reg.LastSeenAt = now

	tx := s.db.WithContext(ctx).Model(reg).Updates(map[string]any{
		"events":       reg.Events,
		"last_seen_at": reg.LastSeenAt,
	})
	if err := tx.Error; err != nil {
		return nil, err
	}
	return reg, nil
}

// MergeEvents appends the incoming events string to the stored set
// unless it is already present verbatim as a comma-separated member.
// Existing entries are never reordered, deduplicated or dropped.
func MergeEvents(existing, incoming string) string {
	if existing == "" {
		return incoming
	}
	if incoming == "" {
		return existing
	}
	for _, member := range strings.Split(existing, ",") {
		if strings.TrimSpace(member) == strings.TrimSpace(incoming) {
			return existing
		}
	}
	return existing + ", " + incoming
}
