package subjects

import (
	"context"
	"time"

	"github.com/fencewatch/fencewatch/config"
	"github.com/fencewatch/fencewatch/lib/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager owns tracked-subject rows: user-driven lifecycle
// (track/deactivate/reactivate) and the per-source failure accounting
// that the ingestion sweep feeds. Subjects whose failure count crosses
// the configured threshold are deactivated automatically.
type Manager struct {
	log         *zap.Logger
	db          *gorm.DB
	maxFailures int
}

func NewManager(lc fx.Lifecycle, log *zap.Logger, db *gorm.DB, cfg *config.Config) *Manager {
	return &Manager{log, db, cfg.Scraper.MaxFailures}
}

func (m *Manager) TrackClub(ctx context.Context, userID uint, rawURL, clubName, weaponFilter string) (*models.TrackedClub, error) {
	clubURL, slug, err := NormalizeClubURL(rawURL)
	if err != nil {
		return nil, err
	}
	if clubName == "" && slug != "" {
		clubName = DeriveDisplayName(slug)
	}

	club := &models.TrackedClub{
		UserID:       userID,
		ClubURL:      clubURL,
		ClubName:     clubName,
		WeaponFilter: NormalizeWeaponFilter(weaponFilter),
		Active:       true,
	}
	if err := m.db.WithContext(ctx).Create(club).Error; err != nil {
		return nil, err
	}
	return club, nil
}

func (m *Manager) TrackFencer(ctx context.Context, userID uint, rawID, displayName, weaponFilter string) (*models.TrackedFencer, error) {
	fencerID, slug, err := NormalizeFencerID(rawID)
	if err != nil {
		return nil, err
	}
	if displayName == "" && slug != "" {
		displayName = DeriveDisplayName(slug)
	}

	fencer := &models.TrackedFencer{
		UserID:       userID,
		FencerID:     fencerID,
		DisplayName:  displayName,
		WeaponFilter: NormalizeWeaponFilter(weaponFilter),
		Active:       true,
	}
	if err := m.db.WithContext(ctx).Create(fencer).Error; err != nil {
		return nil, err
	}
	return fencer, nil
}

func (m *Manager) ClubsForUser(ctx context.Context, userID uint, activeOnly bool) (models.TrackedClubs, error) {
	var clubs models.TrackedClubs
	tx := m.db.WithContext(ctx).Where("user_id = ?", userID)
	if activeOnly {
		tx = tx.Where("active = ?", true)
	}
	if err := tx.Order("id asc").Find(&clubs).Error; err != nil {
		return nil, err
	}
	return clubs, nil
}

func (m *Manager) FencersForUser(ctx context.Context, userID uint, activeOnly bool) (models.TrackedFencers, error) {
	var fencers models.TrackedFencers
	tx := m.db.WithContext(ctx).Where("user_id = ?", userID)
	if activeOnly {
		tx = tx.Where("active = ?", true)
	}
	if err := tx.Order("id asc").Find(&fencers).Error; err != nil {
		return nil, err
	}
	return fencers, nil
}

// AllActiveClubs returns every active tracked club across all users,
// for the ingestion sweep.
func (m *Manager) AllActiveClubs(ctx context.Context) (models.TrackedClubs, error) {
	var clubs models.TrackedClubs
	if err := m.db.WithContext(ctx).Where("active = ?", true).Order("id asc").Find(&clubs).Error; err != nil {
		return nil, err
	}
	return clubs, nil
}

func (m *Manager) AllActiveFencers(ctx context.Context) (models.TrackedFencers, error) {
	var fencers models.TrackedFencers
	if err := m.db.WithContext(ctx).Where("active = ?", true).Order("id asc").Find(&fencers).Error; err != nil {
		return nil, err
	}
	return fencers, nil
}

func (m *Manager) SetClubActive(ctx context.Context, userID, clubID uint, active bool) error {
	return m.setActive(ctx, &models.TrackedClub{}, userID, clubID, active)
}

func (m *Manager) SetFencerActive(ctx context.Context, userID, fencerID uint, active bool) error {
	return m.setActive(ctx, &models.TrackedFencer{}, userID, fencerID, active)
}

// setActive flips the subject's active flag. Reactivation also resets
// the failure counter and clears the failure timestamp so the subject
// gets a fresh run of attempts.
func (m *Manager) setActive(ctx context.Context, model any, userID, id uint, active bool) error {
	updates := map[string]any{"active": active}
	if active {
		updates["failure_count"] = 0
		updates["last_failure_at"] = nil
	}

	tx := m.db.WithContext(ctx).Model(model).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if err := tx.Error; err != nil {
		return err
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecordClubSuccess clears the failure streak after a clean run.
func (m *Manager) RecordClubSuccess(ctx context.Context, club *models.TrackedClub, at time.Time) error {
	return m.recordSuccess(ctx, m.db.WithContext(ctx).Model(club), at)
}

func (m *Manager) RecordFencerSuccess(ctx context.Context, fencer *models.TrackedFencer, at time.Time, registrationHash string) error {
	tx := m.db.WithContext(ctx).Model(fencer).Updates(map[string]any{
		"last_checked_at":        at,
		"failure_count":          0,
		"last_failure_at":        nil,
		"last_registration_hash": registrationHash,
	})
	return tx.Error
}

func (m *Manager) recordSuccess(ctx context.Context, tx *gorm.DB, at time.Time) error {
	return tx.Updates(map[string]any{
		"last_checked_at": at,
		"failure_count":   0,
		"last_failure_at": nil,
	}).Error
}

// RecordClubFailure bumps the failure streak and deactivates the club
// once it reaches the threshold.
func (m *Manager) RecordClubFailure(ctx context.Context, club *models.TrackedClub, at time.Time) error {
	club.FailureCount++
	deactivate := club.FailureCount >= m.maxFailures

	updates := map[string]any{
		"failure_count":   club.FailureCount,
		"last_failure_at": at,
		"last_checked_at": at,
	}
	if deactivate {
		updates["active"] = false
		club.Active = false
		m.log.Sugar().Warnw("Deactivating tracked club after repeated failures",
			"club_url", club.ClubURL, "failures", club.FailureCount)
	}
	return m.db.WithContext(ctx).Model(club).Updates(updates).Error
}

func (m *Manager) RecordFencerFailure(ctx context.Context, fencer *models.TrackedFencer, at time.Time) error {
	fencer.FailureCount++
	deactivate := fencer.FailureCount >= m.maxFailures

	updates := map[string]any{
		"failure_count":   fencer.FailureCount,
		"last_failure_at": at,
		"last_checked_at": at,
	}
	if deactivate {
		updates["active"] = false
		fencer.Active = false
		m.log.Sugar().Warnw("Deactivating tracked fencer after repeated failures",
			"fencer_id", fencer.FencerID, "failures", fencer.FailureCount)
	}
	return m.db.WithContext(ctx).Model(fencer).Updates(updates).Error
}
