package store

import (
	"context"
	"time"

	"github.com/fencewatch/fencewatch/lib/models"
)

// RegistrationsBySource returns registrations from one source URL seen
// within the lookback window, oldest first. Both brand-new rows and
// existing rows that were re-sighted (and possibly gained an event)
// qualify, since last_seen_at advances on every observation.
func (s *Store) RegistrationsBySource(ctx context.Context, sourceURL string, since time.Time) (models.Registrations, error) {
	var regs models.Registrations
	tx := s.db.WithContext(ctx).
		Where("source_url = ?", sourceURL).
		Where("last_seen_at >= ?", since).
		Preload("Fencer").
		Preload("Tournament").
		Order("last_seen_at asc").
		Find(&regs)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return regs, nil
}

// RegistrationRow is a flattened registration for listing surfaces.
type RegistrationRow struct {
	ID             uint      `json:"id"`
	FencerName     string    `json:"fencer_name"`
	TournamentName string    `json:"tournament_name"`
	TournamentDate string    `json:"tournament_date"`
	Events         string    `json:"events"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}

type RegistrationQuery struct {
	TournamentFilter string
	FencerFilter     string
	SortBy           string // fencer_name | tournament_name | last_seen_at
	SortOrder        string // asc | desc
}

var sortColumns = map[string]string{
	"fencer_name":     "fencers.name",
	"tournament_name": "tournaments.name",
	"last_seen_at":    "registrations.last_seen_at",
}

// QueryRegistrations lists registrations with optional
// case-insensitive substring filters and sorting. Unknown sort fields
// fall back to last_seen_at descending.
func (s *Store) QueryRegistrations(ctx context.Context, q RegistrationQuery) ([]RegistrationRow, error) {
	tx := s.db.WithContext(ctx).
		Table("registrations").
		Select(`registrations.id, fencers.name AS fencer_name,
			tournaments.name AS tournament_name, tournaments.date AS tournament_date,
			registrations.events, registrations.last_seen_at`).
		Joins("JOIN fencers ON fencers.id = registrations.fencer_id").
		Joins("JOIN tournaments ON tournaments.id = registrations.tournament_id").
		Where("registrations.deleted_at IS NULL")

	if q.TournamentFilter != "" {
		tx = tx.Where("tournaments.name LIKE ?", "%"+q.TournamentFilter+"%")
	}
	if q.FencerFilter != "" {
		tx = tx.Where("fencers.name LIKE ?", "%"+q.FencerFilter+"%")
	}

	column, ok := sortColumns[q.SortBy]
	if !ok {
		column = sortColumns["last_seen_at"]
	}
	direction := "desc"
	if q.SortOrder == "asc" {
		direction = "asc"
	}
	tx = tx.Order(column + " " + direction)

	var rows []RegistrationRow
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
