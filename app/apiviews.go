package app

import (
	"database/sql"
	"time"

	"github.com/fencewatch/fencewatch/lib/models"
)

type UserView struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Active   bool   `json:"active"`
}

func (view UserView) From(entity *models.User) UserView {
	return UserView{
		ID:       entity.ID,
		Username: entity.Username,
		Email:    entity.Email,
		Active:   entity.Active,
	}
}

type TrackedClubView struct {
	ID            uint    `json:"id"`
	UserID        uint    `json:"user_id"`
	ClubURL       string  `json:"club_url"`
	ClubName      string  `json:"club_name"`
	WeaponFilter  string  `json:"weapon_filter"`
	Active        bool    `json:"active"`
	FailureCount  int     `json:"failure_count"`
	LastFailureAt *string `json:"last_failure_at"`
	LastCheckedAt *string `json:"last_checked_at"`
}

func (view TrackedClubView) From(entity models.TrackedClub) TrackedClubView {
	return TrackedClubView{
		ID:            entity.ID,
		UserID:        entity.UserID,
		ClubURL:       entity.ClubURL,
		ClubName:      entity.ClubName,
		WeaponFilter:  entity.WeaponFilter,
		Active:        entity.Active,
		FailureCount:  entity.FailureCount,
		LastFailureAt: isoformat(entity.LastFailureAt),
		LastCheckedAt: isoformat(entity.LastCheckedAt),
	}
}

type TrackedFencerView struct {
	ID            uint    `json:"id"`
	UserID        uint    `json:"user_id"`
	FencerID      string  `json:"fencer_id"`
	DisplayName   string  `json:"display_name"`
	ProfileURL    string  `json:"profile_url"`
	WeaponFilter  string  `json:"weapon_filter"`
	Active        bool    `json:"active"`
	FailureCount  int     `json:"failure_count"`
	LastFailureAt *string `json:"last_failure_at"`
	LastCheckedAt *string `json:"last_checked_at"`
}

func (view TrackedFencerView) From(entity models.TrackedFencer) TrackedFencerView {
	return TrackedFencerView{
		ID:            entity.ID,
		UserID:        entity.UserID,
		FencerID:      entity.FencerID,
		DisplayName:   entity.DisplayName,
		ProfileURL:    entity.SourceURL(),
		WeaponFilter:  entity.WeaponFilter,
		Active:        entity.Active,
		FailureCount:  entity.FailureCount,
		LastFailureAt: isoformat(entity.LastFailureAt),
		LastCheckedAt: isoformat(entity.LastCheckedAt),
	}
}

type Fromable[Entity any, Repr any] interface {
	From(Entity) Repr
}

func FromMany[T any, U Fromable[T, U]](elems []T) []U {
	out := make([]U, len(elems))
	for i, t := range elems {
		var u U
		out[i] = u.From(t)
	}
	return out
}

func isoformat(t sql.NullTime) *string {
	if t.Valid {
		s := t.Time.UTC().Format(time.RFC3339)
		return &s
	}
	return nil
}
