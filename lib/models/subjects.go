package models

import (
	"database/sql"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// TrackedSubject is the common shape of the things a user can watch:
// a club registration page or an individual fencer profile. The digest
// path only ever reads through this interface.
type TrackedSubject interface {
	Label() string
	SourceURL() string
	Filter() string
}

type TrackedClub struct {
	gorm.Model
	UserID        uint   `gorm:"not null;index;uniqueIndex:idx_user_club"`
	ClubURL       string `gorm:"not null;uniqueIndex:idx_user_club"`
	ClubName      string
	WeaponFilter  string
	Active        bool `gorm:"not null;default:true"`
	FailureCount  int  `gorm:"not null;default:0"`
	LastFailureAt sql.NullTime
	LastCheckedAt sql.NullTime

	User User
}

type TrackedClubs []TrackedClub

func (c *TrackedClub) Label() string {
	if c.ClubName != "" {
		return c.ClubName
	}
	return c.ClubURL
}

func (c *TrackedClub) SourceURL() string { return c.ClubURL }
func (c *TrackedClub) Filter() string    { return c.WeaponFilter }

type TrackedFencer struct {
	gorm.Model
	UserID        uint   `gorm:"not null;index;uniqueIndex:idx_user_fencer"`
	FencerID      string `gorm:"not null;uniqueIndex:idx_user_fencer"`
	DisplayName   string
	WeaponFilter  string
	Active        bool `gorm:"not null;default:true"`
	FailureCount  int  `gorm:"not null;default:0"`
	LastFailureAt sql.NullTime
	LastCheckedAt sql.NullTime

	// Hash of the registration tables seen on the last successful
	// scrape, used to skip parsing unchanged profile pages.
	LastRegistrationHash string

	User User
}

type TrackedFencers []TrackedFencer

func (f *TrackedFencer) Label() string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return "Fencer " + f.FencerID
}

func (f *TrackedFencer) SourceURL() string {
	if f.DisplayName != "" {
		slug := strings.ReplaceAll(strings.TrimSpace(f.DisplayName), " ", "-")
		return fmt.Sprintf("https://www.fencingtracker.com/p/%s/%s", f.FencerID, slug)
	}
	return fmt.Sprintf("https://www.fencingtracker.com/p/%s", f.FencerID)
}

func (f *TrackedFencer) Filter() string { return f.WeaponFilter }
