package models

import (
	"time"

	"gorm.io/gorm"
)

// Fencer is created on first sighting and never mutated or deleted
// afterwards. Name is an exact, case-sensitive identity.
type Fencer struct {
	gorm.Model
	Name string `gorm:"uniqueIndex;not null"`

	Registrations []Registration
}

// Tournament keeps the date observed at first sighting; resightings
// never update it. Date is an opaque string straight off the page.
type Tournament struct {
	gorm.Model
	Name string `gorm:"uniqueIndex;not null"`
	Date string

	Registrations []Registration
}

// Registration is the central entity: at most one row per
// (fencer, tournament). Events is a comma-joined set that only grows.
type Registration struct {
	gorm.Model
	FencerID     uint   `gorm:"not null;uniqueIndex:idx_fencer_tournament"`
	TournamentID uint   `gorm:"not null;uniqueIndex:idx_fencer_tournament"`
	Events       string `gorm:"not null"`
	SourceURL    string `gorm:"not null;index"`
	LastSeenAt   time.Time

	Fencer     Fencer
	Tournament Tournament
}

type Registrations []Registration
