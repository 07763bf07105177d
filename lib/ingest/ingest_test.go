package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fencewatch/fencewatch/lib/models"
	"github.com/fencewatch/fencewatch/lib/scrape"
	"github.com/fencewatch/fencewatch/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestReconciler(t *testing.T) (*Reconciler, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true, SkipDefaultTransaction: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Fencer{},
		&models.Tournament{},
		&models.Registration{},
	))

	st := store.NewStore(nil, zap.NewNop(), db)
	return NewReconciler(nil, zap.NewNop(), db, st), db
}

func TestRun_NewAndUpdatedCounts(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	stats, err := r.Run(ctx, "https://club.example", []scrape.Row{
		{FencerName: "Jane Doe", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Foil"},
	})
	require.NoError(t, err)
	assert.Equal(t, Stats{New: 1, Updated: 0, Total: 1}, stats)

	stats, err = r.Run(ctx, "https://club.example", []scrape.Row{
		{FencerName: "Jane Doe", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Epee"},
		{FencerName: "John Roe", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Saber"},
	})
	require.NoError(t, err)
	assert.Equal(t, Stats{New: 1, Updated: 1, Total: 2}, stats)
}

func TestRun_BlankRowsAreSkippedSilently(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	stats, err := r.Run(ctx, "https://club.example", []scrape.Row{
		{FencerName: "Jane Doe", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Foil"},
		{FencerName: "", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Epee"},
		{FencerName: "John Roe", TournamentName: "", TournamentDate: "2025-10-01", Events: "Saber"},
		{FencerName: "John Roe", TournamentName: "Winter Cup", TournamentDate: "2025-12-01", Events: "Saber"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.New)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 0, stats.Errored)

	var count int64
	db.Model(&models.Registration{}).Count(&count)
	assert.EqualValues(t, 2, count, "both valid rows persisted")
}

func TestRun_RepeatedRowsWithinOneRun(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	// The feed repeats rows; one run must still produce one
	// registration per (fencer, tournament) with events accumulated
	// in first-seen order.
	stats, err := r.Run(ctx, "https://club.example", []scrape.Row{
		{FencerName: "Jane Doe", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Foil"},
		{FencerName: "Jane Doe", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Epee"},
		{FencerName: "Jane Doe", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Foil"},
	})
	require.NoError(t, err)
	assert.Equal(t, Stats{New: 1, Updated: 2, Total: 3}, stats)

	var reg models.Registration
	require.NoError(t, db.First(&reg).Error)
	assert.Equal(t, "Foil, Epee", reg.Events)
}

func TestRun_RowErrorDoesNotAbortRun(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	// Fail the insert for one fencer; the run tallies the error and
	// keeps going.
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_one_fencer", func(tx *gorm.DB) {
		if tx.Statement.Schema == nil || tx.Statement.Schema.Table != "fencers" {
			return
		}
		if fencer, ok := tx.Statement.Dest.(*models.Fencer); ok && fencer.Name == "Broken Row" {
			tx.AddError(fmt.Errorf("disk I/O error"))
		}
	})
	require.NoError(t, err)

	stats, err := r.Run(ctx, "https://club.example", []scrape.Row{
		{FencerName: "Jane Doe", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Foil"},
		{FencerName: "Broken Row", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Epee"},
		{FencerName: "John Roe", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Saber"},
	})
	require.NoError(t, err)
	assert.Equal(t, Stats{New: 2, Total: 2, Errored: 1}, stats)

	var count int64
	db.Model(&models.Registration{}).Count(&count)
	assert.EqualValues(t, 2, count, "rows around the failed one were persisted")
}

func TestRun_UnresolvableConflictRollsBackWholeRun(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	// On the second registration insert, slip in a conflicting row that
	// is already soft-deleted: the unique index rejects the insert, but
	// the follow-up query cannot see the winner, so the conflict cannot
	// be resolved.
	regCreates := 0
	err := db.Callback().Create().Before("gorm:create").Register("test:phantom_conflict", func(tx *gorm.DB) {
		if tx.Statement.Schema == nil || tx.Statement.Schema.Table != "registrations" {
			return
		}
		regCreates++
		if regCreates != 2 {
			return
		}
		reg, ok := tx.Statement.Dest.(*models.Registration)
		if !ok {
			return
		}
		rival := models.Registration{
			FencerID:     reg.FencerID,
			TournamentID: reg.TournamentID,
			Events:       "Foil",
			SourceURL:    "https://rival.example",
			LastSeenAt:   time.Now().UTC(),
		}
		rival.DeletedAt = gorm.DeletedAt{Time: time.Now().UTC(), Valid: true}
		require.NoError(t, tx.Session(&gorm.Session{NewDB: true}).Create(&rival).Error)
	})
	require.NoError(t, err)

	_, err = r.Run(ctx, "https://club.example", []scrape.Row{
		{FencerName: "Jane Doe", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Foil"},
		{FencerName: "John Roe", TournamentName: "Winter Cup", TournamentDate: "2025-12-01", Events: "Epee"},
	})
	require.ErrorIs(t, err, store.ErrConflictUnresolved)

	// The first row had already been applied inside the run; nothing of
	// it survives the rollback.
	var count int64
	db.Unscoped().Model(&models.Registration{}).Count(&count)
	assert.EqualValues(t, 0, count)
	db.Model(&models.Fencer{}).Count(&count)
	assert.EqualValues(t, 0, count)
	db.Model(&models.Tournament{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestRun_EmptySequence(t *testing.T) {
	r, _ := newTestReconciler(t)

	stats, err := r.Run(context.Background(), "https://club.example", nil)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}
