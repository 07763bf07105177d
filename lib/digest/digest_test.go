package digest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/fencewatch/fencewatch/config"
	"github.com/fencewatch/fencewatch/lib/ingest"
	"github.com/fencewatch/fencewatch/lib/models"
	"github.com/fencewatch/fencewatch/lib/scrape"
	"github.com/fencewatch/fencewatch/lib/store"
	"github.com/fencewatch/fencewatch/lib/subjects"
	"github.com/fencewatch/fencewatch/senders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type sentMessage struct {
	Subject    string
	Body       string
	Recipients []string
}

// fakeSender records messages instead of delivering them.
type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(ctx context.Context, subject, body string, recipients ...string) (string, error) {
	f.sent = append(f.sent, sentMessage{subject, body, recipients})
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

type fixture struct {
	db       *gorm.DB
	store    *store.Store
	subjects *subjects.Manager
	ingester *ingest.Reconciler
	selector *Selector
	sender   *fakeSender
}

func newFixture(t *testing.T) *fixture {
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
		&models.User{},
		&models.TrackedClub{},
		&models.TrackedFencer{},
	))

	cfg := &config.Config{}
	cfg.Scraper.MaxFailures = 3
	cfg.Digest.LookbackHours = 24

	log := zap.NewNop()
	st := store.NewStore(nil, log, db)
	subs := subjects.NewManager(nil, log, db, cfg)
	sender := &fakeSender{}
	reg := senders.Registry{"email": sender}

	return &fixture{
		db:       db,
		store:    st,
		subjects: subs,
		ingester: ingest.NewReconciler(nil, log, db, st),
		selector: NewSelector(nil, log, db, st, subs, reg, cfg),
		sender:   sender,
	}
}

func (f *fixture) createUser(t *testing.T, username, email string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Email: email, Active: true}
	require.NoError(t, f.db.Create(user).Error)
	return user
}

func TestApplyWeaponFilter(t *testing.T) {
	regs := models.Registrations{
		{Events: "Junior Women's Foil"},
		{Events: "Epee, Saber"},
		{Events: "Y14 Mixed Epee"},
	}

	t.Run("empty filter keeps everything", func(t *testing.T) {
		assert.Len(t, ApplyWeaponFilter(regs, ""), 3)
	})

	t.Run("substring match is case-insensitive", func(t *testing.T) {
		matched := ApplyWeaponFilter(regs, "foil")
		require.Len(t, matched, 1)
		assert.Equal(t, "Junior Women's Foil", matched[0].Events)
	})

	t.Run("multiple tokens", func(t *testing.T) {
		assert.Len(t, ApplyWeaponFilter(regs, "foil,epee"), 3)
	})

	t.Run("no match", func(t *testing.T) {
		assert.Empty(t, ApplyWeaponFilter(models.Registrations{{Events: "Foil"}}, "saber"))
	})
}

func TestSendUserDigest_SkipsUserWithoutEmail(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "jane", "")

	sent, err := f.selector.SendUserDigest(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, f.sender.sent, "transport untouched")
}

func TestSendUserDigest_SkipsWhenNothingNew(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "jane", "jane@example.com")

	_, err := f.subjects.TrackClub(ctx, user.ID, "https://www.fencingtracker.com/club/100/Salle", "Salle", "")
	require.NoError(t, err)

	sent, err := f.selector.SendUserDigest(ctx, user)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, f.sender.sent)
}

func TestSendUserDigest_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "jane", "jane@example.com")

	clubURL := "https://www.fencingtracker.com/club/100/Salle/registrations"
	_, err := f.subjects.TrackClub(ctx, user.ID, clubURL, "Salle", "")
	require.NoError(t, err)

	stats, err := f.ingester.Run(ctx, clubURL, []scrape.Row{
		{FencerName: "Jane Doe", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Foil"},
	})
	require.NoError(t, err)
	require.Equal(t, ingest.Stats{New: 1, Total: 1}, stats)

	sent, err := f.selector.SendUserDigest(ctx, user)
	require.NoError(t, err)
	assert.True(t, sent)

	require.Len(t, f.sender.sent, 1)
	msg := f.sender.sent[0]
	assert.Equal(t, []string{"jane@example.com"}, msg.Recipients)
	assert.Equal(t, "Daily fencing update (1 new)", msg.Subject)
	assert.Contains(t, msg.Body, "Hi jane,")
	assert.Contains(t, msg.Body, "Salle")
	assert.Contains(t, msg.Body, "* Jane Doe - Foil (Autumn Open)")
	assert.Contains(t, msg.Body, "Club page: "+clubURL)
}

func TestSendUserDigest_WeaponFilterExcludesSection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "jane", "jane@example.com")

	clubURL := "https://www.fencingtracker.com/club/100/Salle/registrations"
	_, err := f.subjects.TrackClub(ctx, user.ID, clubURL, "Salle", "saber")
	require.NoError(t, err)

	_, err = f.ingester.Run(ctx, clubURL, []scrape.Row{
		{FencerName: "Jane Doe", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Foil"},
	})
	require.NoError(t, err)

	sent, err := f.selector.SendUserDigest(ctx, user)
	require.NoError(t, err)
	assert.False(t, sent, "nothing matched the saber filter")
	assert.Empty(t, f.sender.sent)
}

func TestSendUserDigest_MissingEmailSenderErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "jane", "jane@example.com")

	clubURL := "https://www.fencingtracker.com/club/100/Salle/registrations"
	_, err := f.subjects.TrackClub(ctx, user.ID, clubURL, "Salle", "")
	require.NoError(t, err)
	_, err = f.ingester.Run(ctx, clubURL, []scrape.Row{
		{FencerName: "Jane Doe", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Foil"},
	})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Digest.LookbackHours = 24
	bare := NewSelector(nil, zap.NewNop(), f.db, f.store, f.subjects, senders.Registry{}, cfg)

	sent, err := bare.SendUserDigest(ctx, user)
	require.Error(t, err)
	assert.False(t, sent)
}

func TestSendUserDigest_DeactivatedSubjectExcluded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "jane", "jane@example.com")

	clubURL := "https://www.fencingtracker.com/club/100/Salle/registrations"
	club, err := f.subjects.TrackClub(ctx, user.ID, clubURL, "Salle", "")
	require.NoError(t, err)

	_, err = f.ingester.Run(ctx, clubURL, []scrape.Row{
		{FencerName: "Jane Doe", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Foil"},
	})
	require.NoError(t, err)

	require.NoError(t, f.subjects.SetClubActive(ctx, user.ID, club.ID, false))

	sent, err := f.selector.SendUserDigest(ctx, user)
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestRunDailyDigests_IsolatesDeliveryFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clubURL := "https://www.fencingtracker.com/club/100/Salle/registrations"
	for _, name := range []string{"jane", "john"} {
		user := f.createUser(t, name, name+"@example.com")
		_, err := f.subjects.TrackClub(ctx, user.ID, clubURL, "Salle", "")
		require.NoError(t, err)
	}

	_, err := f.ingester.Run(ctx, clubURL, []scrape.Row{
		{FencerName: "Jane Doe", TournamentName: "Autumn Open", TournamentDate: "2025-10-01", Events: "Foil"},
	})
	require.NoError(t, err)

	f.sender.err = fmt.Errorf("mailgun: boom")
	f.selector.RunDailyDigests(ctx)

	// Both deliveries were attempted even though every send failed.
	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, []string{"jane@example.com"}, f.sender.sent[0].Recipients)
	assert.Equal(t, []string{"john@example.com"}, f.sender.sent[1].Recipients)
}
