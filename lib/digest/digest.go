package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fencewatch/fencewatch/config"
	"github.com/fencewatch/fencewatch/lib/models"
	"github.com/fencewatch/fencewatch/lib/store"
	"github.com/fencewatch/fencewatch/lib/subjects"
	"github.com/fencewatch/fencewatch/senders"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Selector computes per-user digests of newly observed registrations
// and hands them to the notification dispatcher. It only ever reads
// tracked subjects and the entity store.
type Selector struct {
	log      *zap.Logger
	db       *gorm.DB
	store    *store.Store
	subjects *subjects.Manager
	senders  senders.Registry
	lookback time.Duration
}

func NewSelector(lc fx.Lifecycle, log *zap.Logger, db *gorm.DB, st *store.Store, subs *subjects.Manager, reg senders.Registry, cfg *config.Config) *Selector {
	lookback := time.Duration(cfg.Digest.LookbackHours) * time.Hour
	return &Selector{log, db, st, subs, reg, lookback}
}

// ApplyWeaponFilter keeps registrations whose events string contains,
// case-insensitively, at least one of the filter's weapon tokens as a
// substring. No word-boundary check: filter "foil" matches
// "Junior Women's Foil". An empty filter keeps everything.
func ApplyWeaponFilter(regs models.Registrations, weaponFilter string) models.Registrations {
	if weaponFilter == "" {
		return regs
	}

	var tokens []string
	for _, token := range strings.Split(weaponFilter, ",") {
		if token = strings.ToLower(strings.TrimSpace(token)); token != "" {
			tokens = append(tokens, token)
		}
	}
	if len(tokens) == 0 {
		return regs
	}

	var filtered models.Registrations
	for _, reg := range regs {
		events := strings.ToLower(reg.Events)
		for _, token := range tokens {
			if strings.Contains(events, token) {
				filtered = append(filtered, reg)
				break
			}
		}
	}
	return filtered
}

// BuildDigest selects the user's notification content: one section per
// active tracked subject that has matching registrations seen within
// the lookback window. Sections with zero rows are dropped.
func (s *Selector) BuildDigest(ctx context.Context, user *models.User, since time.Time) (*models.Digest, error) {
	digest := &models.Digest{Username: user.Username}

	clubs, err := s.subjects.ClubsForUser(ctx, user.ID, true)
	if err != nil {
		return nil, err
	}
	for i := range clubs {
		section, err := s.buildSection(ctx, &clubs[i], models.SubjectClub, since)
		if err != nil {
			return nil, err
		}
		if section != nil {
			digest.Sections = append(digest.Sections, *section)
		}
	}

	fencers, err := s.subjects.FencersForUser(ctx, user.ID, true)
	if err != nil {
		return nil, err
	}
	for i := range fencers {
		section, err := s.buildSection(ctx, &fencers[i], models.SubjectFencer, since)
		if err != nil {
			return nil, err
		}
		if section != nil {
			digest.Sections = append(digest.Sections, *section)
		}
	}

	return digest, nil
}

func (s *Selector) buildSection(ctx context.Context, subject models.TrackedSubject, kind models.SubjectKind, since time.Time) (*models.DigestSection, error) {
	regs, err := s.store.RegistrationsBySource(ctx, subject.SourceURL(), since)
	if err != nil {
		return nil, err
	}

	matched := ApplyWeaponFilter(regs, subject.Filter())
	if len(matched) == 0 {
		return nil, nil
	}

	section := &models.DigestSection{
		Label:   subject.Label(),
		PageURL: subject.SourceURL(),
		Kind:    kind,
	}
	for _, reg := range matched {
		section.Rows = append(section.Rows, models.DigestRow{
			FencerName:     reg.Fencer.Name,
			Events:         reg.Events,
			TournamentName: reg.Tournament.Name,
		})
	}
	return section, nil
}

// SendUserDigest builds and delivers one user's digest. Returns false
// without touching the transport when the user has no email, no active
// subjects, or no matching registrations in the window.
func (s *Selector) SendUserDigest(ctx context.Context, user *models.User) (bool, error) {
	if user.Email == "" {
		s.log.Sugar().Infow("User has no email address configured; skipping", "user_id", user.ID)
		return false, nil
	}

	since := time.Now().UTC().Add(-s.lookback)
	digest, err := s.BuildDigest(ctx, user, since)
	if err != nil {
		return false, err
	}
	if len(digest.Sections) == 0 {
		s.log.Sugar().Debugw("No new registrations for user; skipping digest", "user_id", user.ID)
		return false, nil
	}

	sender, ok := s.senders["email"]
	if !ok {
		return false, fmt.Errorf("unsupported notifier platform: email")
	}

	subject, body := senders.FormatDigest(digest, int(s.lookback.Hours()))
	id, err := sender.Send(ctx, subject, body, user.Email)
	if err != nil {
		return false, err
	}

	s.log.Sugar().Infow("Sent digest",
		"user_id", user.ID, "email", user.Email,
		"registrations", digest.TotalRows(), "message_id", id,
	)
	return true, nil
}

// RunDailyDigests sends a digest to every active user. A delivery or
// selection failure for one user never affects the others.
func (s *Selector) RunDailyDigests(ctx context.Context) {
	var users models.Users
	if err := s.db.WithContext(ctx).Where("active = ?", true).Find(&users).Error; err != nil {
		s.log.Sugar().Errorw("Failed to list active users for digest run", "err", err)
		return
	}

	sent := 0
	for i := range users {
		ok, err := s.SendUserDigest(ctx, &users[i])
		if err != nil {
			s.log.Sugar().Errorw("Failed to send digest", "user_id", users[i].ID, "err", err)
			continue
		}
		if ok {
			sent++
		}
	}
	s.log.Sugar().Infow("Digest run finished", "users", len(users), "sent", sent)
}
