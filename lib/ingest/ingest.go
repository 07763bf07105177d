package ingest

import (
	"context"
	"errors"

	"github.com/fencewatch/fencewatch/lib/scrape"
	"github.com/fencewatch/fencewatch/lib/store"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Stats tallies one ingestion run. Total = New + Updated; skipped and
// errored rows are excluded from all three.
type Stats struct {
	New     int `json:"new"`
	Updated int `json:"updated"`
	Total   int `json:"total"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`
}

func (s *Stats) Add(other Stats) {
	s.New += other.New
	s.Updated += other.Updated
	s.Total += other.Total
	s.Skipped += other.Skipped
	s.Errored += other.Errored
}

// Reconciler applies a sequence of scraped rows for one source URL to
// the entity store. Each run commits as a single transaction: either
// every valid row's effect is durable, or a fatal store error rolls
// the whole run back.
type Reconciler struct {
	log   *zap.Logger
	db    *gorm.DB
	store *store.Store
}

func NewReconciler(lc fx.Lifecycle, log *zap.Logger, db *gorm.DB, st *store.Store) *Reconciler {
	return &Reconciler{log, db, st}
}

// Run processes rows in input order. Rows with a blank fencer or
// tournament name are skipped silently; a row that fails against the
// store is logged and skipped without aborting the rest, except for an
// unresolved constraint conflict, which is fatal and rolls back the
// run.
func (r *Reconciler) Run(ctx context.Context, sourceURL string, rows []scrape.Row) (Stats, error) {
	runID := uuid.NewString()
	var stats Stats

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st := r.store.WithTx(tx)

		for _, row := range rows {
			if row.FencerName == "" || row.TournamentName == "" {
				stats.Skipped++
				continue
			}

			created, err := r.applyRow(ctx, st, sourceURL, row)
			if err != nil {
				if errors.Is(err, store.ErrConflictUnresolved) {
					return err
				}
				r.log.Sugar().Errorw("Error processing row",
					"run_id", runID, "source", sourceURL,
					"fencer", row.FencerName, "tournament", row.TournamentName,
					"err", err,
				)
				stats.Errored++
				continue
			}

			if created {
				stats.New++
			} else {
				stats.Updated++
			}
		}

		stats.Total = stats.New + stats.Updated
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	r.log.Sugar().Infow("Ingestion run finished",
		"run_id", runID, "source", sourceURL,
		"new", stats.New, "updated", stats.Updated, "total", stats.Total,
	)
	return stats, nil
}

func (r *Reconciler) applyRow(ctx context.Context, st *store.Store, sourceURL string, row scrape.Row) (bool, error) {
	fencer, err := st.ResolveFencer(ctx, row.FencerName)
	if err != nil {
		return false, err
	}

	tournament, err := st.ResolveTournament(ctx, row.TournamentName, row.TournamentDate)
	if err != nil {
		return false, err
	}

	_, created, err := st.UpsertRegistration(ctx, fencer, tournament, row.Events, sourceURL)
	return created, err
}
