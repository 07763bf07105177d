package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fencewatch/fencewatch/config"
	"github.com/fencewatch/fencewatch/lib"
	"github.com/fencewatch/fencewatch/lib/models"
	"github.com/fencewatch/fencewatch/lib/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service, st *store.Store) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc, st)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go srv.ListenAndServe()
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service, st *store.Store) http.Handler {
	ctrl := &controller{log, svc, st}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("fencewatch", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Post("/ingest", ctrl.runIngestion)
		r.Get("/registrations", ctrl.listRegistrations)
		r.Post("/test-email", ctrl.sendTestEmail)

		r.Route("/users", func(r chi.Router) {
			r.Post("/", ctrl.onboardUser)
			r.Post("/{user_id}/digest", ctrl.sendDigest)

			r.Route("/{user_id}/clubs", func(r chi.Router) {
				r.Get("/", ctrl.listClubs)
				r.Post("/", ctrl.trackClub)
				r.Post("/{club_id}/deactivate", ctrl.deactivateClub)
				r.Post("/{club_id}/reactivate", ctrl.reactivateClub)
			})

			r.Route("/{user_id}/fencers", func(r chi.Router) {
				r.Get("/", ctrl.listFencers)
				r.Post("/", ctrl.trackFencer)
				r.Post("/{fencer_id}/deactivate", ctrl.deactivateFencer)
				r.Post("/{fencer_id}/reactivate", ctrl.reactivateFencer)
			})
		})
	})

	return r
}

type controller struct {
	log   *zap.Logger
	svc   *lib.Service
	store *store.Store
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err != nil {
		http.Error(w, err.Error(), status)
	} else {
		w.WriteHeader(status)
	}
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	if b, err := json.Marshal(body); err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		ctrl.log.Sugar().Errorw("Request failed", "error", err)
		return
	} else {
		w.WriteHeader(status)
		if b != nil {
			w.Write(b)
		}
	}
}

func (ctrl *controller) onboardUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := r.FormValue("username")
	email := r.FormValue("email")
	password := r.FormValue("password")

	if username == "" {
		ctrl.reject(w, 400, errors.New("Username is required"))
		return
	}
	if email == "" {
		ctrl.reject(w, 400, errors.New("Email is required"))
		return
	}
	if password == "" {
		ctrl.reject(w, 400, errors.New("Password is required"))
		return
	}

	user, err := ctrl.svc.OnboardUser(ctx, username, email, password)
	if err != nil {
		ctrl.reject(w, 500, err)
		return
	}
	ctrl.resolve(w, http.StatusAccepted, UserView{}.From(user))
}

func (ctrl *controller) runIngestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	source := r.FormValue("source")
	if source == "" {
		source = r.URL.Query().Get("source")
	}
	if source == "" {
		ctrl.reject(w, 400, errors.New("Source URL is required"))
		return
	}

	stats, err := ctrl.svc.RunIngestion(ctx, source)
	if err != nil {
		ctrl.reject(w, 502, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, stats)
}

func (ctrl *controller) listRegistrations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	rows, err := ctrl.store.QueryRegistrations(ctx, store.RegistrationQuery{
		TournamentFilter: q.Get("tournament"),
		FencerFilter:     q.Get("fencer"),
		SortBy:           q.Get("sort_by"),
		SortOrder:        q.Get("sort_order"),
	})
	if err != nil {
		ctrl.reject(w, 500, err)
		return
	}
	ctrl.resolve(w, 200, rows)
}

func (ctrl *controller) sendDigest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := ctrl.svc.FindUser(ctx, parseInt(chi.URLParam(r, "user_id")))
	if err != nil {
		ctrl.reject(w, 404, err)
		return
	}

	sent, err := ctrl.svc.Digests.SendUserDigest(ctx, user)
	if err != nil {
		ctrl.reject(w, 502, err)
		return
	}
	ctrl.resolve(w, 200, map[string]any{"sent": sent})
}

func (ctrl *controller) sendTestEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recipient := r.FormValue("recipient")
	if recipient == "" {
		ctrl.reject(w, 400, errors.New("Recipient is required"))
		return
	}

	id, err := ctrl.svc.SendRegistrationAlert(ctx,
		"Test Fencer", "Test Event", "Test Tournament", "https://example.com/test", recipient)
	if err != nil {
		ctrl.reject(w, 502, err)
		return
	}
	ctrl.resolve(w, 200, map[string]any{"message_id": id})
}

func (ctrl *controller) listClubs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clubs, err := ctrl.svc.Subjects.ClubsForUser(ctx, parseInt(chi.URLParam(r, "user_id")), false)
	if err != nil {
		ctrl.reject(w, 500, err)
		return
	}
	ctrl.resolve(w, 200, FromMany[models.TrackedClub, TrackedClubView](clubs))
}

func (ctrl *controller) trackClub(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clubURL := r.FormValue("club_url")
	if clubURL == "" {
		ctrl.reject(w, 400, errors.New("Club URL is required"))
		return
	}

	club, err := ctrl.svc.Subjects.TrackClub(ctx,
		parseInt(chi.URLParam(r, "user_id")), clubURL,
		r.FormValue("club_name"), r.FormValue("weapon_filter"))
	if err != nil {
		ctrl.reject(w, 400, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, TrackedClubView{}.From(*club))
}

func (ctrl *controller) deactivateClub(w http.ResponseWriter, r *http.Request) {
	ctrl.setClubActive(w, r, false)
}

func (ctrl *controller) reactivateClub(w http.ResponseWriter, r *http.Request) {
	ctrl.setClubActive(w, r, true)
}

func (ctrl *controller) setClubActive(w http.ResponseWriter, r *http.Request, active bool) {
	err := ctrl.svc.Subjects.SetClubActive(r.Context(),
		parseInt(chi.URLParam(r, "user_id")), parseInt(chi.URLParam(r, "club_id")), active)
	if err != nil {
		ctrl.reject(w, 404, err)
		return
	}
	ctrl.resolve(w, 200, map[string]any{"active": active})
}

func (ctrl *controller) listFencers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fencers, err := ctrl.svc.Subjects.FencersForUser(ctx, parseInt(chi.URLParam(r, "user_id")), false)
	if err != nil {
		ctrl.reject(w, 500, err)
		return
	}
	ctrl.resolve(w, 200, FromMany[models.TrackedFencer, TrackedFencerView](fencers))
}

func (ctrl *controller) trackFencer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fencerID := r.FormValue("fencer_id")
	if fencerID == "" {
		ctrl.reject(w, 400, errors.New("Fencer ID is required"))
		return
	}

	fencer, err := ctrl.svc.Subjects.TrackFencer(ctx,
		parseInt(chi.URLParam(r, "user_id")), fencerID,
		r.FormValue("display_name"), r.FormValue("weapon_filter"))
	if err != nil {
		ctrl.reject(w, 400, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, TrackedFencerView{}.From(*fencer))
}

func (ctrl *controller) deactivateFencer(w http.ResponseWriter, r *http.Request) {
	ctrl.setFencerActive(w, r, false)
}

func (ctrl *controller) reactivateFencer(w http.ResponseWriter, r *http.Request) {
	ctrl.setFencerActive(w, r, true)
}

func (ctrl *controller) setFencerActive(w http.ResponseWriter, r *http.Request, active bool) {
	err := ctrl.svc.Subjects.SetFencerActive(r.Context(),
		parseInt(chi.URLParam(r, "user_id")), parseInt(chi.URLParam(r, "fencer_id")), active)
	if err != nil {
		ctrl.reject(w, 404, err)
		return
	}
	ctrl.resolve(w, 200, map[string]any{"active": active})
}

func parseInt(s string) uint {
	u, _ := strconv.ParseUint(s, 10, 64)
	return uint(u)
}
