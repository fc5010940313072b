package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pong-arena-backend/internal/engine"
	"github.com/DoyleJ11/pong-arena-backend/internal/fault"
	"github.com/DoyleJ11/pong-arena-backend/internal/hub"
	"github.com/DoyleJ11/pong-arena-backend/internal/tournament"
)

var errBadBody = fault.Validation("Invalid request body")

var notFound = []error{hub.ErrGameNotFound, tournament.ErrNotFound}

var conflicts = []error{
	hub.ErrGameExists,
	tournament.ErrFull,
	tournament.ErrNotRegistering,
	tournament.ErrUserJoined,
	tournament.ErrAliasTaken,
	tournament.ErrAlreadyStarted,
}

type api struct {
	matches *hub.Dispatcher
	tourney *tournament.Orchestrator
	log     *zap.Logger
}

type createGameRequest struct {
	Mode engine.Mode `json:"mode"`
}

func (a *api) createGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if !a.decode(w, r, &req) {
		return
	}
	id, err := a.matches.CreateMatch(r.Context(), hub.MatchSpec{Mode: req.Mode})
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		ID   string      `json:"id"`
		Mode engine.Mode `json:"mode"`
	}{ID: id, Mode: req.Mode})
}

type createTournamentRequest struct {
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	CreatorID string `json:"creatorId,omitempty"`
}

func (a *api) createTournament(w http.ResponseWriter, r *http.Request) {
	var req createTournamentRequest
	if !a.decode(w, r, &req) {
		return
	}
	t, err := a.tourney.Create(r.Context(), req.Name, req.Capacity, req.CreatorID)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (a *api) getTournament(w http.ResponseWriter, r *http.Request) {
	t, err := a.tourney.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *api) joinTournament(w http.ResponseWriter, r *http.Request) {
	var req tournament.JoinRequest
	if !a.decode(w, r, &req) {
		return
	}
	p, err := a.tourney.Join(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *api) startTournament(w http.ResponseWriter, r *http.Request) {
	b, err := a.tourney.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *api) bracket(w http.ResponseWriter, r *http.Request) {
	b, err := a.tourney.Bracket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *api) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string    `json:"status"`
		Stats  hub.Stats `json:"stats"`
	}{Status: "ok", Stats: a.matches.Stats()})
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.fail(w, errBadBody)
		return false
	}
	return true
}

// fail writes err as {"error": message}. Errors without a fault kind are
// logged and reported as internal.
func (a *api) fail(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		a.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: fault.Message(err)})
}

func statusOf(err error) int {
	for _, target := range notFound {
		if errors.Is(err, target) {
			return http.StatusNotFound
		}
	}
	for _, target := range conflicts {
		if errors.Is(err, target) {
			return http.StatusConflict
		}
	}
	kind, ok := fault.KindOf(err)
	switch {
	case !ok:
		return http.StatusInternalServerError
	case kind == fault.KindLifecycle:
		return http.StatusServiceUnavailable
	case kind == fault.KindPersistence:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
