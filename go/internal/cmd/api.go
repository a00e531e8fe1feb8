package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sketchparty/go/internal/duration"
	"github.com/mcdev12/sketchparty/go/internal/game"
	"github.com/mcdev12/sketchparty/go/internal/models"
	"github.com/mcdev12/sketchparty/go/internal/player"
	"github.com/mcdev12/sketchparty/go/internal/season"
	"github.com/mcdev12/sketchparty/go/internal/turn"
)

// API is the thin command layer: it maps HTTP commands onto coordinator
// methods. The chat bot is the primary client; this surface mirrors its
// commands one to one.
type API struct {
	services *Services
}

func NewAPI(services *Services) *API {
	return &API{services: services}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/players", a.handleUpsertPlayer)
	mux.HandleFunc("POST /api/games", a.handleCreateGame)
	mux.HandleFunc("POST /api/games/join", a.handleJoinGame)
	mux.HandleFunc("GET /api/games/{id}", a.handleGetGame)
	mux.HandleFunc("GET /api/games/{id}/turns", a.handleListTurns)
	mux.HandleFunc("POST /api/games/{id}/terminate", a.handleTerminateGame)
	mux.HandleFunc("POST /api/turns/{id}/claim", a.handleClaimTurn)
	mux.HandleFunc("POST /api/turns/{id}/submit", a.handleSubmitTurn)
	mux.HandleFunc("POST /api/turns/{id}/skip", a.handleSkipTurn)
	mux.HandleFunc("POST /api/turns/{id}/flag", a.handleFlagTurn)
	mux.HandleFunc("POST /api/turns/{id}/dismiss", a.handleDismissOffer)
	mux.HandleFunc("POST /api/seasons", a.handleCreateSeason)
	mux.HandleFunc("POST /api/seasons/{id}/open", a.handleOpenSeason)
	mux.HandleFunc("POST /api/seasons/{id}/join", a.handleJoinSeason)
	mux.HandleFunc("POST /api/seasons/{id}/start", a.handleStartSeason)
	mux.HandleFunc("POST /api/seasons/{id}/terminate", a.handleTerminateSeason)
}

type upsertPlayerRequest struct {
	ExternalUserID string `json:"external_user_id"`
	DisplayName    string `json:"display_name"`
}

func (a *API) handleUpsertPlayer(w http.ResponseWriter, r *http.Request) {
	var req upsertPlayerRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := a.services.Players.UpsertPlayer(r.Context(), player.UpsertPlayerRequest{
		ExternalUserID: req.ExternalUserID,
		DisplayName:    req.DisplayName,
	})
	respond(w, p, err)
}

type createGameRequest struct {
	CreatorID      string   `json:"creator_id"`
	GuildID        string   `json:"guild_id"`
	TurnPattern    []string `json:"turn_pattern"`
	MinTurns       int      `json:"min_turns"`
	MaxTurns       *int     `json:"max_turns,omitempty"`
	StaleTimeout   string   `json:"stale_timeout"`
	ReturnCount    int      `json:"return_count"`
	ReturnCooldown int      `json:"return_cooldown"`
	ClaimTimeout   string   `json:"claim_timeout"`
	WritingTimeout string   `json:"writing_timeout"`
	DrawingTimeout string   `json:"drawing_timeout"`
	ClaimWarning   string   `json:"claim_warning,omitempty"`
	WritingWarning string   `json:"writing_warning,omitempty"`
	DrawingWarning string   `json:"drawing_warning,omitempty"`
}

func (a *API) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if !decode(w, r, &req) {
		return
	}

	creatorID, err := uuid.Parse(req.CreatorID)
	if err != nil {
		badRequest(w, "invalid creator_id")
		return
	}
	pattern := models.PatternFromStrings(req.TurnPattern)
	if !models.ValidPattern(pattern) {
		badRequest(w, "invalid turn_pattern")
		return
	}

	parsed, ok := parseDurations(w, map[string]string{
		"stale_timeout":   req.StaleTimeout,
		"claim_timeout":   req.ClaimTimeout,
		"writing_timeout": req.WritingTimeout,
		"drawing_timeout": req.DrawingTimeout,
	}, map[string]string{
		"claim_warning":   req.ClaimWarning,
		"writing_warning": req.WritingWarning,
		"drawing_warning": req.DrawingWarning,
	})
	if !ok {
		return
	}

	g, err := a.services.Coordinator.CreateOnDemandGame(r.Context(), game.CreateOnDemandGameRequest{
		CreatorID:      creatorID,
		GuildID:        req.GuildID,
		TurnPattern:    pattern,
		MinTurns:       req.MinTurns,
		MaxTurns:       req.MaxTurns,
		StaleTimeout:   parsed["stale_timeout"],
		ReturnCount:    req.ReturnCount,
		ReturnCooldown: req.ReturnCooldown,
		ClaimTimeout:   parsed["claim_timeout"],
		WritingTimeout: parsed["writing_timeout"],
		DrawingTimeout: parsed["drawing_timeout"],
		ClaimWarning:   parsed["claim_warning"],
		WritingWarning: parsed["writing_warning"],
		DrawingWarning: parsed["drawing_warning"],
	})
	respond(w, g, err)
}

type joinGameRequest struct {
	PlayerID string `json:"player_id"`
	GuildID  string `json:"guild_id"`
}

func (a *API) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	var req joinGameRequest
	if !decode(w, r, &req) {
		return
	}
	playerID, err := uuid.Parse(req.PlayerID)
	if err != nil {
		badRequest(w, "invalid player_id")
		return
	}
	t, err := a.services.Coordinator.JoinOnDemandGame(r.Context(), playerID, req.GuildID)
	respond(w, t, err)
}

func (a *API) handleGetGame(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	g, err := a.services.Games.GetGame(r.Context(), id)
	respond(w, g, err)
}

func (a *API) handleListTurns(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	turns, err := a.services.Turns.ListTurnsByGame(r.Context(), id)
	respond(w, turns, err)
}

func (a *API) handleTerminateGame(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	respond(w, map[string]string{"status": "terminated"}, a.services.Coordinator.TerminateGame(r.Context(), id))
}

type playerRef struct {
	PlayerID string `json:"player_id"`
}

func (a *API) handleClaimTurn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req playerRef
	if !decode(w, r, &req) {
		return
	}
	playerID, err := uuid.Parse(req.PlayerID)
	if err != nil {
		badRequest(w, "invalid player_id")
		return
	}
	t, err := a.services.Coordinator.ClaimTurn(r.Context(), id, playerID)
	respond(w, t, err)
}

type submitTurnRequest struct {
	PlayerID string  `json:"player_id"`
	Text     *string `json:"text,omitempty"`
	ImageURL *string `json:"image_url,omitempty"`
}

func (a *API) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req submitTurnRequest
	if !decode(w, r, &req) {
		return
	}
	playerID, err := uuid.Parse(req.PlayerID)
	if err != nil {
		badRequest(w, "invalid player_id")
		return
	}
	t, err := a.services.Coordinator.SubmitTurn(r.Context(), id, turn.SubmitRequest{
		PlayerID: playerID,
		Text:     req.Text,
		ImageURL: req.ImageURL,
	})
	respond(w, t, err)
}

func (a *API) handleSkipTurn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	respond(w, map[string]string{"status": "skipped"}, a.services.Coordinator.SkipTurn(r.Context(), id))
}

type flagTurnRequest struct {
	FlaggerID string `json:"flagger_id"`
}

func (a *API) handleFlagTurn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req flagTurnRequest
	if !decode(w, r, &req) {
		return
	}
	flaggerID, err := uuid.Parse(req.FlaggerID)
	if err != nil {
		badRequest(w, "invalid flagger_id")
		return
	}
	respond(w, map[string]string{"status": "flagged"}, a.services.Coordinator.FlagTurn(r.Context(), id, flaggerID))
}

func (a *API) handleDismissOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	respond(w, map[string]string{"status": "dismissed"}, a.services.Coordinator.DismissOffer(r.Context(), id))
}

type createSeasonRequest struct {
	CreatorID      string   `json:"creator_id"`
	GuildID        *string  `json:"guild_id,omitempty"`
	MinPlayers     int      `json:"min_players"`
	MaxPlayers     int      `json:"max_players"`
	OpenDuration   string   `json:"open_duration"`
	TurnPattern    []string `json:"turn_pattern"`
	ClaimTimeout   string   `json:"claim_timeout"`
	WritingTimeout string   `json:"writing_timeout"`
	DrawingTimeout string   `json:"drawing_timeout"`
	ClaimWarning   string   `json:"claim_warning,omitempty"`
	WritingWarning string   `json:"writing_warning,omitempty"`
	DrawingWarning string   `json:"drawing_warning,omitempty"`
}

func (a *API) handleCreateSeason(w http.ResponseWriter, r *http.Request) {
	var req createSeasonRequest
	if !decode(w, r, &req) {
		return
	}
	creatorID, err := uuid.Parse(req.CreatorID)
	if err != nil {
		badRequest(w, "invalid creator_id")
		return
	}
	pattern := models.PatternFromStrings(req.TurnPattern)
	if !models.ValidPattern(pattern) {
		badRequest(w, "invalid turn_pattern")
		return
	}
	parsed, ok := parseDurations(w, map[string]string{
		"open_duration":   req.OpenDuration,
		"claim_timeout":   req.ClaimTimeout,
		"writing_timeout": req.WritingTimeout,
		"drawing_timeout": req.DrawingTimeout,
	}, map[string]string{
		"claim_warning":   req.ClaimWarning,
		"writing_warning": req.WritingWarning,
		"drawing_warning": req.DrawingWarning,
	})
	if !ok {
		return
	}

	s, err := a.services.Coordinator.CreateSeason(r.Context(), season.CreateSeasonRequest{
		CreatorID:      creatorID,
		GuildID:        req.GuildID,
		MinPlayers:     req.MinPlayers,
		MaxPlayers:     req.MaxPlayers,
		OpenDuration:   parsed["open_duration"],
		TurnPattern:    pattern,
		ClaimTimeout:   parsed["claim_timeout"],
		WritingTimeout: parsed["writing_timeout"],
		DrawingTimeout: parsed["drawing_timeout"],
		ClaimWarning:   parsed["claim_warning"],
		WritingWarning: parsed["writing_warning"],
		DrawingWarning: parsed["drawing_warning"],
	})
	respond(w, s, err)
}

func (a *API) handleOpenSeason(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s, err := a.services.Coordinator.OpenSeason(r.Context(), id)
	respond(w, s, err)
}

func (a *API) handleJoinSeason(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req playerRef
	if !decode(w, r, &req) {
		return
	}
	playerID, err := uuid.Parse(req.PlayerID)
	if err != nil {
		badRequest(w, "invalid player_id")
		return
	}
	s, err := a.services.Coordinator.JoinSeason(r.Context(), id, playerID)
	respond(w, s, err)
}

func (a *API) handleStartSeason(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s, err := a.services.Coordinator.StartSeason(r.Context(), id)
	respond(w, s, err)
}

func (a *API) handleTerminateSeason(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	respond(w, map[string]string{"status": "terminated"}, a.services.Coordinator.TerminateSeason(r.Context(), id))
}

// parseDurations parses required and optional compact duration fields.
// Optional fields left empty parse to zero.
func parseDurations(w http.ResponseWriter, required, optional map[string]string) (map[string]time.Duration, bool) {
	out := make(map[string]time.Duration, len(required)+len(optional))
	for name, raw := range required {
		d, err := duration.Parse(raw)
		if err != nil {
			badRequest(w, fmt.Sprintf("invalid %s: %v", name, err))
			return nil, false
		}
		out[name] = d
	}
	for name, raw := range optional {
		if raw == "" {
			out[name] = 0
			continue
		}
		d, err := duration.Parse(raw)
		if err != nil {
			badRequest(w, fmt.Sprintf("invalid %s: %v", name, err))
			return nil, false
		}
		out[name] = d
	}
	return out, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		badRequest(w, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func respond(w http.ResponseWriter, body any, err error) {
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrPrecondition), errors.Is(err, models.ErrStaleState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
