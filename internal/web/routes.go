package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"dxx-tracker/internal/aggregate"
	"dxx-tracker/internal/registry"
)

const maxGamelogUpload = 4 << 20

// API is the JSON read surface plus the gamelog upload endpoints.
type API struct {
	log     *slog.Logger
	reg     *registry.Registry
	merger  *aggregate.Merger
	hub     *Hub
	version string
	started time.Time
}

func NewAPI(log *slog.Logger, reg *registry.Registry, merger *aggregate.Merger, hub *Hub, version string) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{
		log:     log,
		reg:     reg,
		merger:  merger,
		hub:     hub,
		version: version,
		started: time.Now(),
	}
}

// Router assembles the chi handler with CORS open to any origin; the API
// serves public read-only data and uploads that are idempotent by design.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", a.handleStatus)
		r.Get("/games", a.handleGames)
		r.Get("/games/{key}", a.handleGame)
		r.Get("/events/{key}", a.handleEvents)
		r.Post("/gamelog", a.handleGamelogReplace)
		r.Post("/gamelog/append", a.handleGamelogAppend)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *API) views() []*aggregate.MatchView {
	matches := a.reg.All()
	out := make([]*aggregate.MatchView, 0, len(matches))
	for i := range matches {
		es, _ := a.reg.Events(matches[i].Key)
		out = append(out, aggregate.BuildView(&matches[i], es, nil))
	}
	return out
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"activeGames": len(a.reg.Confirmed(0)),
		"uptime":      int64(time.Since(a.started).Seconds()),
		"version":     a.version,
		"wsClients":   a.hub.ClientCount(),
	})
}

func (a *API) handleGames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.views())
}

func (a *API) handleGame(w http.ResponseWriter, r *http.Request) {
	key := registry.Key(chi.URLParam(r, "key"))
	m, ok := a.reg.Lookup(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no such match")
		return
	}
	es, _ := a.reg.Events(key)
	writeJSON(w, http.StatusOK, aggregate.BuildView(&m, es, nil))
}

// handleEvents serves a match's retained events. An unknown key answers
// with empty arrays, not an error; dashboards poll this before the match
// confirms.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	key := registry.Key(chi.URLParam(r, "key"))
	resp := map[string]any{
		"gameId":    0,
		"killFeed":  []registry.Event{},
		"chat":      []registry.Event{},
		"timeline":  []registry.Event{},
		"startTime": nil,
	}
	if m, ok := a.reg.Lookup(key); ok {
		resp["gameId"] = m.GameID
		resp["startTime"] = m.FirstRegistered
		if es, ok := a.reg.Events(key); ok {
			resp["killFeed"] = es.KillFeed()
			resp["chat"] = es.Chat()
			resp["timeline"] = es.Timeline()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type gamelogUpload struct {
	MatchID    string `json:"matchId,omitempty"`
	PlayerName string `json:"playerName"`
	Content    string `json:"content"`
}

// handleGamelogReplace takes a full copy of one player's gamelog. Events
// merged from earlier copies dedupe away, so re-uploading a grown file is
// safe.
func (a *API) handleGamelogReplace(w http.ResponseWriter, r *http.Request) {
	up, key, ok := a.decodeUpload(w, r)
	if !ok {
		return
	}
	res, err := a.merger.UploadReplace(a.reg, key, up.PlayerName, []byte(up.Content))
	if err != nil {
		a.uploadError(w, key, err)
		return
	}
	a.log.Info("gamelog replaced",
		"match", string(key), "player", up.PlayerName,
		"parsed", res.Parsed, "added", res.Added)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"eventsReceived": res.Parsed,
		"totalClients":   res.Clients,
	})
}

// handleGamelogAppend takes only the new tail of one player's gamelog.
func (a *API) handleGamelogAppend(w http.ResponseWriter, r *http.Request) {
	up, key, ok := a.decodeUpload(w, r)
	if !ok {
		return
	}
	res, err := a.merger.UploadAppend(a.reg, key, up.PlayerName, []byte(up.Content))
	if err != nil {
		a.uploadError(w, key, err)
		return
	}
	a.log.Info("gamelog appended",
		"match", string(key), "player", up.PlayerName,
		"parsed", res.Parsed, "added", res.Added)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"newEvents":   res.Added,
		"totalEvents": res.Total,
	})
}

func (a *API) decodeUpload(w http.ResponseWriter, r *http.Request) (gamelogUpload, registry.Key, bool) {
	var up gamelogUpload
	body, err := io.ReadAll(io.LimitReader(r.Body, maxGamelogUpload))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return up, "", false
	}
	if err := json.Unmarshal(body, &up); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return up, "", false
	}
	if up.PlayerName == "" {
		writeError(w, http.StatusBadRequest, "missing playerName")
		return up, "", false
	}
	if up.Content == "" {
		writeError(w, http.StatusBadRequest, "missing content")
		return up, "", false
	}
	key, ok := a.resolveMatch(up.MatchID)
	if !ok {
		writeError(w, http.StatusNotFound, "no match to attach the gamelog to")
		return up, "", false
	}
	return up, key, true
}

func (a *API) uploadError(w http.ResponseWriter, key registry.Key, err error) {
	if errors.Is(err, registry.ErrUnknownMatch) {
		writeError(w, http.StatusNotFound, "no such match")
		return
	}
	a.log.Warn("gamelog merge failed", "match", string(key), "error", err)
	writeError(w, http.StatusInternalServerError, "merge failed")
}

// resolveMatch maps an optional match id to a live match. An empty id works
// when exactly one match is live, the common single-game case.
func (a *API) resolveMatch(id string) (registry.Key, bool) {
	if id != "" {
		key := registry.Key(id)
		_, ok := a.reg.Lookup(key)
		return key, ok
	}
	all := a.reg.All()
	if len(all) == 1 {
		return all[0].Key, true
	}
	return "", false
}
