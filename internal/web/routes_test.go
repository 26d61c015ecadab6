package web

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dxx-tracker/internal/aggregate"
	"dxx-tracker/internal/protocol"
	"dxx-tracker/internal/registry"
)

func seedMatch(t *testing.T, reg *registry.Registry) registry.Key {
	t.Helper()
	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 42000}
	m, _, _ := reg.UpsertOnRegister(src, &protocol.Register{
		Version: protocol.VersionD1, GamePort: 5000, GameID: 7,
		Major: 1, Minor: 3, Micro: 2,
	})
	fi := &protocol.FullInfo{GameName: "lunar outpost"}
	fi.Players[0] = protocol.FullInfoPlayer{Callsign: "alice", Connected: true}
	fi.Players[1] = protocol.FullInfoPlayer{Callsign: "bob", Connected: true}
	reg.ApplyFull(m.Key, fi)
	return m.Key
}

func newTestAPI(t *testing.T) (*API, *registry.Registry, *aggregate.Merger) {
	t.Helper()
	reg := registry.New(nil)
	merger := aggregate.NewMerger()
	hub := NewHub(slog.New(slog.DiscardHandler), nil)
	api := NewAPI(slog.New(slog.DiscardHandler), reg, merger, hub, "test")
	return api, reg, merger
}

func TestStatusEndpoint(t *testing.T) {
	api, reg, _ := newTestAPI(t)
	seedMatch(t, reg)

	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var body struct {
		Status      string `json:"status"`
		ActiveGames int    `json:"activeGames"`
		Uptime      *int64 `json:"uptime"`
		Version     string `json:"version"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.ActiveGames != 1 || body.Version != "test" {
		t.Errorf("body = %+v", body)
	}
	if body.Uptime == nil || *body.Uptime < 0 {
		t.Errorf("uptime = %v, want a seconds count", body.Uptime)
	}
}

func TestGameLookupAndNotFound(t *testing.T) {
	api, reg, _ := newTestAPI(t)
	key := seedMatch(t, reg)

	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/games/"+string(key), nil))
	if rec.Code != http.StatusOK {
		t.Errorf("lookup status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/games/1.2.3.4:9", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing match status = %d", rec.Code)
	}
	var e map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil || e["error"] == "" {
		t.Errorf("error body = %q", rec.Body.String())
	}
}

func TestUnknownRouteAnswersJSON(t *testing.T) {
	api, _, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var e map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil || e["error"] == "" {
		t.Errorf("body = %q, want a JSON error", rec.Body.String())
	}
}

func TestEventsEndpoint(t *testing.T) {
	api, reg, merger := newTestAPI(t)
	key := seedMatch(t, reg)
	merger.Ingest(reg, key, registry.Event{
		Type: registry.EventKill, KillerSlot: 0, VictimSlot: 1,
		Killer: "alice", Victim: "bob", Source: registry.SourceUDP,
	})

	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/events/"+string(key), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		GameID    uint32           `json:"gameId"`
		KillFeed  []registry.Event `json:"killFeed"`
		Chat      []registry.Event `json:"chat"`
		Timeline  []registry.Event `json:"timeline"`
		StartTime *time.Time       `json:"startTime"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.GameID != 7 || body.StartTime == nil {
		t.Errorf("gameId=%d startTime=%v", body.GameID, body.StartTime)
	}
	if len(body.KillFeed) != 1 || len(body.Timeline) != 1 {
		t.Errorf("killFeed=%d timeline=%d", len(body.KillFeed), len(body.Timeline))
	}

	// Unknown keys answer with the empty shape, not an error; dashboards
	// poll this before the match confirms.
	rec = httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/events/1.2.3.4:9", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown key status = %d, want 200", rec.Code)
	}
	body.KillFeed, body.Chat, body.Timeline = nil, nil, nil
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.KillFeed == nil || body.Chat == nil || body.Timeline == nil {
		t.Errorf("unknown key body = %s, want empty arrays", rec.Body.String())
	}
}

func TestGamelogUpload(t *testing.T) {
	api, reg, _ := newTestAPI(t)
	key := seedMatch(t, reg)

	payload, _ := json.Marshal(gamelogUpload{
		MatchID:    string(key),
		PlayerName: "alice",
		Content:    "alice killed bob with Plasma Cannon\nalice: hello\n",
	})
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest("POST", "/api/gamelog", bytes.NewReader(payload)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var replaced struct {
		OK             bool `json:"ok"`
		EventsReceived int  `json:"eventsReceived"`
		TotalClients   int  `json:"totalClients"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &replaced); err != nil {
		t.Fatal(err)
	}
	if !replaced.OK || replaced.EventsReceived != 2 || replaced.TotalClients != 1 {
		t.Errorf("replace body = %+v", replaced)
	}

	// The kill landed with slots resolved through the player table.
	es, _ := reg.Events(key)
	feed := es.KillFeed()
	if len(feed) != 1 || feed[0].KillerSlot != 0 || feed[0].VictimSlot != 1 {
		t.Errorf("feed = %+v", feed)
	}

	// The incremental endpoint takes only the new tail and reports the
	// uploader's running total.
	payload, _ = json.Marshal(gamelogUpload{
		MatchID:    string(key),
		PlayerName: "alice",
		Content:    "bob: hi\n",
	})
	rec = httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest("POST", "/api/gamelog/append", bytes.NewReader(payload)))
	if rec.Code != http.StatusOK {
		t.Fatalf("append status = %d, body %s", rec.Code, rec.Body.String())
	}
	var appended struct {
		OK          bool `json:"ok"`
		NewEvents   int  `json:"newEvents"`
		TotalEvents int  `json:"totalEvents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &appended); err != nil {
		t.Fatal(err)
	}
	if !appended.OK || appended.NewEvents != 1 || appended.TotalEvents != 3 {
		t.Errorf("append body = %+v", appended)
	}
}

func TestGamelogUploadDefaultsToOnlyMatch(t *testing.T) {
	api, reg, _ := newTestAPI(t)
	seedMatch(t, reg)

	payload, _ := json.Marshal(gamelogUpload{PlayerName: "bob", Content: "bob killed alice with Laser\n"})
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest("POST", "/api/gamelog", bytes.NewReader(payload)))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d with single live match", rec.Code)
	}
}

func TestGamelogUploadRejections(t *testing.T) {
	api, _, _ := newTestAPI(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"bad json", "{", http.StatusBadRequest},
		{"missing player", `{"content":"alice killed bob with Laser"}`, http.StatusBadRequest},
		{"empty content", `{"playerName":"alice","content":""}`, http.StatusBadRequest},
		{"no match", `{"playerName":"alice","content":"alice killed bob with Laser"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		api.Router().ServeHTTP(rec, httptest.NewRequest("POST", "/api/gamelog", bytes.NewReader([]byte(tc.body))))
		if rec.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	api, _, _ := newTestAPI(t)

	req := httptest.NewRequest("OPTIONS", "/api/status", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK && rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q", got)
	}
}
