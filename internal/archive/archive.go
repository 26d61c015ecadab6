// Package archive persists finished matches. Live state never touches the
// database; only reaped or unregistered matches are handed over here.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"

	"dxx-tracker/internal/aggregate"
	"dxx-tracker/internal/registry"
)

// Sink receives a finished match and its retained event history.
type Sink interface {
	Save(ctx context.Context, m *registry.Match, es *registry.EventStore) error
}

// NullSink discards finished matches. Used when archiving is disabled.
type NullSink struct{}

func (NullSink) Save(context.Context, *registry.Match, *registry.EventStore) error { return nil }

// FinalID builds the stable archive identifier for a finished match:
// game-DD-MM-YYYY-HH-MM-SS-<name>, derived from the registration time and
// the last known game name.
func FinalID(m *registry.Match) string {
	name := "unnamed"
	if m.Full != nil && m.Full.GameName != "" {
		name = m.Full.GameName
	} else if m.Lite != nil && m.Lite.GameName != "" {
		name = m.Lite.GameName
	}
	name = sanitize(name)
	return fmt.Sprintf("game-%s-%s", m.FirstRegistered.Format("02-01-2006-15-04-05"), name)
}

func sanitize(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			sb.WriteByte('-')
		}
	}
	out := strings.Trim(sb.String(), "-")
	if out == "" {
		return "unnamed"
	}
	return out
}

// PBSink writes finished matches into the archived_matches and
// archived_events collections.
type PBSink struct {
	app core.App
	log *slog.Logger
}

func NewPBSink(app core.App, log *slog.Logger) *PBSink {
	if log == nil {
		log = slog.Default()
	}
	return &PBSink{app: app, log: log}
}

func (s *PBSink) Save(ctx context.Context, m *registry.Match, es *registry.EventStore) error {
	matches, err := s.app.FindCollectionByNameOrId("archived_matches")
	if err != nil {
		return fmt.Errorf("archived_matches collection: %w", err)
	}
	events, err := s.app.FindCollectionByNameOrId("archived_events")
	if err != nil {
		return fmt.Errorf("archived_events collection: %w", err)
	}

	view := aggregate.BuildView(m, es, nil)
	players, err := json.Marshal(view.Players)
	if err != nil {
		return err
	}
	matrix, err := json.Marshal(view.KillMatrix)
	if err != nil {
		return err
	}

	finalID := FinalID(m)
	rec := core.NewRecord(matches)
	rec.Set("final_id", finalID)
	rec.Set("match_key", string(m.Key))
	rec.Set("game_id", int(m.GameID))
	rec.Set("version", view.Version)
	rec.Set("release", view.Release)
	rec.Set("game_name", view.GameName)
	rec.Set("mission", view.MissionName)
	rec.Set("mode", view.Mode)
	rec.Set("players", string(players))
	rec.Set("kill_matrix", string(matrix))
	rec.Set("started_at", m.FirstRegistered.UTC().Format(time.RFC3339))
	rec.Set("ended_at", m.LastSeen.UTC().Format(time.RFC3339))
	if err := s.app.Save(rec); err != nil {
		return fmt.Errorf("save archived match %s: %w", finalID, err)
	}

	saved := 0
	if es != nil {
		for _, ev := range es.Timeline() {
			evRec := core.NewRecord(events)
			evRec.Set("match", rec.Id)
			evRec.Set("type", string(ev.Type))
			evRec.Set("killer", ev.Killer)
			evRec.Set("victim", ev.Victim)
			evRec.Set("weapon", ev.Weapon)
			evRec.Set("sender", ev.Sender)
			evRec.Set("text", ev.Text)
			evRec.Set("game_time_us", int(ev.GameTimeUS))
			evRec.Set("received_at", ev.ReceivedAt.UTC().Format(time.RFC3339Nano))
			if err := s.app.Save(evRec); err != nil {
				return fmt.Errorf("save archived event for %s: %w", finalID, err)
			}
			saved++
		}
	}

	s.log.Info("match archived", "id", finalID, "match", string(m.Key), "events", saved)
	return nil
}
