package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"dxx-tracker/internal/aggregate"
	"dxx-tracker/internal/registry"
)

// Snapshot trims. The on-disk file is a dashboard bootstrap, not an
// archive, so it carries less history than the in-memory rings.
const (
	snapKillFeed = 50
	snapTimeline = 100
	snapChat     = 50
	snapDamage   = 30
)

// Snapshotter writes the merged state as one JSON document, via a temp file
// and rename so readers never see a torn write. Writes happen on every
// mutation (it subscribes to the engine's notifications) and on every poll
// tick regardless.
type Snapshotter struct {
	log   *slog.Logger
	reg   *registry.Registry
	path  string
	dirty chan struct{}
}

func NewSnapshotter(log *slog.Logger, reg *registry.Registry, path string) *Snapshotter {
	if log == nil {
		log = slog.Default()
	}
	return &Snapshotter{log: log, reg: reg, path: path, dirty: make(chan struct{}, 1)}
}

// MarkDirty requests a write on the next loop turn. Coalescing through the
// single-slot channel keeps mutation bursts from stacking writes.
func (s *Snapshotter) MarkDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// The Snapshotter subscribes to engine notifications; any mutation marks
// the file dirty.

func (s *Snapshotter) MatchNew(registry.Match) { s.MarkDirty() }

func (s *Snapshotter) MatchUpdate(registry.Match) { s.MarkDirty() }

func (s *Snapshotter) MatchRemoved(registry.Key) { s.MarkDirty() }

func (s *Snapshotter) MatchEvent(registry.Key, registry.Event) { s.MarkDirty() }

// gamelogDigest is the top-level event summary across the confirmed games.
type gamelogDigest struct {
	TotalKills     int                     `json:"totalKills"`
	TotalDeaths    int                     `json:"totalDeaths"`
	TotalSuicides  int                     `json:"totalSuicides"`
	KillFeed       []registry.Event        `json:"killFeed"`
	Timeline       []registry.Event        `json:"timeline"`
	Chat           []registry.Event        `json:"chat"`
	DamageByWeapon []registry.WeaponDamage `json:"damageByWeapon"`
}

type snapshotDoc struct {
	WrittenAt time.Time              `json:"writtenAt"`
	Games     []*aggregate.MatchView `json:"games"`
	Gamelog   gamelogDigest          `json:"gamelog"`
}

// Run writes a snapshot on every tick and whenever a mutation marked the
// state dirty, until ctx is cancelled; then it writes a final one.
func (s *Snapshotter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.WriteOnce(); err != nil {
				s.log.Warn("final snapshot failed", "error", err)
			}
			return
		case <-s.dirty:
		case <-ticker.C:
		}
		if err := s.WriteOnce(); err != nil {
			s.log.Warn("snapshot failed", "error", err)
		}
	}
}

// WriteOnce writes the current state. State is copied out of the registry
// first; file I/O happens with no lock held.
func (s *Snapshotter) WriteOnce() error {
	if s.path == "" {
		return nil
	}
	matches := s.reg.Confirmed(0)
	doc := snapshotDoc{
		WrittenAt: time.Now(),
		Games:     make([]*aggregate.MatchView, 0, len(matches)),
		Gamelog: gamelogDigest{
			KillFeed: []registry.Event{},
			Timeline: []registry.Event{},
			Chat:     []registry.Event{},
		},
	}
	weapons := make(map[string]int)
	for i := range matches {
		es, _ := s.reg.Events(matches[i].Key)
		v := aggregate.BuildView(&matches[i], es, nil)
		doc.Gamelog.KillFeed = append(doc.Gamelog.KillFeed, v.KillFeed...)
		doc.Gamelog.Timeline = append(doc.Gamelog.Timeline, v.Timeline...)
		doc.Gamelog.Chat = append(doc.Gamelog.Chat, v.Chat...)
		if es != nil {
			d := es.Digest()
			doc.Gamelog.TotalKills += d.TotalKills
			doc.Gamelog.TotalDeaths += d.TotalDeaths
			doc.Gamelog.TotalSuicides += d.TotalSuicides
			for _, row := range d.DamageByWeapon {
				weapons[row.Weapon] += row.Kills
			}
		}
		v.KillFeed = tail(v.KillFeed, snapKillFeed)
		v.Timeline = tail(v.Timeline, snapTimeline)
		v.Chat = tail(v.Chat, snapChat)
		doc.Games = append(doc.Games, v)
	}
	doc.Gamelog.KillFeed = tail(doc.Gamelog.KillFeed, snapKillFeed)
	doc.Gamelog.Timeline = tail(doc.Gamelog.Timeline, snapTimeline)
	doc.Gamelog.Chat = tail(doc.Gamelog.Chat, snapChat)
	doc.Gamelog.DamageByWeapon = damageRows(weapons)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tracker_state-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// damageRows flattens the weapon histogram into at most snapDamage rows,
// biggest first.
func damageRows(weapons map[string]int) []registry.WeaponDamage {
	rows := make([]registry.WeaponDamage, 0, len(weapons))
	for w, n := range weapons {
		rows = append(rows, registry.WeaponDamage{Weapon: w, Kills: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Kills != rows[j].Kills {
			return rows[i].Kills > rows[j].Kills
		}
		return rows[i].Weapon < rows[j].Weapon
	})
	if len(rows) > snapDamage {
		rows = rows[:snapDamage]
	}
	return rows
}

// tail keeps the newest n events.
func tail(events []registry.Event, n int) []registry.Event {
	if len(events) <= n {
		return events
	}
	return events[len(events)-n:]
}
