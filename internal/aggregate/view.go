package aggregate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"dxx-tracker/internal/gamelog"
	"dxx-tracker/internal/protocol"
	"dxx-tracker/internal/registry"
)

// PlayerView is the merged per-player line of a match view. Slot is -1 for
// phantom players, names that only ever appeared in textual streams.
type PlayerView struct {
	Slot      int    `json:"slot"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Rank      string `json:"rank,omitempty"`
	Kills     int    `json:"kills"`
	Deaths    int    `json:"deaths"`
	Suicides  int    `json:"suicides"`
	Score     int32  `json:"score"`
	Phantom   bool   `json:"phantom,omitempty"`
}

// MatchView is the merged read-out of one live match, the shape served over
// the websocket and the HTTP API.
type MatchView struct {
	Key          string    `json:"id"`
	HostIP       string    `json:"hostIp"`
	GamePort     uint16    `json:"gamePort"`
	GameID       uint32    `json:"gameId"`
	Version      string    `json:"version"`
	Release      string    `json:"release"`
	NetgameProto uint16    `json:"netgameProto,omitempty"`
	State        string    `json:"state"`
	GameName     string    `json:"gameName"`
	MissionTitle string    `json:"missionTitle,omitempty"`
	MissionName  string    `json:"missionName,omitempty"`
	LevelNum     uint32    `json:"levelNum,omitempty"`
	Mode         string    `json:"mode"`
	Status       string    `json:"status"`
	Difficulty   byte      `json:"difficulty"`
	NumPlayers   byte      `json:"numPlayers"`
	MaxPlayers   byte      `json:"maxPlayers"`
	FirstSeen    time.Time `json:"firstSeen"`
	LastSeen     time.Time `json:"lastSeen"`

	Players    []PlayerView                              `json:"players"`
	KillMatrix [protocol.MaxSlots][protocol.MaxSlots]int `json:"killMatrix"`

	KillFeed []registry.Event `json:"killFeed,omitempty"`
	Chat     []registry.Event `json:"chat,omitempty"`
	Timeline []registry.Event `json:"timeline,omitempty"`
}

func versionLabel(v byte) string {
	switch v {
	case protocol.VersionD1:
		return "D1"
	case protocol.VersionD2:
		return "D2"
	}
	return "unknown"
}

// BuildView merges a match record, its event store and an optional textual
// summary into one view. Per-slot numbers take the maximum across channels:
// full info lags by up to a poll interval, UDP counters miss what arrived
// before registration, and textual logs can stop early.
func BuildView(m *registry.Match, es *registry.EventStore, textual *gamelog.Summary) *MatchView {
	v := &MatchView{
		Key:          string(m.Key),
		HostIP:       m.HostIP,
		GamePort:     m.GamePort,
		GameID:       m.GameID,
		Version:      versionLabel(m.Version),
		Release:      releaseString(m.Major, m.Minor, m.Micro),
		NetgameProto: m.NetgameProto,
		State:        string(m.State),
		FirstSeen:    m.FirstRegistered,
		LastSeen:     m.LastSeen,
	}

	if m.Lite != nil {
		v.GameName = m.Lite.GameName
		v.MissionTitle = m.Lite.MissionTitle
		v.MissionName = m.Lite.MissionName
		v.LevelNum = m.Lite.LevelNum
		v.Mode = protocol.ModeName(m.Lite.Mode)
		v.Status = protocol.StatusName(m.Lite.Status)
		v.Difficulty = m.Lite.Difficulty
		v.NumPlayers = m.Lite.NumPlayers
		v.MaxPlayers = m.Lite.MaxPlayers
	}
	if m.Full != nil {
		// Full info wins where both channels carry the field.
		v.GameName = m.Full.GameName
		v.MissionTitle = m.Full.MissionTitle
		v.MissionName = m.Full.MissionName
		v.Mode = protocol.ModeName(m.Full.Mode)
		v.Status = protocol.StatusName(m.Full.Status)
		v.Difficulty = m.Full.Difficulty
		v.NumPlayers = m.Full.NumPlayers
		v.MaxPlayers = m.Full.MaxPlayers
	}

	names := m.DisplayNames()
	var counters [protocol.MaxSlots]registry.SlotCounter
	if es != nil {
		counters = es.SlotCounters()
		v.KillFeed = es.KillFeed()
		v.Chat = es.Chat()
		v.Timeline = es.Timeline()
		// The merged timeline reads in game-clock order; events without a
		// clock (textual streams) keep their arrival order.
		sort.SliceStable(v.Timeline, func(i, j int) bool {
			return v.Timeline[i].GameTimeUS < v.Timeline[j].GameTimeUS
		})
	}
	if m.Full == nil {
		fillNamesFromEvents(&names, v.KillFeed)
	}

	claimed := make(map[string]bool)
	for slot := 0; slot < protocol.MaxSlots; slot++ {
		var p *protocol.FullInfoPlayer
		if m.Full != nil {
			p = &m.Full.Players[slot]
		}
		if (p == nil || !p.Present()) && counters[slot] == (registry.SlotCounter{}) {
			continue
		}

		pv := PlayerView{Slot: slot, Name: names[slot]}
		if p != nil {
			pv.Connected = p.Connected
			pv.Rank = protocol.RankName(p.Rank)
			pv.Kills = int(m.Full.Kills[slot])
			pv.Deaths = int(m.Full.Deaths[slot])
			pv.Score = m.Full.Scores[slot]
		}
		pv.Kills = max(pv.Kills, counters[slot].Kills)
		pv.Deaths = max(pv.Deaths, counters[slot].Deaths)
		pv.Suicides = counters[slot].Suicides

		if textual != nil && pv.Name != "" {
			if ts := textualStats(textual, pv.Name); ts != nil {
				pv.Kills = max(pv.Kills, ts.Kills)
				pv.Deaths = max(pv.Deaths, ts.Deaths)
				pv.Suicides = max(pv.Suicides, ts.Suicides)
			}
			claimed[strings.ToLower(pv.Name)] = true
		}
		v.Players = append(v.Players, pv)
	}

	if m.Full != nil {
		for row := 0; row < protocol.MaxSlots; row++ {
			for col := 0; col < protocol.MaxSlots; col++ {
				v.KillMatrix[row][col] = int(m.Full.KillMatrix[row][col])
			}
		}
	} else {
		// No authoritative matrix yet; derive one from the kill stream.
		for i := range v.KillFeed {
			ev := &v.KillFeed[i]
			if ev.KillerSlot >= 0 && ev.KillerSlot < protocol.MaxSlots &&
				ev.VictimSlot >= 0 && ev.VictimSlot < protocol.MaxSlots {
				v.KillMatrix[ev.KillerSlot][ev.VictimSlot]++
			}
		}
	}

	// Textual names with no slot are listed as phantoms rather than dropped;
	// the uploader may know players the host's table no longer shows.
	if textual != nil {
		var phantoms []PlayerView
		for name, ps := range textual.Players {
			if claimed[strings.ToLower(name)] {
				continue
			}
			if slotFor(name, names) >= 0 {
				continue
			}
			phantoms = append(phantoms, PlayerView{
				Slot:     -1,
				Name:     name,
				Kills:    ps.Kills,
				Deaths:   ps.Deaths,
				Suicides: ps.Suicides,
				Phantom:  true,
			})
		}
		sort.Slice(phantoms, func(i, j int) bool { return phantoms[i].Name < phantoms[j].Name })
		v.Players = append(v.Players, phantoms...)
	}
	return v
}

// fillNamesFromEvents recovers slot names from kill events when no full info
// has bound the player table yet.
func fillNamesFromEvents(names *[protocol.MaxSlots]string, feed []registry.Event) {
	for i := range feed {
		ev := &feed[i]
		if ev.KillerSlot >= 0 && ev.KillerSlot < protocol.MaxSlots && names[ev.KillerSlot] == "" {
			names[ev.KillerSlot] = ev.Killer
		}
		if ev.VictimSlot >= 0 && ev.VictimSlot < protocol.MaxSlots && names[ev.VictimSlot] == "" {
			names[ev.VictimSlot] = ev.Victim
		}
	}
}

func textualStats(s *gamelog.Summary, name string) *gamelog.PlayerStats {
	if ps, ok := s.Players[name]; ok {
		return ps
	}
	for n, ps := range s.Players {
		if strings.EqualFold(n, name) {
			return ps
		}
	}
	return nil
}

func releaseString(major, minor, micro uint16) string {
	return fmt.Sprintf("%d.%d.%d", major, minor, micro)
}
