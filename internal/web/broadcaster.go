package web

import (
	"dxx-tracker/internal/aggregate"
	"dxx-tracker/internal/registry"
)

// Frame payloads. Every payload is one object under the envelope's "data".
type (
	// GamesPayload carries the confirmed-games list for init and snapshot
	// frames.
	GamesPayload struct {
		Games []*aggregate.MatchView `json:"games"`
	}

	// RemovedPayload identifies a match that left the registry.
	RemovedPayload struct {
		ID string `json:"id"`
	}

	// EventPayload carries one appended event.
	EventPayload struct {
		ID    string          `json:"id"`
		Event *registry.Event `json:"event"`
	}

	// SummaryPayload carries a match's recomputed event digest.
	SummaryPayload struct {
		ID      string          `json:"id"`
		Summary registry.Digest `json:"summary"`
	}
)

// Broadcaster adapts registry change notifications into websocket frames.
// It satisfies the tracker engine's Notifier interface.
type Broadcaster struct {
	hub *Hub
	reg *registry.Registry
}

func NewBroadcaster(hub *Hub, reg *registry.Registry) *Broadcaster {
	return &Broadcaster{hub: hub, reg: reg}
}

func (b *Broadcaster) view(m *registry.Match) *aggregate.MatchView {
	es, _ := b.reg.Events(m.Key)
	return aggregate.BuildView(m, es, nil)
}

func (b *Broadcaster) confirmedGames() *GamesPayload {
	matches := b.reg.Confirmed(0)
	games := make([]*aggregate.MatchView, 0, len(matches))
	for i := range matches {
		games = append(games, b.view(&matches[i]))
	}
	return &GamesPayload{Games: games}
}

// ConnectFrames builds what a fresh websocket connection receives: the init
// frame, then a snapshot of the confirmed games.
func (b *Broadcaster) ConnectFrames() []*Frame {
	games := b.confirmedGames()
	return []*Frame{
		{Type: "init", Data: games},
		{Type: "snapshot", Data: games},
	}
}

func (b *Broadcaster) MatchNew(m registry.Match) {
	b.hub.Broadcast(&Frame{Type: "game_new", Data: b.view(&m)})
}

func (b *Broadcaster) MatchUpdate(m registry.Match) {
	b.hub.Broadcast(&Frame{Type: "game_update", Data: b.view(&m)})
}

func (b *Broadcaster) MatchRemoved(key registry.Key) {
	b.hub.Broadcast(&Frame{Type: "game_removed", Data: &RemovedPayload{ID: string(key)}})
}

// MatchEvent publishes the event itself, then the recomputed digest so
// dashboards can update totals without replaying the feed.
func (b *Broadcaster) MatchEvent(key registry.Key, ev registry.Event) {
	b.hub.Broadcast(&Frame{Type: "game_event", Data: &EventPayload{ID: string(key), Event: &ev}})
	if es, ok := b.reg.Events(key); ok {
		b.hub.Broadcast(&Frame{Type: "game_summary", Data: &SummaryPayload{ID: string(key), Summary: es.Digest()}})
	}
}

// GamelogReset tells dashboards a watched local gamelog started over.
func (b *Broadcaster) GamelogReset() {
	b.hub.Broadcast(&Frame{Type: "gamelog_reset"})
}
