package registry

import (
	"sort"
	"sync"
	"time"
)

// Ring buffer capacities. Overflow drops the oldest entry.
const (
	KillFeedCap = 100
	ChatCap     = 200
	TimelineCap = 500
)

// EventSource records which evidence channel produced an event. The
// aggregator only lets textual events add what UDP never observed.
type EventSource string

const (
	SourceUDP     EventSource = "udp"
	SourceTextual EventSource = "textual"
	SourceLocal   EventSource = "local"
)

// EventType tags the merged event variants.
type EventType string

const (
	EventKill    EventType = "kill"
	EventChat    EventType = "chat"
	EventDeath   EventType = "death"
	EventQuit    EventType = "quit"
	EventJoin    EventType = "join"
	EventReactor EventType = "reactor_destroyed"
	EventEscape  EventType = "escape"
	EventFlag    EventType = "flag_captured"
	EventGoal    EventType = "kill_goal"
)

// Event is one entry of a match's kill feed, chat log or timeline. Slot
// indices are -1 when the event came from a textual stream that only knows
// display names.
type Event struct {
	Type       EventType   `json:"type"`
	KillerSlot int         `json:"killerSlot"`
	VictimSlot int         `json:"victimSlot"`
	Killer     string      `json:"killer,omitempty"`
	Victim     string      `json:"victim,omitempty"`
	Weapon     string      `json:"weapon,omitempty"`
	Sender     string      `json:"sender,omitempty"`
	Text       string      `json:"text,omitempty"`
	Observer   bool        `json:"isObserver,omitempty"`
	GameTimeUS uint64      `json:"gameTimeUs,omitempty"`
	ReceivedAt time.Time   `json:"receivedAt"`
	Source     EventSource `json:"-"`
}

// Suicide reports whether a kill event has killer and victim on the same
// slot (or, for slotless textual events, the same name).
func (e *Event) Suicide() bool {
	if e.Type != EventKill {
		return false
	}
	if e.KillerSlot >= 0 && e.VictimSlot >= 0 {
		return e.KillerSlot == e.VictimSlot
	}
	return e.Killer != "" && e.Killer == e.Victim
}

// eventRing is a fixed-capacity circular buffer of events with O(1) append.
type eventRing struct {
	buf   []Event
	start int
	n     int
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{buf: make([]Event, capacity)}
}

func (r *eventRing) push(ev Event) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = ev
		r.n++
		return
	}
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

func (r *eventRing) items() []Event {
	out := make([]Event, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// SlotCounter accumulates per-slot stats observed through UDP events, the
// fallback evidence when no full info refresh arrives.
type SlotCounter struct {
	Kills    int
	Deaths   int
	Suicides int
}

// EventStore holds the bounded per-match event history. It is owned by the
// registry and dropped together with the match record. The store carries its
// own lock: appends come in through the registry while the web surfaces read
// directly, without the registry lock held.
type EventStore struct {
	mu       sync.Mutex
	killFeed *eventRing
	chat     *eventRing
	timeline *eventRing
	counters [8]SlotCounter
}

// NewEventStore builds an empty store with the standard caps.
func NewEventStore() *EventStore {
	return &EventStore{
		killFeed: newEventRing(KillFeedCap),
		chat:     newEventRing(ChatCap),
		timeline: newEventRing(TimelineCap),
	}
}

// Append routes an event into the appropriate rings and updates the per-slot
// counters. A suicide counts one death and one suicide on the single slot
// involved, never a kill.
func (s *EventStore) Append(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Type {
	case EventKill:
		s.killFeed.push(ev)
		if ev.Suicide() {
			if ev.KillerSlot >= 0 && ev.KillerSlot < len(s.counters) {
				s.counters[ev.KillerSlot].Suicides++
				s.counters[ev.KillerSlot].Deaths++
			}
		} else {
			if ev.KillerSlot >= 0 && ev.KillerSlot < len(s.counters) {
				s.counters[ev.KillerSlot].Kills++
			}
			if ev.VictimSlot >= 0 && ev.VictimSlot < len(s.counters) {
				s.counters[ev.VictimSlot].Deaths++
			}
		}
	case EventChat:
		s.chat.push(ev)
	case EventDeath:
		if ev.VictimSlot >= 0 && ev.VictimSlot < len(s.counters) {
			s.counters[ev.VictimSlot].Deaths++
		}
	}
	s.timeline.push(ev)
}

// BindKillNames fills in the display names on retained kill events matching
// the slot pair that were appended before any name was known. Used when a
// textual upload supplies names for a slots-only UDP kill.
func (s *EventStore) BindKillNames(killerSlot, victimSlot int, killer, victim string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bind := func(r *eventRing) {
		for i := 0; i < r.n; i++ {
			ev := &r.buf[(r.start+i)%len(r.buf)]
			if ev.Type != EventKill || ev.Killer != "" {
				continue
			}
			if ev.KillerSlot == killerSlot && ev.VictimSlot == victimSlot {
				ev.Killer = killer
				ev.Victim = victim
			}
		}
	}
	bind(s.killFeed)
	bind(s.timeline)
}

// KillFeed returns a copy of the retained kill events, oldest first.
func (s *EventStore) KillFeed() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killFeed.items()
}

// Chat returns a copy of the retained chat events, oldest first.
func (s *EventStore) Chat() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat.items()
}

// Timeline returns a copy of the retained merged timeline, oldest first.
func (s *EventStore) Timeline() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.items()
}

// SlotCounters returns the UDP-derived per-slot tallies.
func (s *EventStore) SlotCounters() [8]SlotCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// WeaponDamage is one row of the per-weapon kill histogram.
type WeaponDamage struct {
	Weapon string `json:"weapon"`
	Kills  int    `json:"kills"`
}

// Digest is the derived event-store summary: totals, the kill matrix keyed
// by display name, the weapon histogram, and the most recent kill.
type Digest struct {
	TotalKills     int                       `json:"totalKills"`
	TotalDeaths    int                       `json:"totalDeaths"`
	TotalSuicides  int                       `json:"totalSuicides"`
	KillsByName    map[string]map[string]int `json:"killsByName,omitempty"`
	DamageByWeapon []WeaponDamage            `json:"damageByWeapon,omitempty"`
	LastKill       *Event                    `json:"lastKill,omitempty"`
}

// Digest computes the summary from the retained events and counters.
func (s *EventStore) Digest() Digest {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d Digest
	for _, c := range s.counters {
		d.TotalKills += c.Kills
		d.TotalDeaths += c.Deaths
		d.TotalSuicides += c.Suicides
	}

	weapons := make(map[string]int)
	for i := 0; i < s.killFeed.n; i++ {
		ev := s.killFeed.buf[(s.killFeed.start+i)%len(s.killFeed.buf)]
		if ev.Weapon != "" {
			weapons[ev.Weapon]++
		}
		if ev.Killer != "" && ev.Victim != "" {
			if d.KillsByName == nil {
				d.KillsByName = make(map[string]map[string]int)
			}
			row := d.KillsByName[ev.Killer]
			if row == nil {
				row = make(map[string]int)
				d.KillsByName[ev.Killer] = row
			}
			row[ev.Victim]++
		}
		last := ev
		d.LastKill = &last
	}
	for w, n := range weapons {
		d.DamageByWeapon = append(d.DamageByWeapon, WeaponDamage{Weapon: w, Kills: n})
	}
	sort.Slice(d.DamageByWeapon, func(i, j int) bool {
		a, b := d.DamageByWeapon[i], d.DamageByWeapon[j]
		if a.Kills != b.Kills {
			return a.Kills > b.Kills
		}
		return a.Weapon < b.Weapon
	})
	return d
}
