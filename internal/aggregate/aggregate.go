// Package aggregate merges the three evidence channels for a match: polled
// full info, UDP event packets, and uploaded textual gamelogs. Full info is
// authoritative when fresh; event-derived counts fill the gaps between
// polls; textual streams only add what UDP never observed.
package aggregate

import (
	"strings"
	"sync"
	"time"

	"dxx-tracker/internal/gamelog"
	"dxx-tracker/internal/protocol"
	"dxx-tracker/internal/registry"
)

// rawTailCap bounds the retained tail of each uploader's raw stream.
const rawTailCap = 4096

// eventKey identifies a timeline event for cross-source deduplication.
// Textual events carry no game clock, so the key works on participants.
type eventKey struct {
	us     uint64
	typ    registry.EventType
	killer string
	victim string
	sender string
	text   string
}

// killKey matches textual kill reports against UDP-observed kills.
type killKey struct {
	killer string
	victim string
}

// pendingKill is a UDP kill that arrived with slots but no names, before
// any full info bound the player table. A later textual report of the same
// kill claims it instead of appending a duplicate.
type pendingKill struct {
	killerSlot int
	victimSlot int
	weapon     string
}

// stream is the per-uploader textual record: bound identity, cumulative
// parsed-event count, the raw tail of the upload, and last-update time.
type stream struct {
	identity string
	events   int
	tail     []byte
	updated  time.Time
}

type matchSeen struct {
	events  map[eventKey]struct{}
	kills   map[killKey]struct{}
	pending []pendingKill
	streams map[string]*stream
}

// Merger gates event appends so each match's timeline stays a union, not a
// concatenation, of its evidence channels. One Merger serves all matches.
type Merger struct {
	mu   sync.Mutex
	seen map[registry.Key]*matchSeen
}

func NewMerger() *Merger {
	return &Merger{seen: make(map[registry.Key]*matchSeen)}
}

func (g *Merger) forMatch(key registry.Key) *matchSeen {
	ms, ok := g.seen[key]
	if !ok {
		ms = &matchSeen{
			events:  make(map[eventKey]struct{}),
			kills:   make(map[killKey]struct{}),
			streams: make(map[string]*stream),
		}
		g.seen[key] = ms
	}
	return ms
}

func keyOf(ev *registry.Event) eventKey {
	return eventKey{
		us:     ev.GameTimeUS,
		typ:    ev.Type,
		killer: strings.ToLower(ev.Killer),
		victim: strings.ToLower(ev.Victim),
		sender: strings.ToLower(ev.Sender),
		text:   ev.Text,
	}
}

// Ingest appends a UDP-sourced event unless an equal one was already seen.
// Returns whether the event was new.
func (g *Merger) Ingest(r *registry.Registry, key registry.Key, ev registry.Event) (bool, error) {
	g.mu.Lock()
	ms := g.forMatch(key)
	ek := keyOf(&ev)
	if _, dup := ms.events[ek]; dup {
		g.mu.Unlock()
		return false, nil
	}
	ms.events[ek] = struct{}{}
	if ev.Type == registry.EventKill {
		switch {
		case ev.Killer != "" && ev.Victim != "":
			ms.kills[killKey{strings.ToLower(ev.Killer), strings.ToLower(ev.Victim)}] = struct{}{}
		case ev.KillerSlot >= 0 && ev.VictimSlot >= 0:
			// No names yet; a textual upload may supply them later.
			ms.pending = append(ms.pending, pendingKill{
				killerSlot: ev.KillerSlot,
				victimSlot: ev.VictimSlot,
				weapon:     ev.Weapon,
			})
		}
	}
	g.mu.Unlock()

	_, err := r.AppendEvent(key, ev)
	return err == nil, err
}

// IngestTextual appends events parsed from an uploaded gamelog, skipping
// kills the UDP channels already reported and any exact repeats from earlier
// uploads of the same growing file.
func (g *Merger) IngestTextual(r *registry.Registry, key registry.Key, res *gamelog.Result, names [protocol.MaxSlots]string) (int, error) {
	added := 0
	for i := range res.Events {
		ev := textualEvent(&res.Events[i], names)
		if ev.Type == "" {
			continue
		}

		g.mu.Lock()
		ms := g.forMatch(key)
		if ev.Type == registry.EventKill {
			kk := killKey{strings.ToLower(ev.Killer), strings.ToLower(ev.Victim)}
			if _, dup := ms.kills[kk]; dup {
				g.mu.Unlock()
				continue
			}
			// A slots-only UDP kill pending names is the same kill seen from
			// the host side; claim it and backfill the names instead of
			// appending a second entry.
			if ev.KillerSlot < 0 && ev.Killer != "" && ev.Victim != "" {
				if p, ok := ms.claimPending(ev.Weapon); ok {
					ms.kills[kk] = struct{}{}
					ms.events[keyOf(&ev)] = struct{}{}
					g.mu.Unlock()
					r.BindKillNames(key, p.killerSlot, p.victimSlot, ev.Killer, ev.Victim)
					continue
				}
			}
		}
		ek := keyOf(&ev)
		if _, dup := ms.events[ek]; dup {
			g.mu.Unlock()
			continue
		}
		ms.events[ek] = struct{}{}
		g.mu.Unlock()

		if _, err := r.AppendEvent(key, ev); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// claimPending removes and returns the oldest pending nameless kill whose
// weapon matches. An empty weapon on either side matches anything.
func (ms *matchSeen) claimPending(weapon string) (pendingKill, bool) {
	for i, p := range ms.pending {
		if weapon != "" && p.weapon != "" && !strings.EqualFold(weapon, p.weapon) {
			continue
		}
		ms.pending = append(ms.pending[:i], ms.pending[i+1:]...)
		return p, true
	}
	return pendingKill{}, false
}

// UploadResult reports one textual upload: how many events the chunk parsed,
// how many survived the merge, the uploader's cumulative parsed count, and
// how many uploaders the match has seen.
type UploadResult struct {
	Parsed  int
	Added   int
	Total   int
	Clients int
}

// UploadReplace handles a full re-upload of one player's gamelog: the whole
// content is parsed and merged (earlier events dedupe away) and the
// uploader's stream record is reset to this copy.
func (g *Merger) UploadReplace(r *registry.Registry, key registry.Key, player string, content []byte) (UploadResult, error) {
	return g.upload(r, key, player, content, true)
}

// UploadAppend handles an incremental upload: only the new tail is parsed
// and merged, and the uploader's counters accumulate.
func (g *Merger) UploadAppend(r *registry.Registry, key registry.Key, player string, content []byte) (UploadResult, error) {
	return g.upload(r, key, player, content, false)
}

func (g *Merger) upload(r *registry.Registry, key registry.Key, player string, content []byte, replace bool) (UploadResult, error) {
	m, ok := r.Lookup(key)
	if !ok {
		return UploadResult{}, registry.ErrUnknownMatch
	}

	res := gamelog.Parse(content, player)
	added, err := g.IngestTextual(r, key, res, m.DisplayNames())
	if err != nil {
		return UploadResult{}, err
	}

	g.mu.Lock()
	ms := g.forMatch(key)
	st, ok := ms.streams[strings.ToLower(player)]
	if !ok {
		st = &stream{identity: player}
		ms.streams[strings.ToLower(player)] = st
	}
	if replace {
		st.events = len(res.Events)
		st.tail = tailBytes(content)
	} else {
		st.events += len(res.Events)
		st.tail = tailBytes(append(st.tail, content...))
	}
	st.updated = time.Now()
	out := UploadResult{
		Parsed:  len(res.Events),
		Added:   added,
		Total:   st.events,
		Clients: len(ms.streams),
	}
	g.mu.Unlock()
	return out, nil
}

func tailBytes(b []byte) []byte {
	if len(b) <= rawTailCap {
		return b
	}
	out := make([]byte, rawTailCap)
	copy(out, b[len(b)-rawTailCap:])
	return out
}

// Forget drops the dedupe state for a match. Called when a match dies or is
// replaced, and on a gamelog reset.
func (g *Merger) Forget(key registry.Key) {
	g.mu.Lock()
	delete(g.seen, key)
	g.mu.Unlock()
}

// textualEvent converts a parsed gamelog event to a timeline event, binding
// slot indices through the display names where the name resolves.
func textualEvent(src *gamelog.Event, names [protocol.MaxSlots]string) registry.Event {
	ev := registry.Event{
		KillerSlot: -1,
		VictimSlot: -1,
		Source:     registry.SourceTextual,
	}
	switch src.Type {
	case gamelog.EventKill, gamelog.EventSuicide:
		ev.Type = registry.EventKill
		ev.Killer = src.Killer
		ev.Victim = src.Victim
		ev.Weapon = src.Weapon
		ev.KillerSlot = slotFor(src.Killer, names)
		ev.VictimSlot = slotFor(src.Victim, names)
	case gamelog.EventDeath:
		ev.Type = registry.EventDeath
		ev.Victim = src.Victim
		ev.VictimSlot = slotFor(src.Victim, names)
	case gamelog.EventChat:
		ev.Type = registry.EventChat
		ev.Sender = src.Sender
		ev.Text = src.Text
	case gamelog.EventJoin:
		ev.Type = registry.EventJoin
		ev.Sender = src.Sender
	case gamelog.EventQuit:
		ev.Type = registry.EventQuit
		ev.Sender = src.Sender
	case gamelog.EventReactor:
		ev.Type = registry.EventReactor
	case gamelog.EventEscape:
		ev.Type = registry.EventEscape
		ev.Sender = src.Sender
	case gamelog.EventFlag:
		ev.Type = registry.EventFlag
		ev.Sender = src.Sender
	default:
		return registry.Event{}
	}
	return ev
}

func slotFor(name string, names [protocol.MaxSlots]string) int {
	for i, n := range names {
		if n != "" && strings.EqualFold(n, name) {
			return i
		}
	}
	return -1
}
