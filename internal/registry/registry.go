// Package registry is the single source of truth for which matches are
// alive and what is currently known about each. All live state is warm
// memory only; nothing survives a restart.
package registry

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"dxx-tracker/internal/protocol"
)

// InactivityThreshold is the last-seen age past which a match is reaped.
const InactivityThreshold = 5 * time.Minute

var (
	// ErrUnknownMatch is returned when no record correlates to a packet
	// that requires one.
	ErrUnknownMatch = errors.New("unknown match")
	// ErrGameIDMismatch is returned for info responses whose embedded
	// game id does not match the record's.
	ErrGameIDMismatch = errors.New("game id mismatch")
)

// State is the match lifecycle: pending -> confirmed -> dead, no way back.
// A re-registration with a new game id starts a new lifecycle on the same
// key.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateDead      State = "dead"
)

// Key identifies one live match: "host-ip:game-port".
type Key string

// KeyFor builds a match key from the host IP and announced game port.
func KeyFor(ip string, port uint16) Key {
	return Key(fmt.Sprintf("%s:%d", ip, port))
}

// Match is one registry record. Methods on Registry hand out value copies;
// the registry owns the canonical instance.
type Match struct {
	Key      Key
	HostIP   string
	GamePort uint16
	GameID   uint32

	Version             byte // protocol.VersionD1 or D2
	TrackerVer          byte
	Major, Minor, Micro uint16
	NetgameProto        uint16 // 0 until a version-deny teaches it

	// SourceAddr is where the REGISTER came from; the ACK goes back there
	// even when it differs from the game port.
	SourceAddr *net.UDPAddr

	State           State
	AckSent         bool
	FirstRegistered time.Time
	LastSeen        time.Time
	CreatedAt       time.Time

	Lite *protocol.LiteInfo
	Full *protocol.FullInfo
}

// DisplayNames returns the per-slot display names from the most recent full
// info, disambiguating duplicate callsigns with " (1)", " (2)" in slot
// order. Slots without a present player map to "".
func (m *Match) DisplayNames() [protocol.MaxSlots]string {
	var names [protocol.MaxSlots]string
	if m.Full == nil {
		return names
	}
	seen := make(map[string]int)
	for i := 0; i < protocol.MaxSlots; i++ {
		p := &m.Full.Players[i]
		if !p.Present() {
			continue
		}
		name := p.Callsign
		if n := seen[p.Callsign]; n > 0 {
			name = fmt.Sprintf("%s (%d)", p.Callsign, n)
		}
		seen[p.Callsign]++
		names[i] = name
	}
	return names
}

// Reaped is one expired match handed back by ReapExpired, bundling the
// record with its event history for the archive handoff.
type Reaped struct {
	Match  Match
	Events *EventStore
}

type entry struct {
	match  *Match
	events *EventStore
}

// Registry is the concurrent match index. One read-write lock over the map
// is enough at tracker scale; no I/O ever happens under the lock.
type Registry struct {
	mu      sync.RWMutex
	matches map[Key]*entry
	now     func() time.Time
}

// New creates an empty registry. now is injectable for tests; pass nil for
// the wall clock.
func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		matches: make(map[Key]*entry),
		now:     now,
	}
}

// UpsertOnRegister ensures a record exists for a REGISTER announcement.
// A game id change on the same key drops the predecessor and its events
// before the new record is created. Returns the resulting record copy,
// whether it is newly created, and the key of a replaced predecessor ("" if
// none).
func (r *Registry) UpsertOnRegister(src *net.UDPAddr, reg *protocol.Register) (Match, bool, bool) {
	key := KeyFor(src.IP.String(), reg.GamePort)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	replaced := false
	if e, ok := r.matches[key]; ok {
		if e.match.GameID == reg.GameID {
			// Same lifecycle: treat as a refresh.
			e.match.LastSeen = now
			e.match.SourceAddr = src
			return *e.match, false, false
		}
		// New lifecycle under the same key: the old record and its event
		// store are discarded first.
		delete(r.matches, key)
		replaced = true
	}

	m := &Match{
		Key:             key,
		HostIP:          src.IP.String(),
		GamePort:        reg.GamePort,
		GameID:          reg.GameID,
		Version:         reg.Version,
		TrackerVer:      reg.TrackerVer,
		Major:           reg.Major,
		Minor:           reg.Minor,
		Micro:           reg.Micro,
		SourceAddr:      src,
		State:           StatePending,
		FirstRegistered: now,
		LastSeen:        now,
		CreatedAt:       now,
	}
	r.matches[key] = &entry{match: m, events: NewEventStore()}
	return *m, true, replaced
}

// ApplyLite updates lite fields for a record. The first successful apply
// promotes pending to confirmed; the returned flag is true exactly on that
// edge so the engine can fire the register-ACK triplet once.
func (r *Registry) ApplyLite(key Key, li *protocol.LiteInfo) (Match, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.matches[key]
	if !ok {
		return Match{}, false, ErrUnknownMatch
	}
	if li.GameID != e.match.GameID {
		return Match{}, false, ErrGameIDMismatch
	}

	e.match.Lite = li
	e.match.LastSeen = r.now()

	confirmedNow := false
	if e.match.State == StatePending {
		e.match.State = StateConfirmed
		confirmedNow = true
	}
	return *e.match, confirmedNow, nil
}

// ApplyFull updates the player table, kill matrix and settings from a full
// info packet. Full info also confirms a still-pending record.
func (r *Registry) ApplyFull(key Key, fi *protocol.FullInfo) (Match, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.matches[key]
	if !ok {
		return Match{}, false, ErrUnknownMatch
	}

	e.match.Full = fi
	e.match.LastSeen = r.now()

	confirmedNow := false
	if e.match.State == StatePending {
		e.match.State = StateConfirmed
		confirmedNow = true
	}
	return *e.match, confirmedNow, nil
}

// MarkAckSent records that the register-ACK triplet has been dispatched;
// it only ever flips once per lifecycle.
func (r *Registry) MarkAckSent(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.matches[key]; ok {
		e.match.AckSent = true
	}
}

// ApplyVersionDeny sets the netgame protocol for every record on the source
// IP whose protocol is still unknown, and returns how many were updated.
func (r *Registry) ApplyVersionDeny(ip string, proto uint16) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := 0
	for _, e := range r.matches {
		if e.match.HostIP == ip && e.match.NetgameProto == 0 {
			e.match.NetgameProto = proto
			updated++
		}
	}
	return updated
}

// RemoveByGameID removes the record matching IP and game id. The source
// port of an UNREGISTER is ephemeral, so only the IP participates.
func (r *Registry) RemoveByGameID(ip string, gameID uint32) (Match, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.matches {
		if e.match.HostIP == ip && e.match.GameID == gameID {
			e.match.State = StateDead
			m := *e.match
			delete(r.matches, key)
			return m, true
		}
	}
	return Match{}, false
}

// ResolveAddr correlates a packet source to a match key: exact IP:port
// first, then IP alone, since info responses and gamelog packets often
// arrive from an ephemeral port.
func (r *Registry) ResolveAddr(ip string, port uint16) (Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exact := KeyFor(ip, port)
	if _, ok := r.matches[exact]; ok {
		return exact, true
	}
	// TODO: two hosts behind one NAT share an IP; disambiguate via the
	// game id once gamelog packets start carrying it.
	for key, e := range r.matches {
		if e.match.HostIP == ip {
			return key, true
		}
	}
	return "", false
}

// Lookup returns a copy of the record for a key.
func (r *Registry) Lookup(key Key) (Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.matches[key]; ok {
		return *e.match, true
	}
	return Match{}, false
}

// All returns copies of every live record.
func (r *Registry) All() []Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Match, 0, len(r.matches))
	for _, e := range r.matches {
		out = append(out, *e.match)
	}
	return out
}

// Confirmed returns copies of the confirmed records, optionally filtered by
// DXX version (0 matches both).
func (r *Registry) Confirmed(version byte) []Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Match
	for _, e := range r.matches {
		if e.match.State != StateConfirmed {
			continue
		}
		if version != 0 && e.match.Version != version {
			continue
		}
		out = append(out, *e.match)
	}
	return out
}

// AppendEvent adds an event to a match's store and returns a copy of the
// record it landed on.
func (r *Registry) AppendEvent(key Key, ev Event) (Match, error) {
	r.mu.RLock()
	e, ok := r.matches[key]
	if !ok {
		r.mu.RUnlock()
		return Match{}, ErrUnknownMatch
	}
	m := *e.match
	es := e.events
	r.mu.RUnlock()

	es.Append(ev)
	return m, nil
}

// BindKillNames backfills display names onto retained slots-only kill events
// of a match, once a textual stream supplies them.
func (r *Registry) BindKillNames(key Key, killerSlot, victimSlot int, killer, victim string) bool {
	es, ok := r.Events(key)
	if !ok {
		return false
	}
	es.BindKillNames(killerSlot, victimSlot, killer, victim)
	return true
}

// Events exposes a match's event store. The store carries its own lock, so
// the handle stays safe to read after the registry lock is released.
func (r *Registry) Events(key Key) (*EventStore, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.matches[key]; ok {
		return e.events, true
	}
	return nil, false
}

// ReapExpired removes and returns every record whose last-seen age exceeds
// the inactivity threshold.
func (r *Registry) ReapExpired(now time.Time) []Reaped {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []Reaped
	for key, e := range r.matches {
		if now.Sub(e.match.LastSeen) > InactivityThreshold {
			e.match.State = StateDead
			reaped = append(reaped, Reaped{Match: *e.match, Events: e.events})
			delete(r.matches, key)
		}
	}
	return reaped
}

// Len reports the number of live records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}
