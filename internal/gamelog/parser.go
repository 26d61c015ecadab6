// Package gamelog parses the textual gamelog.txt stream written by DXX
// clients. Lines are matched case-insensitively against a fixed pattern set;
// anything unrecognized is kept only for diagnostics. The parser is pure:
// repeated calls over growing input produce consistent partial output and no
// state survives between calls.
package gamelog

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"
)

// EventType classifies a parsed gamelog line.
type EventType string

const (
	EventKill    EventType = "kill"
	EventDeath   EventType = "death"
	EventSuicide EventType = "suicide"
	EventChat    EventType = "chat"
	EventJoin    EventType = "join"
	EventQuit    EventType = "quit"
	EventReactor EventType = "reactor_destroyed"
	EventEscape  EventType = "escape"
	EventFlag    EventType = "flag_captured"
	EventUnknown EventType = "unknown"
)

// Event is one parsed gamelog line. Participant names already have the
// "You"/"Yourself" tokens rewritten to the bound identity, so events from
// different uploaders merge on equal names.
type Event struct {
	Type   EventType
	Killer string
	Victim string
	Weapon string
	Sender string
	Text   string
	Raw    string // original line, retained for unknown lines only
}

// PlayerStats accumulates per-identity numbers across one parse.
type PlayerStats struct {
	Kills     int
	Deaths    int
	Suicides  int
	Streak    int
	MaxStreak int
	Weapons   map[string]int
	Victims   map[string]int
	Killers   map[string]int
}

// Summary is the running total produced alongside the event stream.
type Summary struct {
	Identity            string
	IdentityProvisional bool // inferred from the stream, not supplied
	Players             map[string]*PlayerStats
	TotalKills          int
	TotalDeaths         int
	TotalSuicides       int
}

// Result is the output of one Parse call.
type Result struct {
	Events  []Event
	Unknown []string
	Summary Summary
}

// patterns holds the compiled line matchers, shared by every Parse call.
// All matching is case-insensitive, anchored to the full trimmed line
// except where noted.
type patterns struct {
	killWith *regexp.Regexp // "alice killed bob with Plasma Cannon"
	killedBy *regexp.Regexp // "bob was killed by alice (Plasma Cannon)."
	suicide  *regexp.Regexp // "alice blew themselves up" and variants
	died     *regexp.Regexp // "alice died"
	joining  *regexp.Regexp // "'alice' is joining the game."
	leaving  *regexp.Regexp // "alice has left the game"
	reactor  *regexp.Regexp // substring match, reactor/control center
	escape   *regexp.Regexp // "alice has escaped" / "... through the exit"
	flag     *regexp.Regexp // "alice captured the blue flag"
	chat     *regexp.Regexp // "alice: message" (checked last, broadest)
}

var defaultPatterns = &patterns{
	killWith: regexp.MustCompile(`(?i)^(.+?) killed (.+?) with (?:an? )?(.+?)[.!]?\s*$`),
	killedBy: regexp.MustCompile(`(?i)^(.+?) (?:was|were) killed by (.+?)(?:\s*\((.+?)\))?[.!]?\s*$`),
	suicide:  regexp.MustCompile(`(?i)^(.+?) (?:blew (?:himself|herself|themselves|yourself) up|committed suicide|killed (?:himself|herself|themselves|yourself))[.!]?\s*$`),
	died:     regexp.MustCompile(`(?i)^(.+?) died[.!]?\s*$`),
	joining:  regexp.MustCompile(`(?i)^'(.+?)' is joining the game[.!]?\s*$`),
	leaving:  regexp.MustCompile(`(?i)^(.+?) (?:has left the game|is leaving the game)[.!]?\s*$`),
	reactor:  regexp.MustCompile(`(?i)(?:reactor|control center) (?:was )?destroyed`),
	escape:   regexp.MustCompile(`(?i)^(.+?) (?:has escaped|escaped through the exit)[.!]?\s*$`),
	flag:     regexp.MustCompile(`(?i)^(.+?) captured the (?:blue |red )?flag[.!]?\s*$`),
	chat:     regexp.MustCompile(`^([^:\s][^:]{0,30}):\s+(.+)$`),
}

// Parse decodes newline-delimited gamelog text. identity binds the uploading
// player's name so "You"/"Yourself" tokens resolve; pass "" to let the
// parser infer one from the stream, which the summary flags as provisional.
func Parse(content []byte, identity string) *Result {
	provisional := false
	if identity == "" {
		identity, provisional = inferIdentity(content)
	}

	res := &Result{
		Summary: Summary{
			Identity:            identity,
			IdentityProvisional: provisional && identity != "",
			Players:             make(map[string]*PlayerStats),
		},
	}

	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		ev, ok := parseLine(line, identity)
		if !ok {
			res.Unknown = append(res.Unknown, line)
			continue
		}
		res.Events = append(res.Events, ev)
		res.Summary.apply(&ev)
	}
	return res
}

// inferIdentity scans for the single join announcement plus at least one
// "You ..." action, the shape a local player's own gamelog has.
func inferIdentity(content []byte) (string, bool) {
	var joined []string
	sawYou := false
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if m := defaultPatterns.joining.FindStringSubmatch(line); m != nil {
			joined = append(joined, m[1])
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "you ") || strings.HasPrefix(lower, "yourself ") {
			sawYou = true
		}
	}
	if len(joined) == 1 && sawYou {
		return joined[0], true
	}
	return "", false
}

// parseLine classifies a single trimmed line. The chat pattern is broad and
// must stay last in the cascade.
func parseLine(line, identity string) (Event, bool) {
	p := defaultPatterns

	if m := p.killWith.FindStringSubmatch(line); m != nil {
		killer := bindIdentity(m[1], identity)
		victim := bindIdentity(m[2], identity)
		if strings.EqualFold(killer, victim) {
			return Event{Type: EventSuicide, Killer: killer, Victim: victim, Weapon: strings.TrimSpace(m[3])}, true
		}
		return Event{Type: EventKill, Killer: killer, Victim: victim, Weapon: strings.TrimSpace(m[3])}, true
	}
	if m := p.suicide.FindStringSubmatch(line); m != nil {
		who := bindIdentity(m[1], identity)
		return Event{Type: EventSuicide, Killer: who, Victim: who}, true
	}
	if m := p.killedBy.FindStringSubmatch(line); m != nil {
		victim := bindIdentity(m[1], identity)
		killer := bindIdentity(m[2], identity)
		if strings.EqualFold(killer, victim) {
			return Event{Type: EventSuicide, Killer: killer, Victim: victim, Weapon: strings.TrimSpace(m[3])}, true
		}
		return Event{Type: EventKill, Killer: killer, Victim: victim, Weapon: strings.TrimSpace(m[3])}, true
	}
	if m := p.joining.FindStringSubmatch(line); m != nil {
		return Event{Type: EventJoin, Sender: strings.TrimSpace(m[1])}, true
	}
	if m := p.leaving.FindStringSubmatch(line); m != nil {
		return Event{Type: EventQuit, Sender: bindIdentity(m[1], identity)}, true
	}
	if m := p.escape.FindStringSubmatch(line); m != nil {
		return Event{Type: EventEscape, Sender: bindIdentity(m[1], identity)}, true
	}
	if m := p.flag.FindStringSubmatch(line); m != nil {
		return Event{Type: EventFlag, Sender: bindIdentity(m[1], identity)}, true
	}
	if p.reactor.MatchString(line) {
		return Event{Type: EventReactor}, true
	}
	if m := p.died.FindStringSubmatch(line); m != nil {
		return Event{Type: EventDeath, Victim: bindIdentity(m[1], identity)}, true
	}
	if m := p.chat.FindStringSubmatch(line); m != nil {
		return Event{Type: EventChat, Sender: bindIdentity(m[1], identity), Text: strings.TrimSpace(m[2])}, true
	}
	return Event{Type: EventUnknown, Raw: line}, false
}

// bindIdentity rewrites the self-referential tokens to the bound name.
// Rewriting happens at parse time so duplicate detection across uploaders
// works on equal participant names.
func bindIdentity(name, identity string) string {
	name = strings.TrimSpace(name)
	if identity == "" {
		return name
	}
	if strings.EqualFold(name, "you") || strings.EqualFold(name, "yourself") {
		return identity
	}
	return name
}

func (s *Summary) player(name string) *PlayerStats {
	if name == "" {
		return nil
	}
	ps, ok := s.Players[name]
	if !ok {
		ps = &PlayerStats{
			Weapons: make(map[string]int),
			Victims: make(map[string]int),
			Killers: make(map[string]int),
		}
		s.Players[name] = ps
	}
	return ps
}

func (s *Summary) apply(ev *Event) {
	switch ev.Type {
	case EventKill:
		s.TotalKills++
		if k := s.player(ev.Killer); k != nil {
			k.Kills++
			k.Streak++
			if k.Streak > k.MaxStreak {
				k.MaxStreak = k.Streak
			}
			if ev.Weapon != "" {
				k.Weapons[ev.Weapon]++
			}
			k.Victims[ev.Victim]++
		}
		if v := s.player(ev.Victim); v != nil {
			v.Deaths++
			v.Streak = 0
			v.Killers[ev.Killer]++
		}
		s.TotalDeaths++
	case EventSuicide:
		s.TotalSuicides++
		s.TotalDeaths++
		if p := s.player(ev.Victim); p != nil {
			p.Suicides++
			p.Deaths++
			p.Streak = 0
		}
	case EventDeath:
		s.TotalDeaths++
		if p := s.player(ev.Victim); p != nil {
			p.Deaths++
			p.Streak = 0
		}
	}
}
