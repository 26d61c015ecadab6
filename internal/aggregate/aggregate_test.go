package aggregate

import (
	"fmt"
	"net"
	"testing"

	"dxx-tracker/internal/gamelog"
	"dxx-tracker/internal/protocol"
	"dxx-tracker/internal/registry"
)

func setupMatch(t *testing.T) (*registry.Registry, registry.Key) {
	t.Helper()
	r := registry.New(nil)
	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 42000}
	m, _, _ := r.UpsertOnRegister(src, &protocol.Register{
		Version: protocol.VersionD1, GamePort: 5000, GameID: 7,
		Major: 1, Minor: 3, Micro: 2,
	})
	return r, m.Key
}

func names(list ...string) [protocol.MaxSlots]string {
	var out [protocol.MaxSlots]string
	copy(out[:], list)
	return out
}

func TestIngestDropsExactRepeat(t *testing.T) {
	r, key := setupMatch(t)
	g := NewMerger()

	ev := registry.Event{
		Type: registry.EventKill, GameTimeUS: 1000000,
		KillerSlot: 0, VictimSlot: 1,
		Killer: "alice", Victim: "bob", Weapon: "Plasma Cannon",
		Source: registry.SourceUDP,
	}
	if added, err := g.Ingest(r, key, ev); err != nil || !added {
		t.Fatalf("first ingest: added=%v err=%v", added, err)
	}
	if added, _ := g.Ingest(r, key, ev); added {
		t.Error("duplicate UDP event ingested")
	}

	es, _ := r.Events(key)
	if got := len(es.Timeline()); got != 1 {
		t.Errorf("timeline = %d events, want 1", got)
	}
}

func TestTextualKillSuppressedAfterUDP(t *testing.T) {
	r, key := setupMatch(t)
	g := NewMerger()

	g.Ingest(r, key, registry.Event{
		Type: registry.EventKill, GameTimeUS: 1000000,
		KillerSlot: 0, VictimSlot: 1,
		Killer: "alice", Victim: "bob", Weapon: "Plasma Cannon",
		Source: registry.SourceUDP,
	})

	res := gamelog.Parse([]byte("alice killed bob with Plasma Cannon\ncarol killed alice with Fusion Cannon\n"), "")
	added, err := g.IngestTextual(r, key, res, names("alice", "bob", "carol"))
	if err != nil {
		t.Fatalf("IngestTextual: %v", err)
	}
	if added != 1 {
		t.Errorf("added %d textual events, want 1 (first kill already seen via UDP)", added)
	}

	es, _ := r.Events(key)
	feed := es.KillFeed()
	if len(feed) != 2 {
		t.Fatalf("kill feed = %d entries, want 2", len(feed))
	}
	if feed[1].Killer != "carol" || feed[1].KillerSlot != 2 || feed[1].VictimSlot != 0 {
		t.Errorf("textual kill = %+v, want carol(2) on alice(0)", feed[1])
	}
	if feed[1].Source != registry.SourceTextual {
		t.Errorf("source = %s, want textual", feed[1].Source)
	}
}

func TestTextualKillClaimsNamelessUDPKill(t *testing.T) {
	r, key := setupMatch(t)
	g := NewMerger()

	// The host's gamelog kill packet arrives before any full info, so the
	// event carries slots but no names.
	g.Ingest(r, key, registry.Event{
		Type: registry.EventKill, GameTimeUS: 1000000,
		KillerSlot: 0, VictimSlot: 1, Weapon: "Plasma Cannon",
		Source: registry.SourceUDP,
	})

	upload := []byte("You killed bob with Plasma Cannon\n")
	added, err := g.IngestTextual(r, key, gamelog.Parse(upload, "alice"), names())
	if err != nil {
		t.Fatalf("IngestTextual: %v", err)
	}
	if added != 0 {
		t.Errorf("added = %d, want the kill claimed, not appended", added)
	}

	es, _ := r.Events(key)
	feed := es.KillFeed()
	if len(feed) != 1 {
		t.Fatalf("kill feed = %d entries, want exactly 1", len(feed))
	}
	k := feed[0]
	if k.Killer != "alice" || k.Victim != "bob" {
		t.Errorf("kill = %q -> %q, want names backfilled onto the UDP event", k.Killer, k.Victim)
	}
	if k.KillerSlot != 0 || k.VictimSlot != 1 || k.Weapon != "Plasma Cannon" {
		t.Errorf("kill = %+v", k)
	}

	// The scoreboard credits the slots once, under the learned names.
	m, _ := r.Lookup(key)
	v := BuildView(&m, es, nil)
	byName := make(map[string]PlayerView)
	for _, p := range v.Players {
		byName[p.Name] = p
	}
	if p := byName["alice"]; p.Slot != 0 || p.Kills != 1 {
		t.Errorf("alice = %+v, want slot 0 with 1 kill", p)
	}
	if p := byName["bob"]; p.Slot != 1 || p.Deaths != 1 {
		t.Errorf("bob = %+v, want slot 1 with 1 death", p)
	}
	if v.KillMatrix[0][1] != 1 {
		t.Errorf("kill matrix [0][1] = %d, want 1 derived from events", v.KillMatrix[0][1])
	}

	// Re-uploading the same line adds nothing more.
	if added, _ := g.IngestTextual(r, key, gamelog.Parse(upload, "alice"), names()); added != 0 {
		t.Errorf("re-upload added %d, want 0", added)
	}
}

func TestUploadReplaceAndAppendBookkeeping(t *testing.T) {
	r, key := setupMatch(t)
	g := NewMerger()

	res, err := g.UploadReplace(r, key, "alice", []byte("You killed bob with Laser\n"))
	if err != nil {
		t.Fatalf("UploadReplace: %v", err)
	}
	if res.Parsed != 1 || res.Added != 1 || res.Total != 1 || res.Clients != 1 {
		t.Errorf("first replace = %+v", res)
	}

	res, err = g.UploadAppend(r, key, "alice", []byte("bob: hi\n"))
	if err != nil {
		t.Fatalf("UploadAppend: %v", err)
	}
	if res.Added != 1 || res.Total != 2 {
		t.Errorf("append = %+v, want the tail counted on top", res)
	}

	res, _ = g.UploadReplace(r, key, "carol", []byte("You killed alice with Flare\n"))
	if res.Clients != 2 {
		t.Errorf("clients = %d, want 2 after a second uploader", res.Clients)
	}

	// Replacing with the same file merges nothing new and resets the count.
	res, _ = g.UploadReplace(r, key, "alice", []byte("You killed bob with Laser\n"))
	if res.Parsed != 1 || res.Added != 0 || res.Total != 1 {
		t.Errorf("repeat replace = %+v", res)
	}

	if _, err := g.UploadReplace(r, registry.Key("1.2.3.4:9"), "alice", []byte("x: y\n")); err == nil {
		t.Error("upload against an unknown match did not error")
	}
}

func TestBuildViewTimelineSortedByGameClock(t *testing.T) {
	r, key := setupMatch(t)
	g := NewMerger()

	for _, us := range []uint64{3000, 1000, 2000} {
		g.Ingest(r, key, registry.Event{
			Type: registry.EventChat, GameTimeUS: us,
			Sender: "alice", Text: fmt.Sprintf("at %d", us),
			Source: registry.SourceUDP,
		})
	}

	m, _ := r.Lookup(key)
	es, _ := r.Events(key)
	v := BuildView(&m, es, nil)

	if len(v.Timeline) != 3 {
		t.Fatalf("timeline = %d events", len(v.Timeline))
	}
	for i, want := range []uint64{1000, 2000, 3000} {
		if v.Timeline[i].GameTimeUS != want {
			t.Errorf("timeline[%d] at %dus, want %d", i, v.Timeline[i].GameTimeUS, want)
		}
	}
}

func TestTextualRepeatUploadAddsNothing(t *testing.T) {
	r, key := setupMatch(t)
	g := NewMerger()

	content := []byte("alice killed bob with Laser\nalice: hello\n")
	res := gamelog.Parse(content, "")
	if added, _ := g.IngestTextual(r, key, res, names("alice", "bob")); added != 2 {
		t.Fatalf("first upload added %d, want 2", added)
	}
	// Same file uploaded again after growing by one line.
	grown := append(content, []byte("bob killed alice with Flare\n")...)
	res = gamelog.Parse(grown, "")
	if added, _ := g.IngestTextual(r, key, res, names("alice", "bob")); added != 1 {
		t.Errorf("re-upload added %d, want only the new line", added)
	}
}

func TestForgetResetsDedupe(t *testing.T) {
	r, key := setupMatch(t)
	g := NewMerger()

	ev := registry.Event{Type: registry.EventChat, Sender: "alice", Text: "gg"}
	g.Ingest(r, key, ev)
	g.Forget(key)
	if added, _ := g.Ingest(r, key, ev); !added {
		t.Error("event still deduped after Forget")
	}
}

func TestBuildViewMaxMerge(t *testing.T) {
	r, key := setupMatch(t)

	fi := &protocol.FullInfo{GameName: "lunar outpost", MaxPlayers: 8, NumPlayers: 2}
	fi.Players[0] = protocol.FullInfoPlayer{Callsign: "alice", Connected: true}
	fi.Players[1] = protocol.FullInfoPlayer{Callsign: "bob", Connected: true}
	fi.Kills[0] = 3
	fi.Deaths[1] = 3
	fi.KillMatrix[0][1] = 3
	r.ApplyFull(key, fi)

	// Two more kills arrived over UDP since the last poll.
	g := NewMerger()
	for us := uint64(1); us <= 5; us++ {
		g.Ingest(r, key, registry.Event{
			Type: registry.EventKill, GameTimeUS: us * 1000,
			KillerSlot: 0, VictimSlot: 1, Killer: "alice", Victim: "bob",
			Source: registry.SourceUDP,
		})
	}

	m, _ := r.Lookup(key)
	es, _ := r.Events(key)
	v := BuildView(&m, es, nil)

	if len(v.Players) != 2 {
		t.Fatalf("players = %d, want 2", len(v.Players))
	}
	if v.Players[0].Kills != 5 {
		t.Errorf("alice kills = %d, want max(3 full, 5 udp) = 5", v.Players[0].Kills)
	}
	if v.Players[1].Deaths != 5 {
		t.Errorf("bob deaths = %d, want 5", v.Players[1].Deaths)
	}
	if v.KillMatrix[0][1] != 3 {
		t.Errorf("kill matrix [0][1] = %d, want 3", v.KillMatrix[0][1])
	}
	if v.GameName != "lunar outpost" || v.Version != "D1" || v.Release != "1.3.2" {
		t.Errorf("header = %q %q %q", v.GameName, v.Version, v.Release)
	}
}

func TestBuildViewTextualAndPhantom(t *testing.T) {
	r, key := setupMatch(t)

	fi := &protocol.FullInfo{}
	fi.Players[0] = protocol.FullInfoPlayer{Callsign: "alice", Connected: true}
	r.ApplyFull(key, fi)

	res := gamelog.Parse([]byte(
		"alice killed bob with Laser\n"+
			"alice killed bob with Laser\n"+
			"ghost killed alice with Mega Missile\n"), "")

	m, _ := r.Lookup(key)
	es, _ := r.Events(key)
	v := BuildView(&m, es, &res.Summary)

	var alice, ghost *PlayerView
	for i := range v.Players {
		switch v.Players[i].Name {
		case "alice":
			alice = &v.Players[i]
		case "ghost":
			ghost = &v.Players[i]
		}
	}
	if alice == nil || alice.Kills != 2 || alice.Deaths != 1 {
		t.Errorf("alice = %+v, want 2 kills 1 death from textual", alice)
	}
	if ghost == nil || !ghost.Phantom || ghost.Slot != -1 || ghost.Kills != 1 {
		t.Errorf("ghost = %+v, want phantom with 1 kill", ghost)
	}
}

func TestBuildViewWithoutFullInfoUsesCounters(t *testing.T) {
	r, key := setupMatch(t)
	r.ApplyLite(key, &protocol.LiteInfo{
		GameID: 7, GameName: "anarchy night", Mode: protocol.ModeAnarchy,
		Status: protocol.StatusPlaying, NumPlayers: 2, MaxPlayers: 4,
	})

	g := NewMerger()
	g.Ingest(r, key, registry.Event{
		Type: registry.EventKill, GameTimeUS: 500,
		KillerSlot: 1, VictimSlot: 1, Killer: "bob", Victim: "bob",
		Source: registry.SourceUDP,
	})

	m, _ := r.Lookup(key)
	es, _ := r.Events(key)
	v := BuildView(&m, es, nil)

	if v.GameName != "anarchy night" || v.Mode != "Anarchy" {
		t.Errorf("lite fields = %q %q", v.GameName, v.Mode)
	}
	if len(v.Players) != 1 {
		t.Fatalf("players = %+v, want the one slot with activity", v.Players)
	}
	p := v.Players[0]
	if p.Slot != 1 || p.Suicides != 1 || p.Deaths != 1 || p.Kills != 0 {
		t.Errorf("slot 1 = %+v, want 1 suicide 1 death 0 kills", p)
	}
}
