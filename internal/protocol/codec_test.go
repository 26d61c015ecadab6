package protocol

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture %q: %v", s, err)
	}
	return b
}

func TestDecodeRegister(t *testing.T) {
	// 15-byte variant: game port 5000, game id 0x04030201, v1.3.2, D1.
	data := mustHex(t, "000001881301020304010003000200")
	r, err := DecodeRegister(data)
	if err != nil {
		t.Fatalf("DecodeRegister: %v", err)
	}
	if r.Version != VersionD1 {
		t.Errorf("version = %d, want %d", r.Version, VersionD1)
	}
	if r.GamePort != 5000 {
		t.Errorf("game port = %d, want 5000", r.GamePort)
	}
	if r.GameID != 0x04030201 {
		t.Errorf("game id = %#x, want 0x04030201", r.GameID)
	}
	if r.Major != 1 || r.Minor != 3 || r.Micro != 2 {
		t.Errorf("release = %d.%d.%d, want 1.3.2", r.Major, r.Minor, r.Micro)
	}
}

func TestDecodeRegisterShortMicro(t *testing.T) {
	// 14-byte variant carries a single micro byte.
	data := mustHex(t, "0000028813010203040100030007")
	r, err := DecodeRegister(data)
	if err != nil {
		t.Fatalf("DecodeRegister: %v", err)
	}
	if r.Version != VersionD2 {
		t.Errorf("version = %d, want %d", r.Version, VersionD2)
	}
	if r.Micro != 7 {
		t.Errorf("micro = %d, want 7", r.Micro)
	}
}

func TestDecodeRejectsWrongLengths(t *testing.T) {
	cases := []struct {
		name   string
		decode func([]byte) error
		ok     []int // accepted lengths for building a valid-length probe
		bad    []int
	}{
		{"register", func(b []byte) error { _, err := DecodeRegister(b); return err }, []int{14, 15}, []int{0, 1, 13, 16, 100}},
		{"unregister", func(b []byte) error { _, err := DecodeUnregister(b); return err }, []int{5}, []int{0, 4, 6, 9}},
		{"version-deny", func(b []byte) error { _, err := DecodeVersionDeny(b); return err }, []int{9}, []int{5, 8, 10}},
		{"game-list-req", func(b []byte) error { _, err := DecodeGameListRequest(b); return err }, []int{3}, []int{2, 4}},
		{"lite-info", func(b []byte) error { _, err := DecodeLiteInfo(b); return err }, []int{73}, []int{0, 72, 74}},
		{"gamelog-kill", func(b []byte) error { _, err := DecodeGamelogKill(b); return err }, []int{13}, []int{12, 14}},
		{"gamelog-chat", func(b []byte) error { _, err := DecodeGamelogChat(b); return err }, []int{11, 20}, []int{0, 10}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, n := range tc.ok {
				if err := tc.decode(make([]byte, n)); err != nil {
					t.Errorf("length %d rejected: %v", n, err)
				}
			}
			for _, n := range tc.bad {
				err := tc.decode(make([]byte, n))
				var mp *MalformedPacketError
				if !errors.As(err, &mp) {
					t.Errorf("length %d: want MalformedPacketError, got %v", n, err)
				}
			}
		})
	}
}

func TestLiteInfoRoundTrip(t *testing.T) {
	li := &LiteInfo{
		Major: 1, Minor: 3, Micro: 2,
		GameID:       0x04030201,
		GameName:     "1v1",
		MissionTitle: "Wrath",
		MissionName:  "wrath",
		LevelNum:     1,
		Mode:         ModeAnarchy,
		Status:       StatusPlaying,
		Difficulty:   4,
		NumPlayers:   2,
		MaxPlayers:   2,
	}
	data := EncodeLiteInfo(li)
	if len(data) != 73 {
		t.Fatalf("encoded lite info is %d bytes, want 73", len(data))
	}
	got, err := DecodeLiteInfo(data)
	if err != nil {
		t.Fatalf("DecodeLiteInfo: %v", err)
	}
	if *got != *li {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, li)
	}
}

func TestLiteInfoStripsNonPrintable(t *testing.T) {
	li := &LiteInfo{GameName: "bad"}
	data := EncodeLiteInfo(li)
	// Inject a control byte and a high byte into the name field before the
	// terminating NUL.
	data[11] = 0x07
	data[12] = 0xff
	copy(data[13:], "ok")
	got, err := DecodeLiteInfo(data)
	if err != nil {
		t.Fatalf("DecodeLiteInfo: %v", err)
	}
	if got.GameName != "ok" {
		t.Errorf("game name = %q, want %q", got.GameName, "ok")
	}
}

func TestEncodeLiteInfoRequest(t *testing.T) {
	data := EncodeLiteInfoRequest(VersionD1, 1, 3, 2)
	want := mustHex(t, "0444315852010003000200")
	if !bytes.Equal(data, want) {
		t.Errorf("lite request = %x, want %x", data, want)
	}
}

func TestEncodeFullInfoRequest(t *testing.T) {
	data := EncodeFullInfoRequest(VersionD2, 1, 0, 0, 7650)
	if len(data) != 13 {
		t.Fatalf("full info request is %d bytes, want 13", len(data))
	}
	if data[0] != OpGameList {
		t.Errorf("opcode = %d, want %d", data[0], OpGameList)
	}
	if string(data[1:5]) != "D2XR" {
		t.Errorf("request id = %q, want D2XR", data[1:5])
	}
	if got := uint16(data[11]) | uint16(data[12])<<8; got != 7650 {
		t.Errorf("netgame proto = %d, want 7650", got)
	}
}

func TestGameListEntryRoundTrip(t *testing.T) {
	e := &GameListEntry{
		IP:   "203.0.113.7",
		Port: 5000,
		Info: LiteInfo{
			Major: 1, Minor: 3, Micro: 2,
			GameID:       42,
			GameName:     "lunch game",
			MissionTitle: "First Strike",
			MissionName:  "descent",
			LevelNum:     7,
			Mode:         ModeTeamAnarchy,
			Status:       StatusForming,
			NumPlayers:   3,
			MaxPlayers:   8,
		},
	}
	got, err := DecodeGameListEntry(EncodeGameListEntry(e))
	if err != nil {
		t.Fatalf("DecodeGameListEntry: %v", err)
	}
	if *got != *e {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, e)
	}
}

func TestDecodeGamelogKill(t *testing.T) {
	// game time 1000000us, killer 0, victim 1, weapon id 13 (Plasma Cannon)
	data := mustHex(t, "1f40420f00000000000001000d")
	k, err := DecodeGamelogKill(data)
	if err != nil {
		t.Fatalf("DecodeGamelogKill: %v", err)
	}
	if k.GameTimeUS != 1000000 {
		t.Errorf("game time = %d, want 1000000", k.GameTimeUS)
	}
	if k.KillerSlot != 0 || k.VictimSlot != 1 {
		t.Errorf("slots = %d/%d, want 0/1", k.KillerSlot, k.VictimSlot)
	}
	if WeaponName(k.WeaponID) != "Plasma Cannon" {
		t.Errorf("weapon = %q, want Plasma Cannon", WeaponName(k.WeaponID))
	}
}

func TestDecodeGamelogChat(t *testing.T) {
	data := append(mustHex(t, "2040420f000000000002"), []byte("gg\x00")...)
	c, err := DecodeGamelogChat(data)
	if err != nil {
		t.Fatalf("DecodeGamelogChat: %v", err)
	}
	if c.SenderSlot != 2 {
		t.Errorf("sender = %d, want 2", c.SenderSlot)
	}
	if c.Message != "gg" {
		t.Errorf("message = %q, want gg", c.Message)
	}
}

func TestWebUIPing(t *testing.T) {
	if !IsWebUIPing([]byte{99, 'p', 'i', 'n', 'g'}) {
		t.Error("5-byte ping not recognized")
	}
	if IsWebUIPing([]byte{99, 'p', 'i', 'n'}) {
		t.Error("short packet recognized as ping")
	}
	pong := EncodePong(1700000000)
	if len(pong) != 8 || string(pong[:4]) != "pong" {
		t.Errorf("pong frame = %x", pong)
	}
}
