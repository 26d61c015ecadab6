package protocol

import (
	"errors"
	"testing"
)

func sampleFullInfo() *FullInfo {
	fi := &FullInfo{
		Major: 1, Minor: 3, Micro: 2,
		GameName:     "1v1",
		MissionTitle: "Wrath",
		MissionName:  "wrath",
		Mode:         ModeAnarchy,
		Status:       StatusPlaying,
		NumPlayers:   2,
		MaxPlayers:   2,
		CurPlayers:   2,
		KillGoal:     20,
	}
	fi.Players[0] = FullInfoPlayer{Callsign: "alice", Connected: true, Rank: 3}
	fi.Players[1] = FullInfoPlayer{Callsign: "bob", Connected: true, Rank: 1}
	fi.KillMatrix[0][1] = 5
	fi.KillMatrix[1][0] = 3
	fi.KillMatrix[1][1] = 1 // suicide counts land on the diagonal
	fi.Kills[0] = 5
	fi.Kills[1] = 3
	fi.Deaths[0] = 3
	fi.Deaths[1] = 6
	fi.Scores[0] = 5
	fi.Scores[1] = 2
	return fi
}

func TestFullInfoRoundTrip(t *testing.T) {
	fi := sampleFullInfo()
	data := EncodeFullInfo(fi)
	if len(data) != 519 {
		t.Fatalf("stride-12 packet is %d bytes, want 519", len(data))
	}
	got, err := DecodeFullInfo(data)
	if err != nil {
		t.Fatalf("DecodeFullInfo: %v", err)
	}
	if *got != *fi {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, fi)
	}
}

func TestFullInfoPaddedLengthUsesShortStride(t *testing.T) {
	data := append(EncodeFullInfo(sampleFullInfo()), 0)
	if len(data) != 520 {
		t.Fatalf("fixture is %d bytes, want 520", len(data))
	}
	got, err := DecodeFullInfo(data)
	if err != nil {
		t.Fatalf("DecodeFullInfo: %v", err)
	}
	if got.Players[0].Callsign != "alice" {
		t.Errorf("callsign = %q, want alice", got.Players[0].Callsign)
	}
}

func TestFullInfoLongStride(t *testing.T) {
	// Rebuild the sample packet with 14-byte slots carrying color bytes.
	short := EncodeFullInfo(sampleFullInfo())
	long := make([]byte, 0, len(short)+2*fullInfoSlots)
	long = append(long, short[:fullInfoHeader]...)
	for i := 0; i < fullInfoSlots; i++ {
		off := fullInfoHeader + i*slotStrideShort
		long = append(long, short[off:off+slotStrideShort]...)
		long = append(long, byte(i), 0) // color, missile color
	}
	long = append(long, short[fullInfoHeader+fullInfoSlots*slotStrideShort:]...)

	got, err := DecodeFullInfo(long)
	if err != nil {
		t.Fatalf("DecodeFullInfo: %v", err)
	}
	if got.Players[1].Callsign != "bob" || got.Players[1].Color != 1 {
		t.Errorf("slot 1 = %+v, want bob with color 1", got.Players[1])
	}
	if got.KillMatrix[0][1] != 5 {
		t.Errorf("kill matrix [0][1] = %d, want 5", got.KillMatrix[0][1])
	}
}

func TestFullInfoTruncatedRejected(t *testing.T) {
	data := EncodeFullInfo(sampleFullInfo())[:200]
	_, err := DecodeFullInfo(data)
	var mp *MalformedPacketError
	if !errors.As(err, &mp) {
		t.Fatalf("want MalformedPacketError, got %v", err)
	}
}

func TestFullInfoPlayerPresence(t *testing.T) {
	empty := FullInfoPlayer{}
	if empty.Present() {
		t.Error("empty disconnected slot reported present")
	}
	named := FullInfoPlayer{Callsign: "zed"}
	if !named.Present() {
		t.Error("named slot reported absent")
	}
}
