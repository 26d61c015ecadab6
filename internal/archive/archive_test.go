package archive

import (
	"context"
	"testing"
	"time"

	"dxx-tracker/internal/protocol"
	"dxx-tracker/internal/registry"
)

func TestFinalID(t *testing.T) {
	started := time.Date(2024, 6, 1, 21, 30, 5, 0, time.UTC)

	cases := []struct {
		name     string
		gameName string
		want     string
	}{
		{"plain", "Lunar Outpost", "game-01-06-2024-21-30-05-lunar-outpost"},
		{"punctuation stripped", "!!ace's game!!", "game-01-06-2024-21-30-05-aces-game"},
		{"empty falls back", "", "game-01-06-2024-21-30-05-unnamed"},
		{"only punctuation", "???", "game-01-06-2024-21-30-05-unnamed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &registry.Match{
				FirstRegistered: started,
				Lite:            &protocol.LiteInfo{GameName: tc.gameName},
			}
			if got := FinalID(m); got != tc.want {
				t.Errorf("FinalID = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFinalIDPrefersFullInfoName(t *testing.T) {
	m := &registry.Match{
		FirstRegistered: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Lite:            &protocol.LiteInfo{GameName: "stale"},
		Full:            &protocol.FullInfo{GameName: "fresh"},
	}
	if got := FinalID(m); got != "game-01-06-2024-12-00-00-fresh" {
		t.Errorf("FinalID = %q", got)
	}
}

func TestNullSink(t *testing.T) {
	var s Sink = NullSink{}
	if err := s.Save(context.Background(), &registry.Match{}, nil); err != nil {
		t.Errorf("NullSink.Save: %v", err)
	}
}
