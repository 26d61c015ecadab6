// Package protocol implements the PyTracker-compatible wire format spoken by
// DXX-Redux/Rebirth game hosts. All multi-byte integers are little-endian and
// string fields are fixed-width null-padded ASCII. The package only encodes
// and decodes byte slices; it never touches the network.
package protocol

// Opcodes, as sent in the first byte of every datagram.
const (
	OpRegister     = 0  // game -> tracker, announce a hosted game
	OpUnregister   = 1  // 5 bytes: drop by game id; 9 bytes: version-deny
	OpGameList     = 2  // 3 bytes in: list request; 13 bytes out: full info request
	OpFullInfo     = 3  // game -> tracker, player table + kill matrix
	OpLiteInfoReq  = 4  // tracker -> game
	OpLiteInfo     = 5  // game -> tracker, 73 bytes of scalars
	OpPData        = 13 // position stream, ignored
	OpMDataNorm    = 19 // multiplayer data, may embed MULTI submessages
	OpMDataAck     = 20 // as 19 plus a packet number
	OpRegisterAck  = 21 // tracker -> game, single byte
	OpGameListResp = 22 // tracker -> client, one frame per confirmed game
	OpObsData      = 25 // observer data, handled like MDATA
	OpGamelogKill  = 31 // game -> tracker, 13 bytes
	OpGamelogChat  = 32 // game -> tracker, >= 11 bytes
	OpWebUIPing    = 99 // "ping" -> "pong" + unix seconds
)

// MULTI submessage tags embedded in MDATA payloads. Everything else is
// position/fire traffic the tracker does not care about.
const (
	MultiKill          = 3
	MultiPlayerExplode = 5
	MultiMessage       = 6
	MultiQuit          = 7
	MultiObsMessage    = 61
)

// DXX major versions carried in REGISTER and game list requests.
const (
	VersionD1 = 1
	VersionD2 = 2
)

// Netgame modes (lite and full info).
const (
	ModeAnarchy = iota
	ModeTeamAnarchy
	ModeRoboAnarchy
	ModeCooperative
	ModeCaptureFlag
	ModeHoard
	ModeTeamHoard
	ModeBounty
)

// Netgame status values.
const (
	StatusMenu = iota
	StatusPlaying
	StatusBetween
	StatusEndLevel
	StatusForming
)

var modeNames = map[byte]string{
	ModeAnarchy:     "Anarchy",
	ModeTeamAnarchy: "Team Anarchy",
	ModeRoboAnarchy: "Robo Anarchy",
	ModeCooperative: "Cooperative",
	ModeCaptureFlag: "Capture Flag",
	ModeHoard:       "Hoard",
	ModeTeamHoard:   "Team Hoard",
	ModeBounty:      "Bounty",
}

var statusNames = map[byte]string{
	StatusMenu:     "Menu",
	StatusPlaying:  "Playing",
	StatusBetween:  "Between",
	StatusEndLevel: "EndLevel",
	StatusForming:  "Forming",
}

// ModeName returns the display name for a netgame mode byte.
func ModeName(mode byte) string {
	if name, ok := modeNames[mode]; ok {
		return name
	}
	return "Unknown"
}

// StatusName returns the display name for a netgame status byte.
func StatusName(status byte) string {
	if name, ok := statusNames[status]; ok {
		return name
	}
	return "Unknown"
}

// RequestID returns the 4-byte ASCII request id for a DXX major version,
// as used in lite and full info requests.
func RequestID(version byte) string {
	if version == VersionD2 {
		return "D2XR"
	}
	return "D1XR"
}
