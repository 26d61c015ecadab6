package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// MalformedPacketError reports a datagram whose length does not match any
// accepted layout for its opcode.
type MalformedPacketError struct {
	Opcode byte
	Want   string // human description of the accepted length(s)
	Got    int
}

func (e *MalformedPacketError) Error() string {
	return fmt.Sprintf("malformed packet: opcode %d wants %s bytes, got %d", e.Opcode, e.Want, e.Got)
}

func malformed(opcode byte, want string, got int) error {
	return &MalformedPacketError{Opcode: opcode, Want: want, Got: got}
}

// cstr decodes a fixed-width null-padded ASCII field: cut at the first NUL,
// then drop anything outside printable ASCII.
func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			b = b[:i]
			break
		}
	}
	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 && c <= 0x7e {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// putstr writes s into a fixed-width field, truncating and null-padding.
func putstr(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// Register is the opcode 0 announcement a game host sends on startup.
type Register struct {
	TrackerVer byte
	Version    byte // VersionD1 or VersionD2
	GamePort   uint16
	GameID     uint32
	Major      uint16
	Minor      uint16
	Micro      uint16
}

// DecodeRegister accepts the 15-byte layout (u16 micro) and the older
// 14-byte layout (u8 micro).
func DecodeRegister(data []byte) (*Register, error) {
	if len(data) != 14 && len(data) != 15 {
		return nil, malformed(OpRegister, "14 or 15", len(data))
	}
	r := &Register{
		TrackerVer: data[1],
		Version:    data[2],
		GamePort:   binary.LittleEndian.Uint16(data[3:5]),
		GameID:     binary.LittleEndian.Uint32(data[5:9]),
		Major:      binary.LittleEndian.Uint16(data[9:11]),
		Minor:      binary.LittleEndian.Uint16(data[11:13]),
	}
	if len(data) == 15 {
		r.Micro = binary.LittleEndian.Uint16(data[13:15])
	} else {
		r.Micro = uint16(data[13])
	}
	return r, nil
}

// DecodeUnregister decodes the 5-byte opcode 1 variant carrying a game id.
func DecodeUnregister(data []byte) (uint32, error) {
	if len(data) != 5 {
		return 0, malformed(OpUnregister, "5", len(data))
	}
	return binary.LittleEndian.Uint32(data[1:5]), nil
}

// VersionDeny is the 9-byte opcode 1 variant a game answers a full info
// request with when the request's netgame protocol does not match its own.
type VersionDeny struct {
	Major, Minor, Micro uint16
	NetgameProto        uint16
}

func DecodeVersionDeny(data []byte) (*VersionDeny, error) {
	if len(data) != 9 {
		return nil, malformed(OpUnregister, "9", len(data))
	}
	return &VersionDeny{
		Major:        binary.LittleEndian.Uint16(data[1:3]),
		Minor:        binary.LittleEndian.Uint16(data[3:5]),
		Micro:        binary.LittleEndian.Uint16(data[5:7]),
		NetgameProto: binary.LittleEndian.Uint16(data[7:9]),
	}, nil
}

// DecodeGameListRequest decodes the 3-byte opcode 2 ingress variant and
// returns the requested DXX version discriminator (1 or 2).
func DecodeGameListRequest(data []byte) (uint16, error) {
	if len(data) != 3 {
		return 0, malformed(OpGameList, "3", len(data))
	}
	return binary.LittleEndian.Uint16(data[1:3]), nil
}

// LiteInfo is the 73-byte fixed game state announcement.
type LiteInfo struct {
	Major, Minor, Micro uint16
	GameID              uint32
	GameName            string
	MissionTitle        string
	MissionName         string
	LevelNum            uint32
	Mode                byte
	RefuseFlag          byte
	Difficulty          byte
	Status              byte
	NumPlayers          byte
	MaxPlayers          byte
	Flags               byte
}

const liteInfoSize = 73

func DecodeLiteInfo(data []byte) (*LiteInfo, error) {
	if len(data) != liteInfoSize {
		return nil, malformed(OpLiteInfo, "73", len(data))
	}
	return &LiteInfo{
		Major:        binary.LittleEndian.Uint16(data[1:3]),
		Minor:        binary.LittleEndian.Uint16(data[3:5]),
		Micro:        binary.LittleEndian.Uint16(data[5:7]),
		GameID:       binary.LittleEndian.Uint32(data[7:11]),
		GameName:     cstr(data[11:27]),
		MissionTitle: cstr(data[27:53]),
		MissionName:  cstr(data[53:62]),
		LevelNum:     binary.LittleEndian.Uint32(data[62:66]),
		Mode:         data[66],
		RefuseFlag:   data[67],
		Difficulty:   data[68],
		Status:       data[69],
		NumPlayers:   data[70],
		MaxPlayers:   data[71],
		Flags:        data[72],
	}, nil
}

// EncodeLiteInfo builds a 73-byte lite info packet. The tracker itself never
// sends one; this is the inverse used by tests and by the game list encoder's
// fixtures.
func EncodeLiteInfo(li *LiteInfo) []byte {
	buf := make([]byte, liteInfoSize)
	buf[0] = OpLiteInfo
	binary.LittleEndian.PutUint16(buf[1:3], li.Major)
	binary.LittleEndian.PutUint16(buf[3:5], li.Minor)
	binary.LittleEndian.PutUint16(buf[5:7], li.Micro)
	binary.LittleEndian.PutUint32(buf[7:11], li.GameID)
	putstr(buf[11:27], li.GameName)
	putstr(buf[27:53], li.MissionTitle)
	putstr(buf[53:62], li.MissionName)
	binary.LittleEndian.PutUint32(buf[62:66], li.LevelNum)
	buf[66] = li.Mode
	buf[67] = li.RefuseFlag
	buf[68] = li.Difficulty
	buf[69] = li.Status
	buf[70] = li.NumPlayers
	buf[71] = li.MaxPlayers
	buf[72] = li.Flags
	return buf
}

// EncodeLiteInfoRequest builds the 11-byte opcode 4 probe.
func EncodeLiteInfoRequest(version byte, major, minor, micro uint16) []byte {
	buf := make([]byte, 11)
	buf[0] = OpLiteInfoReq
	copy(buf[1:5], RequestID(version))
	binary.LittleEndian.PutUint16(buf[5:7], major)
	binary.LittleEndian.PutUint16(buf[7:9], minor)
	binary.LittleEndian.PutUint16(buf[9:11], micro)
	return buf
}

// EncodeFullInfoRequest builds the 13-byte opcode 2 egress probe. A proto of
// 0 provokes a version-deny response that teaches the game's real protocol.
func EncodeFullInfoRequest(version byte, major, minor, micro, netgameProto uint16) []byte {
	buf := make([]byte, 13)
	buf[0] = OpGameList
	copy(buf[1:5], RequestID(version))
	binary.LittleEndian.PutUint16(buf[5:7], major)
	binary.LittleEndian.PutUint16(buf[7:9], minor)
	binary.LittleEndian.PutUint16(buf[9:11], micro)
	binary.LittleEndian.PutUint16(buf[11:13], netgameProto)
	return buf
}

// EncodeRegisterAck builds the single-byte opcode 21 acknowledgement.
func EncodeRegisterAck() []byte {
	return []byte{OpRegisterAck}
}

// GameListEntry is one opcode 22 frame of a game list response.
type GameListEntry struct {
	IPv6 bool
	IP   string // dotted ASCII, NUL-terminated on the wire
	Port uint16
	Info LiteInfo
}

// EncodeGameListEntry serializes one confirmed game for a list request.
func EncodeGameListEntry(e *GameListEntry) []byte {
	buf := make([]byte, 0, 4+len(e.IP)+liteInfoSize)
	buf = append(buf, OpGameListResp)
	if e.IPv6 {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, []byte(e.IP)...)
	buf = append(buf, 0)
	buf = binary.LittleEndian.AppendUint16(buf, e.Port)
	buf = binary.LittleEndian.AppendUint16(buf, e.Info.Major)
	buf = binary.LittleEndian.AppendUint16(buf, e.Info.Minor)
	buf = binary.LittleEndian.AppendUint16(buf, e.Info.Micro)
	buf = binary.LittleEndian.AppendUint32(buf, e.Info.GameID)
	fixed := make([]byte, 16+26+9)
	putstr(fixed[0:16], e.Info.GameName)
	putstr(fixed[16:42], e.Info.MissionTitle)
	putstr(fixed[42:51], e.Info.MissionName)
	buf = append(buf, fixed...)
	buf = binary.LittleEndian.AppendUint32(buf, e.Info.LevelNum)
	buf = append(buf, e.Info.Mode, e.Info.RefuseFlag, e.Info.Difficulty,
		e.Info.Status, e.Info.NumPlayers, e.Info.MaxPlayers, e.Info.Flags)
	buf = append(buf, 0) // padding
	return buf
}

// DecodeGameListEntry is the inverse of EncodeGameListEntry.
func DecodeGameListEntry(data []byte) (*GameListEntry, error) {
	// opcode + flag + empty ip + NUL + fixed tail
	const fixedTail = 2 + 6 + 4 + 51 + 4 + 7 + 1
	if len(data) < 3+fixedTail {
		return nil, malformed(OpGameListResp, fmt.Sprintf(">= %d", 3+fixedTail), len(data))
	}
	e := &GameListEntry{IPv6: data[1] == 1}
	pos := 2
	for pos < len(data) && data[pos] != 0 {
		pos++
	}
	if pos == len(data) {
		return nil, malformed(OpGameListResp, "NUL-terminated ip", len(data))
	}
	e.IP = cstr(data[2:pos])
	pos++ // NUL
	if len(data)-pos != fixedTail {
		return nil, malformed(OpGameListResp, fmt.Sprintf("%d after ip", fixedTail), len(data))
	}
	e.Port = binary.LittleEndian.Uint16(data[pos : pos+2])
	pos += 2
	e.Info.Major = binary.LittleEndian.Uint16(data[pos : pos+2])
	e.Info.Minor = binary.LittleEndian.Uint16(data[pos+2 : pos+4])
	e.Info.Micro = binary.LittleEndian.Uint16(data[pos+4 : pos+6])
	pos += 6
	e.Info.GameID = binary.LittleEndian.Uint32(data[pos : pos+4])
	pos += 4
	e.Info.GameName = cstr(data[pos : pos+16])
	e.Info.MissionTitle = cstr(data[pos+16 : pos+42])
	e.Info.MissionName = cstr(data[pos+42 : pos+51])
	pos += 51
	e.Info.LevelNum = binary.LittleEndian.Uint32(data[pos : pos+4])
	pos += 4
	e.Info.Mode = data[pos]
	e.Info.RefuseFlag = data[pos+1]
	e.Info.Difficulty = data[pos+2]
	e.Info.Status = data[pos+3]
	e.Info.NumPlayers = data[pos+4]
	e.Info.MaxPlayers = data[pos+5]
	e.Info.Flags = data[pos+6]
	return e, nil
}

// GamelogKill is the opcode 31 in-game kill notification.
type GamelogKill struct {
	GameTimeUS uint64 // game-internal microsecond counter
	KillerSlot byte
	VictimSlot byte
	WeaponType byte
	WeaponID   byte
}

func DecodeGamelogKill(data []byte) (*GamelogKill, error) {
	if len(data) != 13 {
		return nil, malformed(OpGamelogKill, "13", len(data))
	}
	return &GamelogKill{
		GameTimeUS: binary.LittleEndian.Uint64(data[1:9]),
		KillerSlot: data[9],
		VictimSlot: data[10],
		WeaponType: data[11],
		WeaponID:   data[12],
	}, nil
}

// GamelogChat is the opcode 32 in-game chat notification.
type GamelogChat struct {
	GameTimeUS uint64
	SenderSlot byte
	Message    string
}

func DecodeGamelogChat(data []byte) (*GamelogChat, error) {
	if len(data) < 11 {
		return nil, malformed(OpGamelogChat, ">= 11", len(data))
	}
	msg := make([]byte, 0, len(data)-10)
	for _, c := range data[10:] {
		if c != 0 {
			msg = append(msg, c)
		}
	}
	return &GamelogChat{
		GameTimeUS: binary.LittleEndian.Uint64(data[1:9]),
		SenderSlot: data[9],
		Message:    strings.TrimSpace(string(msg)),
	}, nil
}

// IsWebUIPing reports whether a datagram is the dashboard's keepalive probe.
func IsWebUIPing(data []byte) bool {
	return len(data) >= 5 && data[0] == OpWebUIPing && string(data[1:5]) == "ping"
}

// EncodePong builds the 8-byte reply to a web-UI ping.
func EncodePong(unixSeconds uint32) []byte {
	buf := make([]byte, 8)
	copy(buf[0:4], "pong")
	binary.LittleEndian.PutUint32(buf[4:8], unixSeconds)
	return buf
}
