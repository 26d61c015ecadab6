package protocol

import (
	"encoding/binary"
)

// FULL-INFO (opcode 3) layout constants. The packet starts with a 7-byte
// header (op + three u16 version fields), then 12 fixed-size player slots,
// then a settings area. Two slot strides exist in the wild; the stride is
// selected from the total packet length.
const (
	fullInfoHeader = 7
	fullInfoSlots  = 12

	slotStrideShort = 12 // 9s callsign, u8 connected, u8 rank, u8 extra
	slotStrideLong  = 14 // adds u8 color, u8 missile color

	// Offsets inside the settings area.
	settingsName       = 0   // 16s netgame name
	settingsMission    = 16  // 26s mission title
	settingsMissionID  = 42  // 9s mission id
	settingsMode       = 51
	settingsRefuse     = 52
	settingsDifficulty = 53
	settingsStatus     = 54
	settingsNumPlayers = 55 // player count prior to the current join
	settingsMaxPlayers = 56
	settingsCurPlayers = 57
	settingsKillMatrix = 96  // 8x8 i16, row = killer slot
	settingsDeaths     = 224 // 8 i16
	settingsKills      = 240 // 8 i16
	settingsKillGoal   = 256
	settingsPlayTime   = 260
	settingsLevelTime  = 264
	settingsInvulTime  = 268
	settingsMonitor    = 272
	settingsScores     = 276 // 8 i32
	settingsSize       = 368
)

// MaxSlots is the number of real player slots in a netgame. The wire format
// reserves 12 slot entries but only the first 8 are ever populated.
const MaxSlots = 8

// FullInfoPlayer is one decoded player slot.
type FullInfoPlayer struct {
	Callsign  string
	Connected bool
	Rank      byte
	Color     byte
}

// Present reports whether the slot holds a real player. Empty-callsign
// disconnected slots are placeholder entries.
func (p *FullInfoPlayer) Present() bool {
	return p.Callsign != "" || p.Connected
}

// FullInfo is the decoded opcode 3 packet: player table, kill matrix and
// netgame settings.
type FullInfo struct {
	Major, Minor, Micro uint16
	Players             [MaxSlots]FullInfoPlayer
	GameName            string
	MissionTitle        string
	MissionName         string
	Mode                byte
	RefuseFlag          byte
	Difficulty          byte
	Status              byte
	NumPlayers          byte
	MaxPlayers          byte
	CurPlayers          byte
	KillMatrix          [MaxSlots][MaxSlots]int16
	Deaths              [MaxSlots]int16
	Kills               [MaxSlots]int16
	KillGoal            int32
	PlayTimeAllowed     int32
	LevelTime           int32
	ControlInvulTime    int32
	MonitorVector       int32
	Scores              [MaxSlots]int32
}

// slotStride picks the per-slot byte width from the total packet length.
// 519/520-byte packets use the short 12-byte slot; everything else carries
// the two extra color bytes. A third layout would need a new case here.
func slotStride(packetLen int) int {
	if packetLen == 519 || packetLen == 520 {
		return slotStrideShort
	}
	return slotStrideLong
}

// DecodeFullInfo decodes an opcode 3 packet.
func DecodeFullInfo(data []byte) (*FullInfo, error) {
	stride := slotStride(len(data))
	settingsOff := fullInfoHeader + fullInfoSlots*stride
	if len(data) < settingsOff+settingsScores+4*MaxSlots {
		return nil, malformed(OpFullInfo, "519/520 or stride-14 full info", len(data))
	}

	fi := &FullInfo{
		Major: binary.LittleEndian.Uint16(data[1:3]),
		Minor: binary.LittleEndian.Uint16(data[3:5]),
		Micro: binary.LittleEndian.Uint16(data[5:7]),
	}

	for i := 0; i < MaxSlots; i++ {
		off := fullInfoHeader + i*stride
		fi.Players[i] = FullInfoPlayer{
			Callsign:  cstr(data[off : off+9]),
			Connected: data[off+9] != 0,
			Rank:      data[off+10],
		}
		if stride == slotStrideLong {
			fi.Players[i].Color = data[off+12]
		}
	}

	s := data[settingsOff:]
	fi.GameName = cstr(s[settingsName : settingsName+16])
	fi.MissionTitle = cstr(s[settingsMission : settingsMission+26])
	fi.MissionName = cstr(s[settingsMissionID : settingsMissionID+9])
	fi.Mode = s[settingsMode]
	fi.RefuseFlag = s[settingsRefuse]
	fi.Difficulty = s[settingsDifficulty]
	fi.Status = s[settingsStatus]
	fi.NumPlayers = s[settingsNumPlayers]
	fi.MaxPlayers = s[settingsMaxPlayers]
	fi.CurPlayers = s[settingsCurPlayers]

	for row := 0; row < MaxSlots; row++ {
		for col := 0; col < MaxSlots; col++ {
			off := settingsKillMatrix + (row*MaxSlots+col)*2
			fi.KillMatrix[row][col] = int16(binary.LittleEndian.Uint16(s[off : off+2]))
		}
		fi.Deaths[row] = int16(binary.LittleEndian.Uint16(s[settingsDeaths+row*2 : settingsDeaths+row*2+2]))
		fi.Kills[row] = int16(binary.LittleEndian.Uint16(s[settingsKills+row*2 : settingsKills+row*2+2]))
		fi.Scores[row] = int32(binary.LittleEndian.Uint32(s[settingsScores+row*4 : settingsScores+row*4+4]))
	}
	fi.KillGoal = int32(binary.LittleEndian.Uint32(s[settingsKillGoal : settingsKillGoal+4]))
	fi.PlayTimeAllowed = int32(binary.LittleEndian.Uint32(s[settingsPlayTime : settingsPlayTime+4]))
	fi.LevelTime = int32(binary.LittleEndian.Uint32(s[settingsLevelTime : settingsLevelTime+4]))
	fi.ControlInvulTime = int32(binary.LittleEndian.Uint32(s[settingsInvulTime : settingsInvulTime+4]))
	fi.MonitorVector = int32(binary.LittleEndian.Uint32(s[settingsMonitor : settingsMonitor+4]))

	return fi, nil
}

// EncodeFullInfo builds a stride-12, 519-byte packet. Games never receive
// one from the tracker; tests use it to build decode fixtures.
func EncodeFullInfo(fi *FullInfo) []byte {
	stride := slotStrideShort
	settingsOff := fullInfoHeader + fullInfoSlots*stride
	data := make([]byte, settingsOff+settingsSize)
	data[0] = OpFullInfo
	binary.LittleEndian.PutUint16(data[1:3], fi.Major)
	binary.LittleEndian.PutUint16(data[3:5], fi.Minor)
	binary.LittleEndian.PutUint16(data[5:7], fi.Micro)

	for i := 0; i < MaxSlots; i++ {
		off := fullInfoHeader + i*stride
		putstr(data[off:off+9], fi.Players[i].Callsign)
		if fi.Players[i].Connected {
			data[off+9] = 1
		}
		data[off+10] = fi.Players[i].Rank
	}

	s := data[settingsOff:]
	putstr(s[settingsName:settingsName+16], fi.GameName)
	putstr(s[settingsMission:settingsMission+26], fi.MissionTitle)
	putstr(s[settingsMissionID:settingsMissionID+9], fi.MissionName)
	s[settingsMode] = fi.Mode
	s[settingsRefuse] = fi.RefuseFlag
	s[settingsDifficulty] = fi.Difficulty
	s[settingsStatus] = fi.Status
	s[settingsNumPlayers] = fi.NumPlayers
	s[settingsMaxPlayers] = fi.MaxPlayers
	s[settingsCurPlayers] = fi.CurPlayers

	for row := 0; row < MaxSlots; row++ {
		for col := 0; col < MaxSlots; col++ {
			off := settingsKillMatrix + (row*MaxSlots+col)*2
			binary.LittleEndian.PutUint16(s[off:off+2], uint16(fi.KillMatrix[row][col]))
		}
		binary.LittleEndian.PutUint16(s[settingsDeaths+row*2:settingsDeaths+row*2+2], uint16(fi.Deaths[row]))
		binary.LittleEndian.PutUint16(s[settingsKills+row*2:settingsKills+row*2+2], uint16(fi.Kills[row]))
		binary.LittleEndian.PutUint32(s[settingsScores+row*4:settingsScores+row*4+4], uint32(fi.Scores[row]))
	}
	binary.LittleEndian.PutUint32(s[settingsKillGoal:settingsKillGoal+4], uint32(fi.KillGoal))
	binary.LittleEndian.PutUint32(s[settingsPlayTime:settingsPlayTime+4], uint32(fi.PlayTimeAllowed))
	binary.LittleEndian.PutUint32(s[settingsLevelTime:settingsLevelTime+4], uint32(fi.LevelTime))
	binary.LittleEndian.PutUint32(s[settingsInvulTime:settingsInvulTime+4], uint32(fi.ControlInvulTime))
	binary.LittleEndian.PutUint32(s[settingsMonitor:settingsMonitor+4], uint32(fi.MonitorVector))

	return data
}
