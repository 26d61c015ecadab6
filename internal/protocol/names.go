package protocol

import "fmt"

// Weapon id tables, indexed by the weapon-id byte of GAMELOG-KILL packets.
// Ids follow the DXX weapon_info table; the D2 table extends the D1 one.
var d1WeaponNames = map[byte]string{
	0:  "Laser",
	1:  "Laser Lvl 2",
	2:  "Laser Lvl 3",
	3:  "Laser Lvl 4",
	8:  "Concussion Missile",
	9:  "Flare",
	11: "Vulcan Cannon",
	12: "Spreadfire Cannon",
	13: "Plasma Cannon",
	14: "Fusion Cannon",
	15: "Homing Missile",
	16: "Proximity Bomb",
	17: "Smart Missile",
	18: "Mega Missile",
}

var d2WeaponNames = map[byte]string{
	30: "Super Laser",
	32: "Gauss Cannon",
	33: "Helix Cannon",
	34: "Phoenix Cannon",
	35: "Omega Cannon",
	36: "Flash Missile",
	37: "Guided Missile",
	38: "Super Proximity Bomb",
	39: "Mercury Missile",
	40: "Earthshaker Missile",
	41: "Smart Mine",
}

// Multiplayer rank names as shown by Rebirth.
var rankNames = []string{
	"", "Cadet", "Ensign", "Lieutenant", "Lt.Commander",
	"Commander", "Captain", "Vice Admiral", "Admiral", "Demigod",
}

// WeaponName resolves a GAMELOG-KILL weapon id to a display name. Unknown
// ids fall back to a numeric label so the kill feed never loses an entry.
func WeaponName(weaponID byte) string {
	if name, ok := d1WeaponNames[weaponID]; ok {
		return name
	}
	if name, ok := d2WeaponNames[weaponID]; ok {
		return name
	}
	return fmt.Sprintf("Weapon %d", weaponID)
}

// RankName resolves a player slot rank byte; 0 and out-of-range ranks
// render as an empty string.
func RankName(rank byte) string {
	if int(rank) < len(rankNames) {
		return rankNames[rank]
	}
	return ""
}
