package tracker

import (
	"fmt"
	"net"

	"dxx-tracker/internal/protocol"
	"dxx-tracker/internal/registry"
)

// HandlePacket dispatches one inbound datagram. Malformed packets are
// logged at debug and dropped; the protocol has no error replies.
func (e *Engine) HandlePacket(src *net.UDPAddr, data []byte) {
	if len(data) == 0 {
		return
	}

	switch data[0] {
	case protocol.OpRegister:
		e.handleRegister(src, data)
	case protocol.OpUnregister:
		// Opcode 1 is length-overloaded: 5 bytes unregister, 9 bytes
		// version-deny.
		switch len(data) {
		case 5:
			e.handleUnregister(src, data)
		case 9:
			e.handleVersionDeny(src, data)
		default:
			e.log.Debug("opcode 1 with unexpected length", "addr", src.String(), "len", len(data))
		}
	case protocol.OpGameList:
		e.handleGameListRequest(src, data)
	case protocol.OpFullInfo:
		e.handleFullInfo(src, data)
	case protocol.OpLiteInfo:
		e.handleLiteInfo(src, data)
	case protocol.OpPData:
		// Position data, high volume and no tracked content.
	case protocol.OpMDataNorm, protocol.OpMDataAck, protocol.OpObsData:
		e.handleMData(src, data)
	case protocol.OpGamelogKill:
		e.handleGamelogKill(src, data)
	case protocol.OpGamelogChat:
		e.handleGamelogChat(src, data)
	case protocol.OpWebUIPing:
		if protocol.IsWebUIPing(data) {
			e.send(src, protocol.EncodePong(uint32(e.now().Unix())))
		}
	default:
		e.log.Debug("unknown opcode", "addr", src.String(), "opcode", data[0], "len", len(data))
	}
}

func (e *Engine) handleRegister(src *net.UDPAddr, data []byte) {
	reg, err := protocol.DecodeRegister(data)
	if err != nil {
		e.log.Debug("bad register", "addr", src.String(), "error", err)
		return
	}
	// Ports below 1024 are never real DXX game ports; such announcements
	// are junk or probes.
	if reg.GamePort < 1024 {
		e.log.Debug("register with privileged game port dropped", "addr", src.String(), "port", reg.GamePort)
		return
	}

	m, created, replaced := e.reg.UpsertOnRegister(src, reg)
	if replaced {
		e.merger.Forget(m.Key)
		e.notify.MatchRemoved(m.Key)
	}
	if created {
		e.log.Info("match registered",
			"match", string(m.Key),
			"game", m.GameID,
			"version", m.Version,
			"release", releaseTag(m.Major, m.Minor, m.Micro))
	}
	// Lite probe only; the record is announced once the response confirms
	// it, and full probes start on the next poll tick after that.
	e.probeLite(&m)
}

func (e *Engine) handleUnregister(src *net.UDPAddr, data []byte) {
	gameID, err := protocol.DecodeUnregister(data)
	if err != nil {
		return
	}
	m, ok := e.reg.RemoveByGameID(src.IP.String(), gameID)
	if !ok {
		e.log.Debug("unregister for unknown game", "addr", src.String(), "game", gameID)
		return
	}
	e.log.Info("match unregistered", "match", string(m.Key), "game", gameID)
	e.merger.Forget(m.Key)
	e.notify.MatchRemoved(m.Key)
}

func (e *Engine) handleVersionDeny(src *net.UDPAddr, data []byte) {
	vd, err := protocol.DecodeVersionDeny(data)
	if err != nil {
		return
	}
	if n := e.reg.ApplyVersionDeny(src.IP.String(), vd.NetgameProto); n > 0 {
		e.log.Debug("learned netgame protocol",
			"addr", src.IP.String(), "proto", vd.NetgameProto, "matches", n)
	}
}

func (e *Engine) handleGameListRequest(src *net.UDPAddr, data []byte) {
	version, err := protocol.DecodeGameListRequest(data)
	if err != nil {
		return
	}
	for _, m := range e.reg.Confirmed(byte(version)) {
		if m.Lite == nil {
			continue
		}
		entry := protocol.GameListEntry{
			IP:   m.HostIP,
			Port: m.GamePort,
			Info: *m.Lite,
		}
		e.send(src, protocol.EncodeGameListEntry(&entry))
	}
}

func (e *Engine) handleFullInfo(src *net.UDPAddr, data []byte) {
	fi, err := protocol.DecodeFullInfo(data)
	if err != nil {
		e.log.Debug("bad full info", "addr", src.String(), "error", err)
		return
	}
	key, ok := e.reg.ResolveAddr(src.IP.String(), uint16(src.Port))
	if !ok {
		return
	}
	m, confirmed, err := e.reg.ApplyFull(key, fi)
	if err != nil {
		return
	}
	if confirmed {
		e.confirm(&m)
		e.notify.MatchNew(m)
		return
	}
	e.notify.MatchUpdate(m)
}

func (e *Engine) handleLiteInfo(src *net.UDPAddr, data []byte) {
	li, err := protocol.DecodeLiteInfo(data)
	if err != nil {
		e.log.Debug("bad lite info", "addr", src.String(), "error", err)
		return
	}
	key, ok := e.reg.ResolveAddr(src.IP.String(), uint16(src.Port))
	if !ok {
		return
	}
	m, confirmed, err := e.reg.ApplyLite(key, li)
	if err != nil {
		e.log.Debug("lite info rejected", "match", string(key), "error", err)
		return
	}
	if confirmed {
		e.confirm(&m)
		e.notify.MatchNew(m)
		return
	}
	e.notify.MatchUpdate(m)
}

// confirm fires once per lifecycle, on the pending to confirmed edge.
func (e *Engine) confirm(m *registry.Match) {
	if m.AckSent {
		return
	}
	e.reg.MarkAckSent(m.Key)
	e.log.Info("match confirmed", "match", string(m.Key), "game", m.GameID)
	e.sendAckTriplet(m.SourceAddr)
}

func (e *Engine) handleMData(src *net.UDPAddr, data []byte) {
	events, err := protocol.DecodeMData(data)
	if err != nil {
		return
	}
	key, ok := e.reg.ResolveAddr(src.IP.String(), uint16(src.Port))
	if !ok {
		return
	}
	m, _ := e.reg.Lookup(key)
	names := m.DisplayNames()

	for _, me := range events {
		ev := registry.Event{
			KillerSlot: -1,
			VictimSlot: -1,
			ReceivedAt: e.now(),
			Source:     registry.SourceUDP,
		}
		switch me.Tag {
		case protocol.MultiKill:
			ev.Type = registry.EventKill
			ev.KillerSlot = int(me.Killer)
			ev.VictimSlot = int(me.Victim)
			ev.Killer = slotName(names, int(me.Killer))
			ev.Victim = slotName(names, int(me.Victim))
		case protocol.MultiPlayerExplode:
			ev.Type = registry.EventDeath
			ev.VictimSlot = int(me.Slot)
			ev.Victim = slotName(names, int(me.Slot))
		case protocol.MultiMessage, protocol.MultiObsMessage:
			ev.Type = registry.EventChat
			ev.Sender = slotName(names, int(me.Sender))
			ev.Text = me.Text
			ev.Observer = me.Tag == protocol.MultiObsMessage
		case protocol.MultiQuit:
			ev.Type = registry.EventQuit
			ev.Sender = slotName(names, int(me.Slot))
		default:
			continue
		}
		e.ingest(key, ev)
	}
}

func (e *Engine) handleGamelogKill(src *net.UDPAddr, data []byte) {
	k, err := protocol.DecodeGamelogKill(data)
	if err != nil {
		return
	}
	key, ok := e.reg.ResolveAddr(src.IP.String(), uint16(src.Port))
	if !ok {
		return
	}
	m, _ := e.reg.Lookup(key)
	names := m.DisplayNames()

	e.ingest(key, registry.Event{
		Type:       registry.EventKill,
		KillerSlot: int(k.KillerSlot),
		VictimSlot: int(k.VictimSlot),
		Killer:     slotName(names, int(k.KillerSlot)),
		Victim:     slotName(names, int(k.VictimSlot)),
		Weapon:     protocol.WeaponName(k.WeaponID),
		GameTimeUS: k.GameTimeUS,
		ReceivedAt: e.now(),
		Source:     registry.SourceUDP,
	})
}

func (e *Engine) handleGamelogChat(src *net.UDPAddr, data []byte) {
	c, err := protocol.DecodeGamelogChat(data)
	if err != nil || c.Message == "" {
		return
	}
	key, ok := e.reg.ResolveAddr(src.IP.String(), uint16(src.Port))
	if !ok {
		return
	}
	m, _ := e.reg.Lookup(key)
	names := m.DisplayNames()

	e.ingest(key, registry.Event{
		Type:       registry.EventChat,
		Sender:     slotName(names, int(c.SenderSlot)),
		Text:       c.Message,
		GameTimeUS: c.GameTimeUS,
		ReceivedAt: e.now(),
		Source:     registry.SourceUDP,
	})
}

func (e *Engine) ingest(key registry.Key, ev registry.Event) {
	added, err := e.merger.Ingest(e.reg, key, ev)
	if err != nil || !added {
		return
	}
	e.notify.MatchEvent(key, ev)
}

func slotName(names [protocol.MaxSlots]string, slot int) string {
	if slot < 0 || slot >= protocol.MaxSlots {
		return ""
	}
	return names[slot]
}

func releaseTag(major, minor, micro uint16) string {
	return fmt.Sprintf("%d.%d.%d", major, minor, micro)
}
