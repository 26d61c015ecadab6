package protocol

// MultiEvent is one submessage extracted from an MDATA or OBSDATA payload.
type MultiEvent struct {
	Tag    byte
	Killer byte   // MultiKill
	Victim byte   // MultiKill
	Slot   byte   // MultiPlayerExplode, MultiQuit
	Sender byte   // MultiMessage, MultiObsMessage
	Text   string // MultiMessage, MultiObsMessage
}

// DecodeMData extracts the tracker-relevant submessages from an opcode
// 19/20/25 datagram. Opcode 20 carries a u32 packet number between the
// sender slot and the multibuf. The multibuf is scanned front to back;
// scanning stops at the first tag whose length is unknown, since MULTI
// submessages are not self-delimiting.
func DecodeMData(data []byte) ([]MultiEvent, error) {
	if len(data) == 0 {
		return nil, malformed(OpMDataNorm, ">= 6", 0)
	}
	headerLen := 6 // op, u32 token, u8 sender slot
	if data[0] == OpMDataAck {
		headerLen = 10
	}
	if len(data) < headerLen {
		return nil, malformed(data[0], ">= 6 (>= 10 for ack)", len(data))
	}

	var events []MultiEvent
	buf := data[headerLen:]
	pos := 0
	for pos < len(buf) {
		switch buf[pos] {
		case MultiKill:
			if pos+3 > len(buf) {
				return events, nil
			}
			events = append(events, MultiEvent{Tag: MultiKill, Killer: buf[pos+1], Victim: buf[pos+2]})
			pos += 3
		case MultiPlayerExplode, MultiQuit:
			if pos+2 > len(buf) {
				return events, nil
			}
			events = append(events, MultiEvent{Tag: buf[pos], Slot: buf[pos+1]})
			pos += 2
		case MultiMessage, MultiObsMessage:
			if pos+2 > len(buf) {
				return events, nil
			}
			tag := buf[pos]
			sender := buf[pos+1]
			end := pos + 2
			for end < len(buf) && buf[end] != 0 {
				end++
			}
			events = append(events, MultiEvent{
				Tag:    tag,
				Sender: sender,
				Text:   cstr(buf[pos+2 : end]),
			})
			if end < len(buf) {
				end++ // consume the NUL
			}
			pos = end
		default:
			// Position, fire and the rest of the MULTI namespace: not
			// parsed, and without a length table we cannot skip them.
			return events, nil
		}
	}
	return events, nil
}
