package esp3

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Kind is the decoded variant of a Packet
type Kind byte

const (
	KindUnrecognized Kind = iota // Packet type tag unknown to ESP3
	KindTelegram                 // RADIO_ERP1 telegram from a field device
	KindResponse                 // RESPONSE to a command
	KindEvent                    // EVENT from the module
	KindOther                    // Known packet type without further decoding
)

func (k Kind) String() string {
	switch k {
	case KindUnrecognized:
		return "unrecognized"
	case KindTelegram:
		return "telegram"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	case KindOther:
		return "other"
	}
	return fmt.Sprintf("Kind(%d)", byte(k))
}

// Return codes of RESPONSE packets
const (
	RetOK              byte = 0x00
	RetError           byte = 0x01
	RetNotSupported    byte = 0x02
	RetWrongParam      byte = 0x03
	RetOperationDenied byte = 0x04
)

const (
	senderLen   = 4
	minTelegram = 1 + senderLen + 1 // RORG, sender, status
)

// SenderID is the 32 bit EnOcean chip or base id of a transmitter
type SenderID uint32

func (id SenderID) String() string {
	return fmt.Sprintf("%08x", uint32(id))
}

// MarshalText renders the id the way it is shown on device labels
func (id SenderID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses ids written by MarshalText
func (id *SenderID) UnmarshalText(b []byte) error {
	v, err := ParseSenderID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// ParseSenderID parses an 8 digit hex id like "01825dab"
func ParseSenderID(s string) (SenderID, error) {
	if len(s) != 8 {
		return 0, fmt.Errorf("esp3: invalid sender id %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("esp3: invalid sender id %q: %w", s, err)
	}
	return SenderID(v), nil
}

// Optional holds the optional block of a RADIO_ERP1 packet
type Optional struct {
	SubTelNum   byte
	Destination SenderID
	DBm         int // Best RSSI of all subtelegrams, negative
	Security    byte
}

// Packet is the typed interpretation of a Frame
type Packet struct {
	Type PacketType
	Kind Kind

	// RADIO_ERP1 only
	RORG     byte
	Sender   SenderID
	Status   byte
	Payload  []byte
	Optional *Optional

	// RESPONSE and EVENT only
	ReturnCode byte
	EventCode  byte

	// Data following the return or event code; the whole data block for KindOther
	Data []byte
}

// DBm returns the signal strength and whether it was present in the optional block
func (p Packet) DBm() (int, bool) {
	if p.Optional == nil {
		return 0, false
	}
	return p.Optional.DBm, true
}

func (p Packet) String() string {
	switch p.Kind {
	case KindTelegram:
		return fmt.Sprintf("%v rorg=%#02x sender=%v payload='% x' status=%#02x", p.Type, p.RORG, p.Sender, p.Payload, p.Status)
	case KindResponse:
		return fmt.Sprintf("%v ret=%#02x data='% x'", p.Type, p.ReturnCode, p.Data)
	case KindEvent:
		return fmt.Sprintf("%v event=%#02x data='% x'", p.Type, p.EventCode, p.Data)
	}
	return fmt.Sprintf("%v data='% x'", p.Type, p.Data)
}

// Decode interprets a frame. Unknown packet types are returned as KindUnrecognized without an error.
func Decode(f Frame) (Packet, error) {
	p := Packet{Type: f.Type}

	switch f.Type {
	case RadioERP1:
		p.Kind = KindTelegram
		d := f.Data
		if len(d) < minTelegram {
			return p, fmt.Errorf("%w: telegram of %d bytes", ErrShortPacket, len(d))
		}
		p.RORG = d[0]
		p.Payload = d[1 : len(d)-senderLen-1]
		p.Sender = SenderID(binary.BigEndian.Uint32(d[len(d)-senderLen-1:]))
		p.Status = d[len(d)-1]
		p.Optional = decodeOptional(f.Optional)
	case Response:
		p.Kind = KindResponse
		if len(f.Data) < 1 {
			return p, fmt.Errorf("%w: empty response", ErrShortPacket)
		}
		p.ReturnCode = f.Data[0]
		p.Data = f.Data[1:]
	case Event:
		p.Kind = KindEvent
		if len(f.Data) < 1 {
			return p, fmt.Errorf("%w: empty event", ErrShortPacket)
		}
		p.EventCode = f.Data[0]
		p.Data = f.Data[1:]
	default:
		if f.Type.Known() {
			p.Kind = KindOther
		} else {
			p.Kind = KindUnrecognized
		}
		p.Data = f.Data
	}
	return p, nil
}

// decodeOptional returns nil if the block is too short to carry a signal strength
func decodeOptional(b []byte) *Optional {
	if len(b) < 6 {
		return nil
	}
	o := &Optional{
		SubTelNum:   b[0],
		Destination: SenderID(binary.BigEndian.Uint32(b[1:5])),
		DBm:         -int(b[5]),
	}
	if len(b) > 6 {
		o.Security = b[6]
	}
	return o
}
