package esp3

import (
	"encoding/binary"
	"fmt"
)

// Sync starts every ESP3 frame
const Sync byte = 0x55

const (
	headerLen     = 4 // data length (2), optional length (1), packet type (1)
	maxDataLen    = 0xffff
	maxOptLen     = 0xff
	frameOverhead = 1 + headerLen + 1 + 1 // sync, header, header crc, data crc
)

// PacketType is the ESP3 packet type tag carried in the frame header
type PacketType byte

const (
	RadioERP1        PacketType = 0x01 // Radio telegram
	Response         PacketType = 0x02 // Response to any command
	RadioSubTel      PacketType = 0x03 // Radio subtelegram
	Event            PacketType = 0x04 // Event message
	CommonCommand    PacketType = 0x05 // Common command to the module
	SmartAckCommand  PacketType = 0x06
	RemoteManCommand PacketType = 0x07
	RadioMessage     PacketType = 0x09
	RadioERP2        PacketType = 0x0a
)

var packetTypeNames = map[PacketType]string{
	RadioERP1:        "RADIO_ERP1",
	Response:         "RESPONSE",
	RadioSubTel:      "RADIO_SUB_TEL",
	Event:            "EVENT",
	CommonCommand:    "COMMON_COMMAND",
	SmartAckCommand:  "SMART_ACK_COMMAND",
	RemoteManCommand: "REMOTE_MAN_COMMAND",
	RadioMessage:     "RADIO_MESSAGE",
	RadioERP2:        "RADIO_ERP2",
}

func (t PacketType) String() string {
	if s, ok := packetTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("PacketType(%#02x)", byte(t))
}

// Known reports whether t is a packet type defined by ESP3
func (t PacketType) Known() bool {
	_, ok := packetTypeNames[t]
	return ok
}

// Frame is one complete, checksum-valid unit off the wire
type Frame struct {
	Type     PacketType
	Data     []byte
	Optional []byte
}

// MarshalBinary encodes f including sync byte and both checksums
func (f Frame) MarshalBinary() ([]byte, error) {
	if len(f.Data) > maxDataLen || len(f.Optional) > maxOptLen {
		return nil, ErrFrameTooLarge
	}

	b := make([]byte, 0, frameOverhead+len(f.Data)+len(f.Optional))
	b = append(b, Sync)
	b = binary.BigEndian.AppendUint16(b, uint16(len(f.Data)))
	b = append(b, byte(len(f.Optional)), byte(f.Type))
	b = append(b, Crc8(b[1:1+headerLen]))
	b = append(b, f.Data...)
	b = append(b, f.Optional...)
	b = append(b, Crc8(b[2+headerLen:]))
	return b, nil
}

func (f Frame) String() string {
	return fmt.Sprintf("%v data='% x' opt='% x'", f.Type, f.Data, f.Optional)
}
