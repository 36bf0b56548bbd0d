package esp3

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// CommandCode is the first data byte of a COMMON_COMMAND packet
type CommandCode byte

// Common command codes sent to the transceiver module
const (
	CoWrSleep     CommandCode = 0x01
	CoWrReset     CommandCode = 0x02
	CoRdVersion   CommandCode = 0x03
	CoRdSysLog    CommandCode = 0x04
	CoWrBIST      CommandCode = 0x06
	CoWrIDBase    CommandCode = 0x07
	CoRdIDBase    CommandCode = 0x08
	CoWrRepeater  CommandCode = 0x09
	CoRdRepeater  CommandCode = 0x0a
	CoWrLearnMode CommandCode = 0x17
	CoRdLearnMode CommandCode = 0x18
	CoRdDutyCycle CommandCode = 0x23
)

// Broadcast is the destination id of telegrams not addressed to a single device
const Broadcast SenderID = 0xffffffff

// VersionInfo is the answer to CO_RD_VERSION
type VersionInfo struct {
	AppVersion  [4]byte  `json:"-"`
	APIVersion  [4]byte  `json:"-"`
	ChipID      SenderID `json:"chip_id"`
	ChipVersion uint32   `json:"chip_version"`
	Description string   `json:"description"`
}

// App returns the application version as dotted string
func (v VersionInfo) App() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.AppVersion[0], v.AppVersion[1], v.AppVersion[2], v.AppVersion[3])
}

// API returns the API version as dotted string
func (v VersionInfo) API() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.APIVersion[0], v.APIVersion[1], v.APIVersion[2], v.APIVersion[3])
}

// NewCommonCommand builds a COMMON_COMMAND frame with the given code and arguments
func NewCommonCommand(code CommandCode, args ...byte) Frame {
	d := make([]byte, 0, 1+len(args))
	d = append(d, byte(code))
	d = append(d, args...)
	return Frame{Type: CommonCommand, Data: d}
}

// ReadIDBase asks the module for its base id
func ReadIDBase() Frame {
	return NewCommonCommand(CoRdIDBase)
}

// ReadVersion asks the module for its version and chip id
func ReadVersion() Frame {
	return NewCommonCommand(CoRdVersion)
}

func checkResponse(p Packet, n int) error {
	if p.Kind != KindResponse {
		return fmt.Errorf("esp3: expected %v, got %v", Response, p.Type)
	}
	if p.ReturnCode != RetOK {
		return fmt.Errorf("esp3: command failed with return code %#02x", p.ReturnCode)
	}
	if len(p.Data) < n {
		return fmt.Errorf("%w: response of %d bytes, need %d", ErrShortPacket, len(p.Data), n)
	}
	return nil
}

// ParseIDBase extracts the base id from a RESPONSE to CO_RD_IDBASE. The remaining write cycles
// travel in the optional block, so any other data length is the answer to a different command.
func ParseIDBase(p Packet) (SenderID, error) {
	if err := checkResponse(p, 4); err != nil {
		return 0, err
	}
	if len(p.Data) != 4 {
		return 0, fmt.Errorf("esp3: response of %d bytes is no base id", len(p.Data))
	}
	return SenderID(binary.BigEndian.Uint32(p.Data[0:4])), nil
}

// ParseVersion extracts version information from a RESPONSE to CO_RD_VERSION
func ParseVersion(p Packet) (VersionInfo, error) {
	var v VersionInfo
	if err := checkResponse(p, 32); err != nil {
		return v, err
	}
	copy(v.AppVersion[:], p.Data[0:4])
	copy(v.APIVersion[:], p.Data[4:8])
	v.ChipID = SenderID(binary.BigEndian.Uint32(p.Data[8:12]))
	v.ChipVersion = binary.BigEndian.Uint32(p.Data[12:16])
	desc := p.Data[16:32]
	if i := bytes.IndexByte(desc, 0); i >= 0 {
		desc = desc[:i]
	}
	v.Description = string(desc)
	return v, nil
}

// NewRadioTelegram builds a RADIO_ERP1 frame sent from sender to dest
func NewRadioTelegram(rorg byte, payload []byte, sender, dest SenderID, status byte) Frame {
	d := make([]byte, 0, minTelegram+len(payload))
	d = append(d, rorg)
	d = append(d, payload...)
	d = binary.BigEndian.AppendUint32(d, uint32(sender))
	d = append(d, status)

	// SubTelNum 3 and dBm 0xff are the values expected for outgoing telegrams
	opt := make([]byte, 0, 7)
	opt = append(opt, 0x03)
	opt = binary.BigEndian.AppendUint32(opt, uint32(dest))
	opt = append(opt, 0xff, 0x00)
	return Frame{Type: RadioERP1, Data: d, Optional: opt}
}

// ManufacturerUnknown is sent when the manufacturer of a teach-in response is not specified
const ManufacturerUnknown uint16 = 0x7ff

// DB0 of a bidirectional 4BS teach-in response: LRN type with EEP, EEP supported,
// LRN successful, LRN status response. The LRN bit (bit 3) stays 0.
const teachInResponseDB0 byte = 0xf0

// TeachInResponse4BS builds the 4BS teach-in response acknowledging profile A5-fn-typ to dest
func TeachInResponse4BS(sender, dest SenderID, fn, typ byte, manufacturer uint16) Frame {
	payload := []byte{
		fn<<2 | (typ>>5)&0x03,
		(typ&0x1f)<<3 | byte(manufacturer>>8)&0x07,
		byte(manufacturer),
		teachInResponseDB0,
	}
	return NewRadioTelegram(0xa5, payload, sender, dest, 0x00)
}
