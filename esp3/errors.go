package esp3

import (
	"errors"
	"fmt"
)

var (
	// ErrNeedMoreData is returned by Reader.Next when the buffered bytes do not hold a complete frame yet
	ErrNeedMoreData = errors.New("esp3: need more data")
	// ErrDesync is wrapped by every DesyncError
	ErrDesync = errors.New("esp3: desync")
	// ErrShortPacket is returned when a frame body is too short for its packet type
	ErrShortPacket = errors.New("esp3: packet too short")
	// ErrFrameTooLarge is returned when encoding a frame that does not fit the header length fields
	ErrFrameTooLarge = errors.New("esp3: frame too large")
)

// DesyncReason tells which check made the Reader drop a sync byte
type DesyncReason byte

const (
	HeaderCRC DesyncReason = iota + 1
	DataCRC
)

func (r DesyncReason) String() string {
	switch r {
	case HeaderCRC:
		return "header crc"
	case DataCRC:
		return "data crc"
	}
	return fmt.Sprintf("DesyncReason(%d)", byte(r))
}

// DesyncError reports a checksum failure. The Reader has already resynchronized when it is returned.
type DesyncError struct {
	Reason   DesyncReason
	Expected byte
	Received byte
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("esp3: desync on %v (calculated %#02x, received %#02x)", e.Reason, e.Expected, e.Received)
}

func (e *DesyncError) Unwrap() error { return ErrDesync }
