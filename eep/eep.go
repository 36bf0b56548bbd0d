// Package eep decodes EnOcean Equipment Profile payloads from declarative profile definitions
package eep

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tostmann/ha-enocean-mqtt-slim/esp3"
)

// RORG is the radio telegram family, the first data byte of a RADIO_ERP1 packet
type RORG byte

const (
	RPS RORG = 0xf6 // Repeated switch communication
	BS1 RORG = 0xd5 // 1 byte communication
	BS4 RORG = 0xa5 // 4 byte communication
	VLD RORG = 0xd2 // Variable length data
	MSC RORG = 0xd1 // Manufacturer specific communication
	UTE RORG = 0xd4 // Universal teach-in
)

var rorgNames = map[RORG]string{
	RPS: "RPS",
	BS1: "1BS",
	BS4: "4BS",
	VLD: "VLD",
	MSC: "MSC",
	UTE: "UTE",
}

// maxBits is the largest payload width of each family
var maxBits = map[RORG]int{
	RPS: 8,
	BS1: 8,
	BS4: 32,
	UTE: 56,
	VLD: 112,
	MSC: 112,
}

func (r RORG) String() string {
	if s, ok := rorgNames[r]; ok {
		return s
	}
	return fmt.Sprintf("RORG(%02X)", byte(r))
}

// MaxBits returns the payload width of the family and whether r is a known family
func (r RORG) MaxBits() (int, bool) {
	n, ok := maxBits[r]
	return n, ok
}

// ID is the three part profile identifier RORG-FUNC-TYPE
type ID struct {
	RORG RORG
	Func byte
	Type byte
}

func (id ID) String() string {
	return fmt.Sprintf("%02X-%02X-%02X", byte(id.RORG), id.Func, id.Type)
}

// MarshalText renders id like "A5-02-05"
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses ids like "A5-02-05"
func (id *ID) UnmarshalText(b []byte) error {
	v, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// ParseID parses a profile id like "A5-02-05", case insensitive
func ParseID(s string) (ID, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("eep: invalid profile id %q", s)
	}
	var b [3]byte
	for i, p := range parts {
		if len(p) != 2 {
			return ID{}, fmt.Errorf("eep: invalid profile id %q", s)
		}
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return ID{}, fmt.Errorf("eep: invalid profile id %q: %w", s, err)
		}
		b[i] = byte(v)
	}
	return ID{RORG: RORG(b[0]), Func: b[1], Type: b[2]}, nil
}

// FieldKind selects how the raw bits of a Field are turned into a value
type FieldKind byte

const (
	KindValue FieldKind = iota // Linear rescale to float64
	KindEnum                   // Label lookup
	KindBool                   // Single bit
)

func (k FieldKind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindEnum:
		return "enum"
	case KindBool:
		return "bool"
	}
	return fmt.Sprintf("FieldKind(%d)", byte(k))
}

// MarshalText renders the kind as used in definition files
func (k FieldKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseFieldKind parses the kind names used in definition files
func ParseFieldKind(s string) (FieldKind, error) {
	switch strings.ToLower(s) {
	case "value", "number", "":
		return KindValue, nil
	case "enum":
		return KindEnum, nil
	case "bool", "boolean":
		return KindBool, nil
	}
	return 0, fmt.Errorf("eep: unknown field kind %q", s)
}

// Field is one decodable value within a profile. Offset 0 is the most significant bit of the first payload byte.
type Field struct {
	Shortcut    string            `json:"shortcut"`
	Description string            `json:"description,omitempty"`
	Offset      int               `json:"offset"`
	Size        int               `json:"size"`
	RawMin      int64             `json:"raw_min"`
	RawMax      int64             `json:"raw_max"`
	ScaleMin    float64           `json:"scale_min"`
	ScaleMax    float64           `json:"scale_max"`
	Unit        string            `json:"unit,omitempty"`
	Invert      bool              `json:"invert,omitempty"`
	Kind        FieldKind         `json:"kind"`
	Enum        map[uint64]string `json:"enum,omitempty"`

	codec Codec
}

// Direction tells whether an entity is reported by the device or sent to it
type Direction byte

const (
	DirectionSensor Direction = iota
	DirectionCommand
)

func (d Direction) String() string {
	if d == DirectionCommand {
		return "command"
	}
	return "sensor"
}

// MarshalText renders the direction as used in definition files
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Entity describes how a decoded value is presented to the outside
type Entity struct {
	Shortcut    string    `json:"shortcut"`
	Name        string    `json:"name"`
	Unit        string    `json:"unit,omitempty"`
	DeviceClass string    `json:"device_class,omitempty"`
	Component   string    `json:"component,omitempty"`
	Direction   Direction `json:"direction"`
}

// Profile is one EEP: the bit layout of a telegram payload and its presentation
type Profile struct {
	ID       ID       `json:"eep"`
	Title    string   `json:"title"`
	Fields   []Field  `json:"fields"`
	Entities []Entity `json:"entities,omitempty"`
}

// Field returns the field with the given shortcut
func (p *Profile) Field(shortcut string) (*Field, bool) {
	for i := range p.Fields {
		if p.Fields[i].Shortcut == shortcut {
			return &p.Fields[i], true
		}
	}
	return nil, false
}

// PayloadSize returns the number of payload bytes covered by the fields, at least 1
func (p *Profile) PayloadSize() int {
	bits := 0
	for _, f := range p.Fields {
		if end := f.Offset + f.Size; end > bits {
			bits = end
		}
	}
	if n := (bits + 7) / 8; n > 0 {
		return n
	}
	return 1
}

// Values maps field shortcuts to float64, bool or string (enum label) values
type Values map[string]interface{}

// Record is a decoded data telegram
type Record struct {
	ID        uuid.UUID     `json:"id"`
	Sender    esp3.SenderID `json:"sender"`
	EEP       ID            `json:"eep"`
	Values    Values        `json:"values"`
	DBm       int           `json:"dbm"`
	HasDBm    bool          `json:"has_dbm"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewRecord wraps decoded values with the metadata of the telegram they came from
func NewRecord(p esp3.Packet, id ID, v Values) Record {
	r := Record{
		ID:        uuid.New(),
		Sender:    p.Sender,
		EEP:       id,
		Values:    v,
		Timestamp: time.Now(),
	}
	r.DBm, r.HasDBm = p.DBm()
	return r
}

// Announcement is a teach-in telegram of a device
type Announcement struct {
	Sender       esp3.SenderID `json:"sender"`
	EEP          ID            `json:"eep"`
	Known        bool          `json:"known"`
	Manufacturer uint16        `json:"manufacturer"`
	WithEEP      bool          `json:"with_eep"`
	DBm          int           `json:"dbm,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}
