package eep

import (
	"fmt"

	"github.com/tostmann/ha-enocean-mqtt-slim/esp3"
)

// Class is the outcome of Classify
type Class byte

const (
	ClassUnrecognized Class = iota // No rule for the family or malformed payload
	ClassData                      // Ordinary data telegram
	ClassAnnouncement              // Teach-in telegram
)

func (c Class) String() string {
	switch c {
	case ClassUnrecognized:
		return "unrecognized"
	case ClassData:
		return "data"
	case ClassAnnouncement:
		return "announcement"
	}
	return fmt.Sprintf("Class(%d)", byte(c))
}

// Classification tells whether a telegram is data or a teach-in announcing profile ID.
// Known reports whether ID resolves in the Registry, it never changes Kind.
type Classification struct {
	Kind         Class
	ID           ID
	Known        bool
	Manufacturer uint16
	WithEEP      bool
}

// Rule classifies the payload of one family
type Rule func(payload []byte) Classification

// Rules holds the teach-in rule of every family with a known teach-in pattern
var Rules = map[RORG]Rule{
	BS4: classify4BS,
	BS1: classify1BS,
	UTE: classifyUTE,
	RPS: alwaysData,
	VLD: alwaysData,
	MSC: alwaysData,
}

const lrnBit = 0x08 // DB0.3, 0 = teach-in

var unrecognized = Classification{Kind: ClassUnrecognized}

func alwaysData([]byte) Classification {
	return Classification{Kind: ClassData}
}

// classify4BS handles DB3..DB0. The teach-in telegram carries FUNC in DB3[7:2], TYPE in DB3[1:0] DB2[7:3]
// and the manufacturer in DB2[2:0] DB1. DB0.7 tells whether FUNC and TYPE are valid.
func classify4BS(payload []byte) Classification {
	if len(payload) < 4 {
		return unrecognized
	}
	db3, db2, db1, db0 := payload[0], payload[1], payload[2], payload[3]
	if db0&lrnBit != 0 {
		return Classification{Kind: ClassData}
	}
	return Classification{
		Kind:         ClassAnnouncement,
		ID:           ID{RORG: BS4, Func: db3 >> 2, Type: (db3&0x03)<<5 | db2>>3},
		Manufacturer: uint16(db2&0x07)<<8 | uint16(db1),
		WithEEP:      db0&0x80 != 0,
	}
}

// classify1BS handles single contact telegrams, the only 1BS profile is D5-00-01
func classify1BS(payload []byte) Classification {
	if len(payload) < 1 {
		return unrecognized
	}
	if payload[0]&lrnBit != 0 {
		return Classification{Kind: ClassData}
	}
	return Classification{Kind: ClassAnnouncement, ID: ID{RORG: BS1, Func: 0x00, Type: 0x01}}
}

// classifyUTE handles DB6..DB0 of a universal teach-in query, the announced family is in DB0
func classifyUTE(payload []byte) Classification {
	if len(payload) < 7 {
		return unrecognized
	}
	db4, db3, db2, db1, db0 := payload[2], payload[3], payload[4], payload[5], payload[6]
	return Classification{
		Kind:         ClassAnnouncement,
		ID:           ID{RORG: RORG(db0), Func: db1, Type: db2},
		Manufacturer: uint16(db3&0x07)<<8 | uint16(db4),
		WithEEP:      true,
	}
}

// Classify decides whether p is a teach-in telegram and which profile it announces.
// It only depends on p and uses r, which may be nil, to fill in Known.
func Classify(p esp3.Packet, r *Registry) Classification {
	if p.Kind != esp3.KindTelegram {
		return unrecognized
	}
	rule, ok := Rules[RORG(p.RORG)]
	if !ok {
		return unrecognized
	}
	c := rule(p.Payload)
	if c.Kind == ClassAnnouncement && r != nil {
		_, err := r.Resolve(c.ID)
		c.Known = err == nil
	}
	return c
}

// MarkData sets the LRN bit of a 4BS or 1BS payload so receivers read it as data, not as teach-in.
// Other families carry no LRN bit and are left unchanged.
func MarkData(rorg RORG, payload []byte) {
	switch rorg {
	case BS4:
		if len(payload) >= 4 {
			payload[3] |= lrnBit
		}
	case BS1:
		if len(payload) >= 1 {
			payload[0] |= lrnBit
		}
	}
}
