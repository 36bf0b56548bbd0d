package gateway

import (
	"github.com/tostmann/ha-enocean-mqtt-slim/eep"
	"github.com/tostmann/ha-enocean-mqtt-slim/esp3"
)

// Directory tells which profile a sender uses. Device management lives outside the gateway.
type Directory interface {
	Lookup(sender esp3.SenderID) (eep.ID, bool)
}

// StaticDirectory is a fixed Directory, usually read from the configuration file
type StaticDirectory map[esp3.SenderID]eep.ID

// Lookup implements Directory
func (d StaticDirectory) Lookup(sender esp3.SenderID) (eep.ID, bool) {
	id, ok := d[sender]
	return id, ok
}

// ParseDirectory builds a StaticDirectory from sender id to profile id strings like "01825dab": "A5-02-05"
func ParseDirectory(m map[string]string) (StaticDirectory, error) {
	d := make(StaticDirectory, len(m))
	for s, p := range m {
		sender, err := esp3.ParseSenderID(s)
		if err != nil {
			return nil, err
		}
		id, err := eep.ParseID(p)
		if err != nil {
			return nil, err
		}
		d[sender] = id
	}
	return d, nil
}
