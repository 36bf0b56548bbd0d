package gateway

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/tostmann/ha-enocean-mqtt-slim/eep"
)

// Sink receives decoded records and teach-in announcements in the order the frames arrived.
// Errors are logged and counted by the gateway, publishing is never retried.
type Sink interface {
	Record(ctx context.Context, r eep.Record) error
	Announce(ctx context.Context, a eep.Announcement) error
}

// LogSink writes records and announcements to the log
type LogSink struct{}

// Record implements Sink
func (LogSink) Record(ctx context.Context, r eep.Record) error {
	fields := log.Fields{"sender": r.Sender, "eep": r.EEP}
	if r.HasDBm {
		fields["rssi"] = r.DBm
	}
	log.WithFields(fields).Infof("%v", r.Values)
	return nil
}

// Announce implements Sink
func (LogSink) Announce(ctx context.Context, a eep.Announcement) error {
	log.WithFields(log.Fields{
		"sender":       a.Sender,
		"eep":          a.EEP,
		"known":        a.Known,
		"manufacturer": a.Manufacturer,
	}).Warn("Teach-in telegram received")
	return nil
}
