// esp3dump prints the frames received from a transceiver, one line per packet
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tostmann/ha-enocean-mqtt-slim/eep"
	"github.com/tostmann/ha-enocean-mqtt-slim/esp3"
)

var connTo = flag.String("c", "", "connection string, use socket://[host]:[port] for TCP or [serialDevice] for direct serial connection")
var defDir = flag.String("d", "", "EEP definitions `dir`, enables profile lookup of teach-in telegrams")
var query = flag.Bool("q", false, "ask the module for base id and version first")
var verbose = flag.Bool("v", false, "verbose logging")

func describe(p esp3.Packet, registry *eep.Registry) string {
	if p.Kind != esp3.KindTelegram {
		return p.String()
	}
	s := p.String()
	if dbm, ok := p.DBm(); ok {
		s += fmt.Sprintf(" dBm=%d", dbm)
	}
	switch c := eep.Classify(p, registry); c.Kind {
	case eep.ClassAnnouncement:
		s += fmt.Sprintf(" teach-in eep=%v known=%v manufacturer=%#03x", c.ID, c.Known, c.Manufacturer)
	case eep.ClassUnrecognized:
		s += " (unknown rorg)"
	}
	return s
}

func dump(src io.Reader, out io.Writer, registry *eep.Registry) error {
	r := esp3.NewReader()
	b := make([]byte, 256)
	start := time.Now()
	for {
		n, err := src.Read(b)
		r.Feed(b[:n])
		for {
			f, ferr := r.Next()
			if errors.Is(ferr, esp3.ErrNeedMoreData) {
				break
			}
			if ferr != nil {
				fmt.Fprintf(out, "(dt=%v) %v\n", time.Since(start), ferr)
				continue
			}
			p, derr := esp3.Decode(f)
			if derr != nil {
				fmt.Fprintf(out, "(dt=%v) %v: %v\n", time.Since(start), f, derr)
				continue
			}
			fmt.Fprintf(out, "(dt=%v) %v\n", time.Since(start), describe(p, registry))
			start = time.Now()
		}
		if err != nil {
			s := r.Stats()
			log.Infof("%d frames, %d desyncs, %d bytes skipped", s.Frames, s.Desyncs, s.SkippedBytes)
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func main() {
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	}

	if *connTo == "" {
		log.Fatal("Need connection string in -c option")
	}

	var registry *eep.Registry
	if *defDir != "" {
		var err error
		if registry, err = eep.LoadDir(*defDir); err != nil {
			log.Fatal(err)
		}
	}

	conn := esp3.NewDevice()
	if err := conn.Connect(*connTo); err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	if *query {
		for _, f := range []esp3.Frame{esp3.ReadIDBase(), esp3.ReadVersion()} {
			if err := esp3.WriteFrame(conn, f); err != nil {
				log.Fatal(err)
			}
		}
	}

	if err := dump(conn, os.Stdout, registry); err != nil {
		log.Error(err)
	}
}
