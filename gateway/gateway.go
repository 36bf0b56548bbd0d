// Package gateway turns the byte stream of one ESP3 link into decoded records
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tostmann/ha-enocean-mqtt-slim/eep"
	"github.com/tostmann/ha-enocean-mqtt-slim/esp3"
)

const (
	readBufferSize = 256

	// DefaultResponseTimeout is how long the module gets to answer a packet
	DefaultResponseTimeout = 2 * time.Second
)

var (
	// ErrNoResponse is returned by Send when the module did not answer in time
	ErrNoResponse = errors.New("gateway: no response from module")
	// ErrRejected is returned by Send when the module answered with an error return code
	ErrRejected = errors.New("gateway: rejected by module")
	// ErrReadOnly is returned by Send when the source can not be written to
	ErrReadOnly = errors.New("gateway: link is read only")
	// ErrBaseIDUnknown is returned by Command before the module reported its base id
	ErrBaseIDUnknown = errors.New("gateway: base id unknown")
)

// command is a packet for the module and the handling of its RESPONSE
type command struct {
	frame  esp3.Frame
	handle func(p esp3.Packet) error // may be nil
	fail   func(err error)           // called when the packet was not answered, may be nil
}

// Gateway owns one link. Set the exported fields before calling Run.
type Gateway struct {
	Sinks           []Sink
	Metrics         *Metrics
	State           *State
	RespondTeachIn  bool          // Answer 4BS teach-in requests of devices in the Directory
	ResponseTimeout time.Duration // Time the module gets to answer a packet

	src      io.Reader
	w        io.Writer
	registry *eep.Registry
	dir      Directory
	reader   *esp3.Reader

	// Packets are sent one at a time, the next one goes out after the RESPONSE
	// to the current one arrived or ResponseTimeout passed.
	queue    []command
	inflight *command
	deadline time.Time
	commands chan command
}

// New is the factory method to create a Gateway reading from src.
// If src is also an io.Writer, module queries, teach-in responses and commands are sent over it.
func New(src io.Reader, registry *eep.Registry, dir Directory) *Gateway {
	g := &Gateway{
		Metrics:         NewMetrics(),
		State:           NewState(),
		ResponseTimeout: DefaultResponseTimeout,
		src:             src,
		registry:        registry,
		dir:             dir,
		reader:          esp3.NewReader(),
		commands:        make(chan command),
	}
	if w, ok := src.(io.Writer); ok {
		g.w = w
	}
	if dir == nil {
		g.dir = StaticDirectory{}
	}
	return g
}

// Run reads and dispatches frames until ctx is done or the source fails.
// Reads block in a helper goroutine, closing the source after Run returned releases it.
// Run returns nil on io.EOF and may be called again after the source reconnected.
func (g *Gateway) Run(ctx context.Context) error {
	chunks := make(chan []byte)
	errc := make(chan error, 1)
	go g.readLoop(ctx, chunks, errc)

	g.abort(ErrNoResponse)
	g.queryModule()

	for {
		g.pump()
		var timeout <-chan time.Time
		if g.inflight != nil {
			timeout = time.After(time.Until(g.deadline))
		}

		select {
		case <-ctx.Done():
			g.reader.Reset()
			g.abort(ctx.Err())
			return ctx.Err()
		case b := <-chunks:
			g.reader.Feed(b)
			g.drain(ctx)
		case c := <-g.commands:
			g.queue = append(g.queue, c)
		case <-timeout:
			g.expire()
		case err := <-errc:
			g.reader.Reset()
			g.abort(ErrNoResponse)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, chunks chan<- []byte, errc chan<- error) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := g.src.Read(buf)
		if n > 0 {
			b := append([]byte(nil), buf[:n]...)
			select {
			case chunks <- b:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			errc <- err
			return
		}
	}
}

// queryModule asks the module for its base id and version
func (g *Gateway) queryModule() {
	g.send(esp3.ReadIDBase(), func(p esp3.Packet) error {
		id, err := esp3.ParseIDBase(p)
		if err != nil {
			return err
		}
		log.Infof("Base ID: %v", id)
		g.State.setBaseID(id)
		return nil
	})
	g.send(esp3.ReadVersion(), func(p esp3.Packet) error {
		v, err := esp3.ParseVersion(p)
		if err != nil {
			return err
		}
		log.Infof("Module %v, app version %v, api version %v, chip id %v", v.Description, v.App(), v.API(), v.ChipID)
		g.State.setVersion(v)
		return nil
	})
}

// send queues a frame for the module, handle may be nil. Only the Run goroutine calls it.
func (g *Gateway) send(f esp3.Frame, handle func(esp3.Packet) error) {
	if g.w == nil {
		return
	}
	g.queue = append(g.queue, command{frame: f, handle: handle})
}

// pump writes the next queued frame if no other one waits for its RESPONSE
func (g *Gateway) pump() {
	for g.inflight == nil && len(g.queue) > 0 {
		c := g.queue[0]
		g.queue = g.queue[1:]
		if err := esp3.WriteFrame(g.w, c.frame); err != nil {
			log.Errorf("Sending %v failed: %v", c.frame, err)
			g.Metrics.Errors.WithLabelValues(errCommand).Inc()
			if c.fail != nil {
				c.fail(err)
			}
			continue
		}
		g.inflight = &c
		g.deadline = time.Now().Add(g.ResponseTimeout)
	}
}

// expire gives up on the packet in flight once its deadline passed
func (g *Gateway) expire() {
	if g.inflight == nil || time.Now().Before(g.deadline) {
		return
	}
	c := g.inflight
	g.inflight = nil
	log.Warnf("No response to %v within %v", c.frame, g.ResponseTimeout)
	g.Metrics.Errors.WithLabelValues(errCommand).Inc()
	if c.fail != nil {
		c.fail(ErrNoResponse)
	}
}

// abort drops the packet in flight and everything queued
func (g *Gateway) abort(err error) {
	if g.inflight != nil {
		g.queue = append([]command{*g.inflight}, g.queue...)
		g.inflight = nil
	}
	for _, c := range g.queue {
		if c.fail != nil {
			c.fail(err)
		}
	}
	g.queue = nil
}

// Send hands f to the Run goroutine and waits for the RESPONSE of the module.
// It is safe for concurrent use while Run is active.
func (g *Gateway) Send(ctx context.Context, f esp3.Frame) error {
	if g.w == nil {
		return ErrReadOnly
	}
	done := make(chan error, 1)
	c := command{
		frame: f,
		handle: func(p esp3.Packet) error {
			if p.ReturnCode != esp3.RetOK {
				err := fmt.Errorf("%w: return code %#02x", ErrRejected, p.ReturnCode)
				done <- err
				return err
			}
			done <- nil
			return nil
		},
		fail: func(err error) { done <- err },
	}

	select {
	case g.commands <- c:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Command encodes values with the profile configured for sender and sends the telegram
// from the base id of the module. Fields without a value are sent as 0.
func (g *Gateway) Command(ctx context.Context, sender esp3.SenderID, values eep.Values) (esp3.Frame, error) {
	id, ok := g.dir.Lookup(sender)
	if !ok {
		return esp3.Frame{}, fmt.Errorf("%w: %v", eep.ErrUnknownDevice, sender)
	}
	p, err := g.registry.Resolve(id)
	if err != nil {
		return esp3.Frame{}, err
	}
	for k := range values {
		if _, ok := p.Field(k); !ok {
			return esp3.Frame{}, fmt.Errorf("%w: %v has no field %q", eep.ErrValue, id, k)
		}
	}
	base := g.State.Info().BaseID
	if base == 0 {
		return esp3.Frame{}, ErrBaseIDUnknown
	}

	payload, err := eep.Encode(values, p, p.PayloadSize())
	if err != nil {
		return esp3.Frame{}, err
	}
	eep.MarkData(id.RORG, payload)

	var status byte
	if id.RORG == eep.RPS {
		status = rpsPressed
	}
	f := esp3.NewRadioTelegram(byte(id.RORG), payload, base, sender, status)
	log.WithFields(log.Fields{"sender": sender, "eep": id}).Infof("Sending %v", values)
	return f, g.Send(ctx, f)
}

// rpsPressed is the status of a rocker telegram: T21 and NU set
const rpsPressed byte = 0x30

// drain dispatches all complete frames buffered in the reader
func (g *Gateway) drain(ctx context.Context) {
	defer func() { g.Metrics.observeReader(g.reader.Stats()) }()

	for {
		f, err := g.reader.Next()
		if errors.Is(err, esp3.ErrNeedMoreData) {
			return
		}
		var de *esp3.DesyncError
		if errors.As(err, &de) {
			log.Debugf("Resynchronizing: %v", err)
			g.Metrics.Desyncs.WithLabelValues(de.Reason.String()).Inc()
			g.Metrics.Errors.WithLabelValues(errDesync).Inc()
			continue
		}
		if err != nil {
			log.Errorf("Reading frame: %v", err)
			continue
		}
		g.dispatch(ctx, f)
	}
}

func (g *Gateway) dispatch(ctx context.Context, f esp3.Frame) {
	p, err := esp3.Decode(f)
	if err != nil {
		log.Warnf("Dropping %v: %v", f, err)
		g.Metrics.Errors.WithLabelValues(errShortPacket).Inc()
		return
	}
	g.Metrics.Packets.WithLabelValues(p.Type.String()).Inc()

	switch p.Kind {
	case esp3.KindTelegram:
		g.handleTelegram(ctx, p)
	case esp3.KindResponse:
		g.handleResponse(p)
	case esp3.KindEvent:
		log.Infof("Event %#02x from module: '% x'", p.EventCode, p.Data)
	case esp3.KindUnrecognized:
		log.Warnf("Unrecognized packet type %v", p.Type)
		g.Metrics.Errors.WithLabelValues(errUnrecognized).Inc()
	default:
		log.Debugf("Ignoring %v", p)
	}
}

func (g *Gateway) handleResponse(p esp3.Packet) {
	c := g.inflight
	if c == nil {
		log.Debugf("Unsolicited %v", p)
		return
	}
	g.inflight = nil
	if c.handle == nil {
		if p.ReturnCode != esp3.RetOK {
			log.Warnf("Module rejected %v with return code %#02x", c.frame.Type, p.ReturnCode)
			g.Metrics.Errors.WithLabelValues(errCommand).Inc()
		}
		return
	}
	if err := c.handle(p); err != nil {
		log.Warnf("%v: %v", c.frame, err)
		g.Metrics.Errors.WithLabelValues(errCommand).Inc()
	}
}

func (g *Gateway) handleTelegram(ctx context.Context, p esp3.Packet) {
	c := eep.Classify(p, g.registry)
	switch c.Kind {
	case eep.ClassAnnouncement:
		g.State.seen(p, nil)
		g.handleAnnouncement(ctx, p, c)
	case eep.ClassData:
		g.handleData(ctx, p)
	default:
		log.Warnf("No teach-in rule for RORG %#02x from %v", p.RORG, p.Sender)
		g.Metrics.Errors.WithLabelValues(errUnrecognized).Inc()
	}
}

func (g *Gateway) handleData(ctx context.Context, p esp3.Packet) {
	logger := log.WithFields(log.Fields{"sender": p.Sender, "rorg": eep.RORG(p.RORG)})

	id, ok := g.dir.Lookup(p.Sender)
	if !ok {
		g.State.seen(p, nil)
		logger.Debugf("%v, payload '% x'", eep.ErrUnknownDevice, p.Payload)
		g.Metrics.Errors.WithLabelValues(errUnknownDevice).Inc()
		return
	}
	g.State.seen(p, &id)

	profile, err := g.registry.Resolve(id)
	if err != nil {
		logger.Warn(err)
		g.Metrics.Errors.WithLabelValues(errProfileNotFound).Inc()
		return
	}

	start := time.Now()
	v, err := eep.Decode(p.Payload, profile)
	g.Metrics.DecodeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Warn(err)
		g.Metrics.Errors.WithLabelValues(errExtraction).Inc()
		return
	}

	r := eep.NewRecord(p, id, v)
	g.State.record(r)
	g.Metrics.Records.WithLabelValues(id.String()).Inc()
	for _, s := range g.Sinks {
		if err := s.Record(ctx, r); err != nil {
			logger.Errorf("Publishing record: %v", err)
			g.Metrics.Errors.WithLabelValues(errSink).Inc()
		}
	}
}

func (g *Gateway) handleAnnouncement(ctx context.Context, p esp3.Packet, c eep.Classification) {
	a := eep.Announcement{
		Sender:       p.Sender,
		EEP:          c.ID,
		Known:        c.Known,
		Manufacturer: c.Manufacturer,
		WithEEP:      c.WithEEP,
		Timestamp:    time.Now(),
	}
	a.DBm, _ = p.DBm()

	logger := log.WithFields(log.Fields{"sender": p.Sender, "eep": c.ID})
	if !c.Known {
		candidates := g.registry.Find(c.ID.RORG, int(c.ID.Func), eep.Any)
		logger.Warnf("Announced profile is not loaded, %d profiles share RORG and FUNC", len(candidates))
		for _, pr := range candidates {
			logger.Infof("  candidate %v - %v", pr.ID, pr.Title)
		}
	}

	g.State.announce(a)
	g.Metrics.Announcements.Inc()
	for _, s := range g.Sinks {
		if err := s.Announce(ctx, a); err != nil {
			logger.Errorf("Publishing announcement: %v", err)
			g.Metrics.Errors.WithLabelValues(errSink).Inc()
		}
	}

	if g.RespondTeachIn && c.ID.RORG == eep.BS4 && c.WithEEP {
		g.respondTeachIn(p, c)
	}
}

// respondTeachIn confirms the teach-in of a device that is already configured
func (g *Gateway) respondTeachIn(p esp3.Packet, c eep.Classification) {
	logger := log.WithFields(log.Fields{"sender": p.Sender, "eep": c.ID})
	id, ok := g.dir.Lookup(p.Sender)
	if !ok {
		logger.Info("Not answering teach-in of an unconfigured device")
		return
	}
	if id != c.ID {
		logger.Warnf("Device is configured as %v, not answering teach-in", id)
		return
	}
	base := g.State.Info().BaseID
	if base == 0 {
		logger.Warn("Base ID unknown, not answering teach-in")
		return
	}
	logger.Info("Sending teach-in response")
	g.send(esp3.TeachInResponse4BS(base, p.Sender, c.ID.Func, c.ID.Type, c.Manufacturer), nil)
}
