package esp3

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// BaudRate is the fixed ESP3 serial speed, 8N1
const BaudRate = 57600

// Device is the ReadWriteCloser representation of an ESP3 transceiver attached via serial line or TCP
type Device struct {
	conn         io.ReadWriteCloser
	link         string
	rlock, wlock sync.Mutex
	mu           sync.Mutex

	connected bool
	done      chan struct{}
}

// NewDevice is the factory method to create a new Device
func NewDevice() *Device {
	d := &Device{done: make(chan struct{})}
	close(d.done)
	return d
}

// open dials link: tcp://host:port or socket://host:port for network links,
// file:///dev/ttyX or a bare device path for serial links
func open(link string) (io.ReadWriteCloser, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "socket", "tcp":
		conn, err := net.Dial("tcp", u.Host)
		if err != nil {
			return nil, err
		}
		conn.(*net.TCPConn).SetKeepAlive(true)
		conn.(*net.TCPConn).SetKeepAlivePeriod(30 * time.Second)
		return conn, nil
	case "file", "":
		return serial.OpenPort(&serial.Config{Name: u.Path, Baud: BaudRate, Size: 8, Parity: serial.ParityNone, StopBits: serial.Stop1})
	}
	return nil, fmt.Errorf("Can not find a valid connection string in \"%v\"", link)
}

// Connect attaches to the transceiver via serial device or a tcp socket
func (o *Device) Connect(link string) error {
	conn, err := open(link)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.conn = conn
	o.link = link
	o.connected = true
	o.done = make(chan struct{})
	log.Infof("Connected to %v", link)
	return nil
}

// Reconnect closes the current connection if needed and connects to the last link again
func (o *Device) Reconnect() error {
	o.mu.Lock()
	link := o.link
	o.mu.Unlock()
	if link == "" {
		return fmt.Errorf("Reconnect failed: never connected")
	}
	o.Close()
	return o.Connect(link)
}

// Done returns a channel that is closed when the current connection is closed.
// Connect replaces it, so fetch it again after reconnecting.
func (o *Device) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Connected reports whether the link is open
func (o *Device) Connected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connected
}

// Close closes Device, closing underlying connection via serial or network.
// A blocked Read returns once the connection is closed.
func (o *Device) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	select {
	case <-o.done:
		return io.ErrClosedPipe
	default:
	}
	close(o.done)
	o.connected = false
	return o.conn.Close()
}

func (o *Device) current() (io.ReadWriteCloser, chan struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.connected {
		return nil, nil
	}
	return o.conn, o.done
}

func (o *Device) Read(b []byte) (int, error) {
	o.rlock.Lock()
	defer o.rlock.Unlock()

	conn, done := o.current()
	if conn == nil {
		return 0, io.EOF
	}
	n, err := conn.Read(b)
	log.Debugf("Read b='%# x', n=%v, err=%v", b[0:n], n, err)
	if err != nil {
		select {
		case <-done:
			return n, io.EOF
		default:
		}
	}
	return n, err
}

func (o *Device) Write(b []byte) (int, error) {
	o.wlock.Lock()
	defer o.wlock.Unlock()

	conn, _ := o.current()
	if conn == nil {
		return 0, io.EOF
	}
	n, err := conn.Write(b)
	log.Debugf("Write b='%# x', n=%v, err=%v", b, n, err)
	return n, err
}

// WriteFrame encodes f and writes it in one go
func WriteFrame(w io.Writer, f Frame) error {
	b, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
