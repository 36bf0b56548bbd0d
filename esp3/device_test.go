package esp3

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

func TestDeviceTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		c.Write(rockerFrame)
		b := make([]byte, 8)
		n, _ := io.ReadFull(c, b)
		received <- b[:n]
	}()

	d := NewDevice()
	if d.Connected() {
		t.Fatal("new device reports connected")
	}
	if err := d.Connect("tcp://" + ln.Addr().String()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	done := d.Done()
	select {
	case <-done:
		t.Fatal("Done() closed while connected")
	default:
	}

	b := make([]byte, len(rockerFrame))
	if _, err := io.ReadFull(d, b); err != nil {
		t.Fatalf("Read error = %v", err)
	}
	if !bytes.Equal(b, rockerFrame) {
		t.Errorf("Read % x", b)
	}

	if err := WriteFrame(d, ReadIDBase()); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	select {
	case got := <-received:
		if !bytes.Equal(got, []byte{0x55, 0x00, 0x01, 0x00, 0x05, 0x70, 0x08, 0x38}) {
			t.Errorf("peer received % x", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer received nothing")
	}

	if err := d.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	select {
	case <-done:
	default:
		t.Error("Done() still open after Close")
	}
	if err := d.Close(); err != io.ErrClosedPipe {
		t.Errorf("second Close() error = %v, want io.ErrClosedPipe", err)
	}
	if _, err := d.Read(b); err != io.EOF {
		t.Errorf("Read after Close error = %v, want io.EOF", err)
	}
}

func TestDeviceInvalidLink(t *testing.T) {
	d := NewDevice()
	select {
	case <-d.Done():
	default:
		t.Error("Done() of an unconnected device is open")
	}
	if err := d.Connect("mqtt://localhost:1883"); err == nil {
		t.Error("Connect() accepted an unsupported scheme")
	}
	if err := d.Reconnect(); err == nil {
		t.Error("Reconnect() succeeded without a previous link")
	}
}
