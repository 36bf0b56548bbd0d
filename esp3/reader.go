package esp3

import (
	"bytes"
	"encoding/binary"

	log "github.com/sirupsen/logrus"
)

// readerState is the state of the frame synchronizer
type readerState byte

const (
	stateSync   readerState = iota // Scan for Sync
	stateHeader                    // Wait for header and header CRC
	stateData                      // Wait for data, optional data and data CRC
)

// Stats holds Reader counters
type Stats struct {
	Frames       uint64
	Desyncs      uint64
	SkippedBytes uint64
}

// Reader extracts checksum-valid frames from a byte stream which arrives in arbitrary chunks.
// Feed bytes as they arrive and call Next until it returns ErrNeedMoreData.
// A Reader must only be used by a single goroutine.
type Reader struct {
	buf   []byte
	state readerState

	dataLen int
	optLen  int
	ptype   PacketType

	stats Stats
}

// NewReader is the factory method to create a new Reader
func NewReader() *Reader {
	return &Reader{buf: make([]byte, 0, 512)}
}

// Feed appends received bytes to the pending buffer
func (r *Reader) Feed(p []byte) {
	r.buf = append(r.buf, p...)
}

// Buffered returns the number of bytes not consumed yet
func (r *Reader) Buffered() int {
	return len(r.buf)
}

// Reset drops any partially received frame
func (r *Reader) Reset() {
	r.buf = r.buf[:0]
	r.state = stateSync
}

// Stats returns a copy of the counters
func (r *Reader) Stats() Stats {
	return r.stats
}

// Next returns the next valid frame from the buffered bytes.
// It returns ErrNeedMoreData if no complete frame is buffered and a *DesyncError
// if a checksum failed; in both cases the caller just feeds more bytes or calls Next again.
func (r *Reader) Next() (Frame, error) {
	for {
		switch r.state {
		case stateSync:
			i := bytes.IndexByte(r.buf, Sync)
			if i < 0 {
				r.skip(len(r.buf))
				return Frame{}, ErrNeedMoreData
			}
			r.skip(i)
			r.state = stateHeader
		case stateHeader:
			if len(r.buf) < 1+headerLen+1 {
				return Frame{}, ErrNeedMoreData
			}
			h := r.buf[1 : 1+headerLen]
			crc := Crc8(h)
			if received := r.buf[1+headerLen]; crc != received {
				// Not a real sync byte, resume scanning right after it
				r.resync()
				return Frame{}, &DesyncError{Reason: HeaderCRC, Expected: crc, Received: received}
			}
			r.dataLen = int(binary.BigEndian.Uint16(h[0:2]))
			r.optLen = int(h[2])
			r.ptype = PacketType(h[3])
			r.state = stateData
		case stateData:
			start := 1 + headerLen + 1
			end := start + r.dataLen + r.optLen
			if len(r.buf) < end+1 {
				return Frame{}, ErrNeedMoreData
			}
			crc := Crc8(r.buf[start:end])
			if received := r.buf[end]; crc != received {
				// The length field may be corrupt as well, so restart right after the sync byte
				// instead of skipping the whole frame
				r.resync()
				return Frame{}, &DesyncError{Reason: DataCRC, Expected: crc, Received: received}
			}

			f := Frame{Type: r.ptype}
			f.Data = append([]byte(nil), r.buf[start:start+r.dataLen]...)
			if r.optLen > 0 {
				f.Optional = append([]byte(nil), r.buf[start+r.dataLen:end]...)
			}
			r.consume(end + 1)
			r.state = stateSync
			r.stats.Frames++
			return f, nil
		default:
			panic("Should not reach default state")
		}
	}
}

func (r *Reader) skip(n int) {
	if n == 0 {
		return
	}
	log.Debugf("esp3: skipping %d bytes of noise: '% x'", n, r.buf[:n])
	r.stats.SkippedBytes += uint64(n)
	r.consume(n)
}

func (r *Reader) resync() {
	r.stats.Desyncs++
	r.consume(1)
	r.state = stateSync
}

func (r *Reader) consume(n int) {
	r.buf = r.buf[:copy(r.buf, r.buf[n:])]
}
