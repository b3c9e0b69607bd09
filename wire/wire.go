// Package wire frames the messages the master and its workers exchange over
// a reliable ordered byte stream. Each message is one tag byte followed by a
// fixed big-endian header; RESULT additionally carries the chunk's pixel
// bytes, whose length both ends derive from the run-constant raster width.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/mandelgrid/mandelgrid"
)

// Tag discriminates the message kinds of the frame protocol.
type Tag byte

const (
	TagBcast  Tag = iota + 1 // master -> worker: view parameters
	TagReq                   // worker -> master: request for work
	TagAssign                // master -> worker: row chunk, or drain sentinel
	TagResult                // worker -> master: rendered chunk
	TagDone                  // worker -> master: draining this frame
)

func (t Tag) String() string {
	switch t {
	case TagBcast:
		return "BCAST"
	case TagReq:
		return "REQ"
	case TagAssign:
		return "ASSIGN"
	case TagResult:
		return "RESULT"
	case TagDone:
		return "DONE"
	}
	return fmt.Sprintf("Tag(0x%02x)", byte(t))
}

// DrainY is the ASSIGN startY sentinel telling a worker the frame has no
// rows left.
const DrainY = -1

// ErrProtocol marks unexpected tags and malformed payloads. It is fatal; the
// protocol has no recovery path.
var ErrProtocol = errors.New("protocol violation")

// Message is the tagged union of everything that travels between master and
// worker.
type Message interface {
	Tag() Tag
}

// Bcast carries the per-frame view. A sentinel view (zoom <= 0) terminates
// the run.
type Bcast struct {
	View mandelgrid.View
}

// Req asks the master for the next chunk.
type Req struct{}

// Assign hands a worker the half-open row range [StartY, StartY+Rows), or
// the drain sentinel StartY == DrainY.
type Assign struct {
	StartY int32
	Rows   int32
}

// Drain reports whether the assignment is the frame's drain sentinel.
func (a Assign) Drain() bool {
	return a.StartY == DrainY
}

// Result returns a rendered chunk. Pix holds 3*width*Rows bytes, row-major.
type Result struct {
	StartY int32
	Rows   int32
	Pix    []byte
}

// Done tells the master this worker has drained the current frame.
type Done struct{}

func (Bcast) Tag() Tag  { return TagBcast }
func (Req) Tag() Tag    { return TagReq }
func (Assign) Tag() Tag { return TagAssign }
func (Result) Tag() Tag { return TagResult }
func (Done) Tag() Tag   { return TagDone }

// Codec reads and writes protocol messages on one end of a connection.
// Reads and writes may proceed concurrently with each other, but the
// protocol has a single reader and a single writer per end.
type Codec struct {
	rw    io.ReadWriter
	width int
	wbuf  [25]byte // tag + largest fixed header (BCAST: 3 float64)
	rbuf  [24]byte
}

// NewCodec wraps one end of a connection. width is the raster width the run
// was configured with; it sizes RESULT payloads.
func NewCodec(rw io.ReadWriter, width int) *Codec {
	return &Codec{rw: rw, width: width}
}

// Write frames and sends a single message.
func (c *Codec) Write(m Message) error {
	b := c.wbuf[:0]
	b = append(b, byte(m.Tag()))

	var pix []byte
	switch m := m.(type) {
	case Bcast:
		b = binary.BigEndian.AppendUint64(b, math.Float64bits(m.View.Zoom))
		b = binary.BigEndian.AppendUint64(b, math.Float64bits(m.View.CenterX))
		b = binary.BigEndian.AppendUint64(b, math.Float64bits(m.View.CenterY))
	case Req, Done:
		// tag only
	case Assign:
		b = binary.BigEndian.AppendUint32(b, uint32(m.StartY))
		b = binary.BigEndian.AppendUint32(b, uint32(m.Rows))
	case Result:
		if len(m.Pix) != 3*c.width*int(m.Rows) {
			return fmt.Errorf("%w: result has %d payload bytes for %d rows at width %d",
				ErrProtocol, len(m.Pix), m.Rows, c.width)
		}
		b = binary.BigEndian.AppendUint32(b, uint32(m.StartY))
		b = binary.BigEndian.AppendUint32(b, uint32(m.Rows))
		pix = m.Pix
	default:
		return fmt.Errorf("%w: unknown message type %T", ErrProtocol, m)
	}

	if _, err := c.rw.Write(b); err != nil {
		return fmt.Errorf("write %s: %w", m.Tag(), err)
	}
	if len(pix) > 0 {
		if _, err := c.rw.Write(pix); err != nil {
			return fmt.Errorf("write %s payload: %w", m.Tag(), err)
		}
	}
	return nil
}

// Read receives the next message. It returns io.EOF only on a clean message
// boundary; a stream cut mid-message surfaces as io.ErrUnexpectedEOF.
func (c *Codec) Read() (Message, error) {
	if _, err := io.ReadFull(c.rw, c.rbuf[:1]); err != nil {
		return nil, err
	}
	tag := Tag(c.rbuf[0])

	switch tag {
	case TagBcast:
		if _, err := io.ReadFull(c.rw, c.rbuf[:24]); err != nil {
			return nil, fmt.Errorf("read %s: %w", tag, err)
		}
		return Bcast{View: mandelgrid.View{
			Zoom:    math.Float64frombits(binary.BigEndian.Uint64(c.rbuf[0:8])),
			CenterX: math.Float64frombits(binary.BigEndian.Uint64(c.rbuf[8:16])),
			CenterY: math.Float64frombits(binary.BigEndian.Uint64(c.rbuf[16:24])),
		}}, nil

	case TagReq:
		return Req{}, nil

	case TagAssign:
		if _, err := io.ReadFull(c.rw, c.rbuf[:8]); err != nil {
			return nil, fmt.Errorf("read %s: %w", tag, err)
		}
		return Assign{
			StartY: int32(binary.BigEndian.Uint32(c.rbuf[0:4])),
			Rows:   int32(binary.BigEndian.Uint32(c.rbuf[4:8])),
		}, nil

	case TagResult:
		if _, err := io.ReadFull(c.rw, c.rbuf[:8]); err != nil {
			return nil, fmt.Errorf("read %s: %w", tag, err)
		}
		res := Result{
			StartY: int32(binary.BigEndian.Uint32(c.rbuf[0:4])),
			Rows:   int32(binary.BigEndian.Uint32(c.rbuf[4:8])),
		}
		if res.Rows <= 0 {
			return nil, fmt.Errorf("%w: result with %d rows", ErrProtocol, res.Rows)
		}
		res.Pix = make([]byte, 3*c.width*int(res.Rows))
		if _, err := io.ReadFull(c.rw, res.Pix); err != nil {
			return nil, fmt.Errorf("read %s payload: %w", tag, err)
		}
		return res, nil

	case TagDone:
		return Done{}, nil
	}

	return nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrProtocol, byte(tag))
}
