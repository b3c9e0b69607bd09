// Package dispatch implements the master–worker frame protocol. The master
// broadcasts each view, hands out row chunks on demand, reassembles worker
// results into its frame buffer and emits the finished frame; workers
// request, render and return chunks until the frame drains.
package dispatch

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/mandelgrid/mandelgrid"
	"github.com/mandelgrid/mandelgrid/render"
	"github.com/mandelgrid/mandelgrid/wire"
)

// Master owns the frame buffer and the row cursor. It never renders pixels
// itself unless it is the only process in the run.
type Master struct {
	cfg    mandelgrid.Config
	out    io.Writer
	colors render.ColorFunc
	codecs []*wire.Codec
	inbox  chan event

	// frame is allocated once and reused across frames; after a frame
	// completes every byte has been written by exactly one chunk.
	frame []byte
}

// event is one incoming worker message, funneled into the master's single
// receive-any point.
type event struct {
	worker int
	msg    wire.Message
	err    error
}

// NewMaster wires a master to its worker connections. An empty workers slice
// is the single-process degenerate case: the master renders frames itself.
func NewMaster(cfg mandelgrid.Config, workers []io.ReadWriter, out io.Writer) *Master {
	cfg.Sanitize()

	m := &Master{
		cfg:    cfg,
		out:    out,
		colors: render.Colors(cfg.Colors),
		frame:  make([]byte, cfg.FrameBytes()),
		inbox:  make(chan event, len(workers)),
	}
	for _, w := range workers {
		m.codecs = append(m.codecs, wire.NewCodec(w, cfg.Width))
	}
	return m
}

// Run reads view lines from in until end-of-stream, rendering one frame per
// view. End of input, a malformed line or a zoom <= 0 line broadcasts the
// shutdown sentinel to all workers and returns nil.
func (m *Master) Run(in io.Reader) error {
	for i, c := range m.codecs {
		go m.receive(i, c)
	}

	scanner := bufio.NewScanner(in)
	for {
		view := m.nextView(scanner)

		// The sentinel still has to reach the workers before we stop.
		if err := m.broadcast(view); err != nil {
			return err
		}
		if view.Sentinel() {
			return nil
		}

		if m.cfg.Verbose {
			log.Printf("rendering frame: %s", view)
		}
		if err := m.renderFrame(view); err != nil {
			return err
		}
		if err := m.emit(); err != nil {
			return fmt.Errorf("emit frame: %w", err)
		}
	}
}

// nextView reads and parses the next input line. Exhausted or malformed
// input degrades to the end-of-stream sentinel.
func (m *Master) nextView(scanner *bufio.Scanner) mandelgrid.View {
	if !scanner.Scan() {
		return mandelgrid.EndOfStream
	}
	view, err := mandelgrid.ParseView(scanner.Text())
	if err != nil {
		log.Printf("invalid input line, expected %q: %v", "zoom centerX centerY", err)
		return mandelgrid.EndOfStream
	}
	return view
}

func (m *Master) broadcast(v mandelgrid.View) error {
	for i, c := range m.codecs {
		if err := c.Write(wire.Bcast{View: v}); err != nil {
			return fmt.Errorf("broadcast to worker %d: %w", i, err)
		}
	}
	return nil
}

// receive pumps one worker's messages into the inbox. It stops after the
// first read error; the buffered inbox guarantees the final error always
// fits without blocking.
func (m *Master) receive(worker int, c *wire.Codec) {
	for {
		msg, err := c.Read()
		m.inbox <- event{worker: worker, msg: msg, err: err}
		if err != nil {
			return
		}
	}
}

// renderFrame runs one frame of the protocol: assign chunks on REQ, place
// RESULT payloads, count DONEs until every worker has drained.
func (m *Master) renderFrame(v mandelgrid.View) error {
	if len(m.codecs) == 0 {
		return m.renderLocal(v)
	}

	nextRow := 0
	active := len(m.codecs)
	for active > 0 {
		ev := <-m.inbox
		if ev.err != nil {
			return fmt.Errorf("worker %d connection: %w", ev.worker, ev.err)
		}

		switch msg := ev.msg.(type) {
		case wire.Req:
			if err := m.assign(ev.worker, &nextRow); err != nil {
				return err
			}
		case wire.Result:
			if err := m.place(ev.worker, msg); err != nil {
				return err
			}
		case wire.Done:
			active--
		default:
			return fmt.Errorf("%w: unexpected %s from worker %d", wire.ErrProtocol, ev.msg.Tag(), ev.worker)
		}
	}
	return nil
}

// assign replies to one REQ: the next chunk in increasing row order, or the
// drain sentinel once the cursor passes the raster height.
func (m *Master) assign(worker int, nextRow *int) error {
	if *nextRow >= m.cfg.Height {
		if err := m.codecs[worker].Write(wire.Assign{StartY: wire.DrainY}); err != nil {
			return fmt.Errorf("drain worker %d: %w", worker, err)
		}
		return nil
	}

	rows := min(m.cfg.Chunk, m.cfg.Height-*nextRow)
	a := wire.Assign{StartY: int32(*nextRow), Rows: int32(rows)}
	*nextRow += rows

	if m.cfg.Verbose {
		log.Printf("assigning rows %d..%d to worker %d", a.StartY, int(a.StartY)+rows-1, worker)
	}
	if err := m.codecs[worker].Write(a); err != nil {
		return fmt.Errorf("assign to worker %d: %w", worker, err)
	}
	return nil
}

// place copies a returned chunk into the frame buffer at its original row
// offset. Completion order does not matter; the offset comes from the header.
func (m *Master) place(worker int, res wire.Result) error {
	startY, rows := int(res.StartY), int(res.Rows)
	if startY < 0 || startY+rows > m.cfg.Height {
		return fmt.Errorf("%w: result rows [%d, %d) outside raster height %d",
			wire.ErrProtocol, startY, startY+rows, m.cfg.Height)
	}

	if m.cfg.Verbose {
		log.Printf("received rows %d..%d from worker %d", startY, startY+rows-1, worker)
	}
	copy(m.frame[3*m.cfg.Width*startY:], res.Pix)
	return nil
}

// renderLocal renders the whole frame in-process, chunk-parallel across the
// available CPUs. Used only when the run has no workers.
func (m *Master) renderLocal(v mandelgrid.View) error {
	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for startY := 0; startY < m.cfg.Height; startY += m.cfg.Chunk {
		endY := min(startY+m.cfg.Chunk, m.cfg.Height)
		buf := m.frame[3*m.cfg.Width*startY : 3*m.cfg.Width*endY]
		g.Go(func() error {
			return render.RenderRows(v, startY, endY, m.cfg.Width, m.cfg.Height, m.cfg.MaxIter, m.colors, buf)
		})
	}
	return g.Wait()
}

// emit writes the assembled frame to the sink, prefixed with a P6 header
// unless the run is in raw mode.
func (m *Master) emit() error {
	if !m.cfg.RawOutput {
		if _, err := fmt.Fprintf(m.out, "P6\n%d %d\n255\n", m.cfg.Width, m.cfg.Height); err != nil {
			return err
		}
	}
	_, err := m.out.Write(m.frame)
	return err
}
