package dispatch

import (
	"fmt"
	"io"
	"log"

	"github.com/mandelgrid/mandelgrid"
	"github.com/mandelgrid/mandelgrid/render"
	"github.com/mandelgrid/mandelgrid/wire"
)

// Worker renders chunks for a master. It holds no cross-frame state beyond
// the view of the frame it is currently draining.
type Worker struct {
	cfg    mandelgrid.Config
	rank   int
	codec  *wire.Codec
	colors render.ColorFunc

	// buf is the chunk pixel buffer, reused between chunks.
	buf []byte
}

// NewWorker wires a worker to its master connection. rank is used only for
// log attribution.
func NewWorker(cfg mandelgrid.Config, rank int, conn io.ReadWriter) *Worker {
	cfg.Sanitize()
	return &Worker{
		cfg:    cfg,
		rank:   rank,
		codec:  wire.NewCodec(conn, cfg.Width),
		colors: render.Colors(cfg.Colors),
	}
}

// Run handles broadcasts until the shutdown sentinel arrives, rendering one
// frame's worth of chunks per view.
func (w *Worker) Run() error {
	for {
		msg, err := w.codec.Read()
		if err != nil {
			return fmt.Errorf("rank %d: read broadcast: %w", w.rank, err)
		}
		bcast, ok := msg.(wire.Bcast)
		if !ok {
			return fmt.Errorf("%w: rank %d expected BCAST, got %s", wire.ErrProtocol, w.rank, msg.Tag())
		}

		if bcast.View.Sentinel() {
			return nil
		}
		if err := w.renderFrame(bcast.View); err != nil {
			return err
		}
	}
}

// renderFrame loops request/assign/result until the drain sentinel, then
// acknowledges with DONE.
func (w *Worker) renderFrame(v mandelgrid.View) error {
	for {
		if err := w.codec.Write(wire.Req{}); err != nil {
			return fmt.Errorf("rank %d: request work: %w", w.rank, err)
		}

		msg, err := w.codec.Read()
		if err != nil {
			return fmt.Errorf("rank %d: read assignment: %w", w.rank, err)
		}
		assign, ok := msg.(wire.Assign)
		if !ok {
			return fmt.Errorf("%w: rank %d expected ASSIGN, got %s", wire.ErrProtocol, w.rank, msg.Tag())
		}

		if assign.Drain() {
			if err := w.codec.Write(wire.Done{}); err != nil {
				return fmt.Errorf("rank %d: send done: %w", w.rank, err)
			}
			return nil
		}

		if err := w.renderChunk(v, assign); err != nil {
			return err
		}
	}
}

func (w *Worker) renderChunk(v mandelgrid.View, a wire.Assign) error {
	startY, rows := int(a.StartY), int(a.Rows)
	if w.cfg.Verbose {
		log.Printf("rank %d: rendering rows %d..%d", w.rank, startY, startY+rows-1)
	}

	n := 3 * w.cfg.Width * rows
	if cap(w.buf) < n {
		w.buf = make([]byte, n)
	}
	buf := w.buf[:n]

	if err := render.RenderRows(v, startY, startY+rows, w.cfg.Width, w.cfg.Height, w.cfg.MaxIter, w.colors, buf); err != nil {
		return fmt.Errorf("%w: rank %d: %v", wire.ErrProtocol, w.rank, err)
	}

	if err := w.codec.Write(wire.Result{StartY: a.StartY, Rows: a.Rows, Pix: buf}); err != nil {
		return fmt.Errorf("rank %d: send result: %w", w.rank, err)
	}
	return nil
}
