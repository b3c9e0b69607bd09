package dispatch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/mandelgrid/mandelgrid"
	"github.com/mandelgrid/mandelgrid/wire"
)

func testConfig(width, height, maxIter int) mandelgrid.Config {
	cfg := mandelgrid.DefaultConfig()
	cfg.Width = width
	cfg.Height = height
	cfg.MaxIter = maxIter
	cfg.RawOutput = true
	return cfg
}

// runCluster runs a master and the given number of in-process workers over
// net.Pipe connections, feeding the master the input view stream. It returns
// the master's emitted bytes.
func runCluster(t *testing.T, cfg mandelgrid.Config, workers int, input string) ([]byte, error) {
	t.Helper()

	conns := make([]io.ReadWriter, workers)
	pipes := make([]net.Conn, 0, 2*workers)
	g := new(errgroup.Group)
	for i := 0; i < workers; i++ {
		masterEnd, workerEnd := net.Pipe()
		pipes = append(pipes, masterEnd, workerEnd)
		conns[i] = masterEnd

		w := NewWorker(cfg, i+1, workerEnd)
		g.Go(w.Run)
	}

	var out bytes.Buffer
	err := NewMaster(cfg, conns, &out).Run(strings.NewReader(input))
	if werr := g.Wait(); err == nil {
		err = werr
	}
	for _, p := range pipes {
		p.Close()
	}
	return out.Bytes(), err
}

func TestSingleProcessFrame(t *testing.T) {
	cfg := testConfig(80, 60, 200)
	out, err := runCluster(t, cfg, 0, "1.0 -0.5 0.0\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != cfg.FrameBytes() {
		t.Fatalf("frame is %d bytes, want %d", len(out), cfg.FrameBytes())
	}

	// The center pixel maps to (-0.5, 0), inside the set.
	i := (cfg.Height/2*cfg.Width + cfg.Width/2) * 3
	if out[i] != 0 || out[i+1] != 0 || out[i+2] != 0 {
		t.Errorf("center pixel = (%d, %d, %d), want (0, 0, 0)", out[i], out[i+1], out[i+2])
	}
}

func TestDeterminismAcrossWorkerCounts(t *testing.T) {
	cfg := testConfig(64, 48, 100)
	const input = "1.0 -0.5 0.0\n"

	want, err := runCluster(t, cfg, 0, input)
	if err != nil {
		t.Fatal(err)
	}
	if len(want) != cfg.FrameBytes() {
		t.Fatalf("frame is %d bytes, want %d", len(want), cfg.FrameBytes())
	}

	for _, workers := range []int{1, 3, 8} {
		got, err := runCluster(t, cfg, workers, input)
		if err != nil {
			t.Fatalf("%d workers: %v", workers, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("output with %d workers differs from single-process output", workers)
		}
	}
}

func TestShortFinalChunk(t *testing.T) {
	// Height deliberately not divisible by the chunk size.
	cfg := testConfig(32, 23, 80)
	cfg.Chunk = 7

	want, err := runCluster(t, cfg, 0, "2.0 0.1 0.3\n")
	if err != nil {
		t.Fatal(err)
	}
	got, err := runCluster(t, cfg, 2, "2.0 0.1 0.3\n")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Error("short final chunk breaks determinism")
	}
}

func TestIdempotence(t *testing.T) {
	cfg := testConfig(48, 36, 100)
	out, err := runCluster(t, cfg, 2, "1.0 0.0 0.0\n1.0 0.0 0.0\n")
	if err != nil {
		t.Fatal(err)
	}

	n := cfg.FrameBytes()
	if len(out) != 2*n {
		t.Fatalf("got %d bytes, want two frames of %d", len(out), n)
	}
	if !bytes.Equal(out[:n], out[n:]) {
		t.Error("two identical views produced different frames")
	}
}

func TestPPMHeader(t *testing.T) {
	cfg := testConfig(80, 60, 100)
	cfg.RawOutput = false

	out, err := runCluster(t, cfg, 1, "1.0 -0.5 0.0\n")
	if err != nil {
		t.Fatal(err)
	}

	header := fmt.Sprintf("P6\n%d %d\n255\n", cfg.Width, cfg.Height)
	if !bytes.HasPrefix(out, []byte(header)) {
		t.Fatalf("output does not start with %q", header)
	}
	if len(out) != len(header)+cfg.FrameBytes() {
		t.Errorf("got %d bytes, want %d", len(out), len(header)+cfg.FrameBytes())
	}
}

func TestSentinelTerminatesWithoutFrame(t *testing.T) {
	cfg := testConfig(32, 24, 50)
	for _, input := range []string{"0.0 0.0 0.0\n", "-1 0 0\n"} {
		out, err := runCluster(t, cfg, 2, input)
		if err != nil {
			t.Errorf("input %q: %v", input, err)
		}
		if len(out) != 0 {
			t.Errorf("input %q emitted %d bytes, want none", input, len(out))
		}
	}
}

func TestEOFTerminates(t *testing.T) {
	cfg := testConfig(32, 24, 50)
	out, err := runCluster(t, cfg, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("empty input emitted %d bytes", len(out))
	}
}

func TestMalformedLineTerminates(t *testing.T) {
	cfg := testConfig(32, 24, 50)
	for _, input := range []string{"abc\n", "1.0 2.0\n", "1.0 2.0 3.0 4.0\n"} {
		out, err := runCluster(t, cfg, 1, input)
		if err != nil {
			t.Errorf("input %q: %v", input, err)
		}
		if len(out) != 0 {
			t.Errorf("input %q emitted %d bytes, want none", input, len(out))
		}
	}
}

func TestFramesBeforeSentinel(t *testing.T) {
	cfg := testConfig(32, 24, 50)
	out, err := runCluster(t, cfg, 2, "1.0 -0.5 0.0\n0 0 0\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != cfg.FrameBytes() {
		t.Errorf("got %d bytes, want exactly one frame of %d", len(out), cfg.FrameBytes())
	}
}

// TestMasterRejectsOutOfRangeResult drives the master with a misbehaving
// peer that returns a chunk outside the raster.
func TestMasterRejectsOutOfRangeResult(t *testing.T) {
	cfg := testConfig(16, 12, 50)
	masterEnd, peerEnd := net.Pipe()
	defer masterEnd.Close()
	defer peerEnd.Close()

	go func() {
		c := wire.NewCodec(peerEnd, cfg.Width)
		if _, err := c.Read(); err != nil { // BCAST
			return
		}
		c.Write(wire.Result{StartY: 1000, Rows: 1, Pix: make([]byte, 3*cfg.Width)})
	}()

	var out bytes.Buffer
	err := NewMaster(cfg, []io.ReadWriter{masterEnd}, &out).Run(strings.NewReader("1.0 0.0 0.0\n"))
	if !errors.Is(err, wire.ErrProtocol) {
		t.Errorf("got %v, want ErrProtocol", err)
	}
}

// TestMasterAbortsOnWorkerLoss checks that a vanished worker takes the run
// down instead of stalling the frame.
func TestMasterAbortsOnWorkerLoss(t *testing.T) {
	cfg := testConfig(16, 12, 50)
	masterEnd, peerEnd := net.Pipe()
	defer masterEnd.Close()

	go func() {
		c := wire.NewCodec(peerEnd, cfg.Width)
		c.Read() // BCAST
		peerEnd.Close()
	}()

	var out bytes.Buffer
	err := NewMaster(cfg, []io.ReadWriter{masterEnd}, &out).Run(strings.NewReader("1.0 0.0 0.0\n"))
	if err == nil {
		t.Error("expected an error after losing the only worker")
	}
}
