// mandelgrid is one rank of the distributed Mandelbrot renderer.
// Rank 0 is the master: it reads view requests ("zoom centerX centerY", one
// per line) from stdin, coordinates the workers and writes one raster frame
// per view to stdout. Every other rank is a worker and only computes pixels.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/google/gops/agent"

	"github.com/mandelgrid/mandelgrid"
	"github.com/mandelgrid/mandelgrid/dispatch"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("run: %+v", err)
	}
}

func run() error {
	var (
		rank    = flag.Int("rank", 0, "rank of this process; 0 is the master")
		world   = flag.Int("world", 1, "total number of processes in the run")
		addr    = flag.String("addr", "localhost:9473", "master address (listen on rank 0, dial elsewhere)")
		useWS   = flag.Bool("ws", false, "connect workers over websocket instead of raw TCP")
		cfgPath = flag.String("config", "", "optional JSON config file")
		chunk   = flag.Int("chunk", 0, "rows per work chunk (default 10)")
		raw     = flag.Bool("raw", false, "emit bare pixel bytes without the P6 header")
		colors  = flag.String("colors", "", "color mode: hsv (default) or linear")
		verbose = flag.Bool("v", false, "log per-chunk progress to stderr")
		gops    = flag.Bool("gops", false, "start a gops diagnostics agent")
	)
	flag.Parse()

	cfg := mandelgrid.DefaultConfig()
	if *cfgPath != "" {
		loaded, err := mandelgrid.LoadConfig(*cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	// Positional arguments [width height maxIter] override the file.
	cfg.ApplyArgs(flag.Args())
	if *chunk > 0 {
		cfg.Chunk = *chunk
	}
	if *raw {
		cfg.RawOutput = true
	}
	if *colors != "" {
		cfg.Colors = *colors
	}
	if *verbose {
		cfg.Verbose = true
	}
	cfg.Sanitize()

	if *world < 1 {
		*world = 1
	}
	if *rank < 0 || *rank >= *world {
		return fmt.Errorf("rank %d outside world size %d", *rank, *world)
	}

	if *gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fmt.Errorf("gops agent: %w", err)
		}
	}

	if *rank == 0 {
		return runMaster(cfg, *world, *addr, *useWS)
	}
	return runWorker(cfg, *rank, *addr, *useWS)
}

func runMaster(cfg mandelgrid.Config, world int, addr string, useWS bool) error {
	// Single-process run: no transport, the master renders frames itself.
	if world == 1 {
		return dispatch.NewMaster(cfg, nil, os.Stdout).Run(os.Stdin)
	}

	ln, err := listen(addr, useWS)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	defer ln.Close()

	log.Printf("master: rendering %dx%d, maxIter=%d, chunk=%d; waiting for %d workers on %s",
		cfg.Width, cfg.Height, cfg.MaxIter, cfg.Chunk, world-1, addr)

	conns := make([]io.ReadWriter, 0, world-1)
	for len(conns) < world-1 {
		c, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept worker: %w", err)
		}
		defer c.Close()
		conns = append(conns, c)
	}

	log.Printf("master: all %d workers connected", world-1)
	log.Printf("input format: zoom centerX centerY (one view per line)")

	return dispatch.NewMaster(cfg, conns, os.Stdout).Run(os.Stdin)
}

// listen opens the worker-facing listener: raw TCP by default, or the
// websocket endpoint served over HTTP.
func listen(addr string, useWS bool) (net.Listener, error) {
	if !useWS {
		return net.Listen("tcp", addr)
	}

	ln, httpServer := webServer(context.Background(), addr)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("httpServer: %v", err)
		}
	}()
	return ln, nil
}

func runWorker(cfg mandelgrid.Config, rank int, addr string, useWS bool) error {
	conn, err := dialMaster(addr, useWS)
	if err != nil {
		return fmt.Errorf("rank %d: connect to master at %s: %w", rank, addr, err)
	}
	defer conn.Close()

	return dispatch.NewWorker(cfg, rank, conn).Run()
}

// dialMaster retries for a few seconds; the launcher starts all ranks at
// once and the master may not be listening yet.
func dialMaster(addr string, useWS bool) (net.Conn, error) {
	deadline := time.Now().Add(10 * time.Second)
	for {
		conn, err := dial(addr, useWS)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func dial(addr string, useWS bool) (net.Conn, error) {
	if !useWS {
		return net.Dial("tcp", addr)
	}

	ctx := context.Background()
	c, _, err := websocket.Dial(ctx, "ws://"+addr+"/ws", nil)
	if err != nil {
		return nil, err
	}
	return websocket.NetConn(ctx, c, websocket.MessageBinary), nil
}
