// mandelrun launches a complete local mandelgrid run: one master plus n-1
// workers on this machine. Its own stdin feeds the master's view stream and
// the master's frames come out on its stdout, so a typical session is
//
//	mandelrun -n 8 -view seahorse | ppm2png
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mandelgrid/mandelgrid"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("run: %+v", err)
	}
}

func run() error {
	var (
		n        = flag.Int("n", 4, "world size: master plus n-1 workers")
		bin      = flag.String("bin", "mandelgrid", "path to the mandelgrid binary")
		addr     = flag.String("addr", "localhost:9473", "master address for worker connections")
		useWS    = flag.Bool("ws", false, "connect workers over websocket instead of raw TCP")
		viewName = flag.String("view", "", "render a single named landmark view instead of reading stdin")
		cfgPath  = flag.String("config", "", "JSON config file passed to every rank")
		chunk    = flag.Int("chunk", 0, "rows per work chunk (default 10)")
		raw      = flag.Bool("raw", false, "emit bare pixel bytes without the P6 header")
		colors   = flag.String("colors", "", "color mode: hsv (default) or linear")
		verbose  = flag.Bool("v", false, "log per-chunk progress to stderr")
	)
	flag.Parse()

	if *n < 1 {
		*n = 1
	}

	var stdin io.Reader = os.Stdin
	if *viewName != "" {
		v, ok := mandelgrid.LookupView(*viewName)
		if !ok {
			return fmt.Errorf("unknown view %q; known views: %s",
				*viewName, strings.Join(mandelgrid.LandmarkNames(), ", "))
		}
		stdin = strings.NewReader(fmt.Sprintf("%g %g %g\n", v.Zoom, v.CenterX, v.CenterY))
	}

	common := commonArgs(*n, *addr, *useWS, *cfgPath, *chunk, *raw, *colors, *verbose, flag.Args())

	// One failing rank cancels the context and takes the whole run down;
	// a frame either completes fully or the run aborts.
	g, ctx := errgroup.WithContext(context.Background())
	for r := 0; r < *n; r++ {
		args := append([]string{"-rank", strconv.Itoa(r)}, common...)
		cmd := exec.CommandContext(ctx, *bin, args...)
		cmd.Stderr = os.Stderr
		if r == 0 {
			cmd.Stdin = stdin
			cmd.Stdout = os.Stdout
		}

		g.Go(func() error {
			if err := cmd.Run(); err != nil {
				return fmt.Errorf("rank %d: %w", r, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// commonArgs assembles the mandelgrid arguments shared by every rank.
func commonArgs(world int, addr string, useWS bool, cfgPath string, chunk int, raw bool, colors string, verbose bool, positional []string) []string {
	args := []string{"-world", strconv.Itoa(world), "-addr", addr}
	if useWS {
		args = append(args, "-ws")
	}
	if cfgPath != "" {
		args = append(args, "-config", cfgPath)
	}
	if chunk > 0 {
		args = append(args, "-chunk", strconv.Itoa(chunk))
	}
	if raw {
		args = append(args, "-raw")
	}
	if colors != "" {
		args = append(args, "-colors", colors)
	}
	if verbose {
		args = append(args, "-v")
	}
	return append(args, positional...)
}
