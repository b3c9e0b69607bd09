// Package mandelgrid holds the types shared between the master and its
// workers: the per-frame view of the complex plane, the run configuration
// and a handful of named landmark views.
package mandelgrid

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// View selects the region of the complex plane a frame depicts.
// The visible width of the region is 4/Zoom complex-plane units.
type View struct {
	Zoom    float64 `json:"zoom"`
	CenterX float64 `json:"centerX"`
	CenterY float64 `json:"centerY"`
}

// EndOfStream is the sentinel view the master broadcasts to shut the run down.
var EndOfStream = View{Zoom: -1}

// Sentinel reports whether v encodes end-of-stream (zoom <= 0 by convention).
func (v View) Sentinel() bool {
	return v.Zoom <= 0
}

func (v View) String() string {
	return fmt.Sprintf("zoom=%g center=(%g, %g)", v.Zoom, v.CenterX, v.CenterY)
}

// ParseView parses one input line of the form "zoom centerX centerY".
func ParseView(line string) (View, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return View{}, fmt.Errorf("expected 3 fields %q, got %d", "zoom centerX centerY", len(fields))
	}

	var vals [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return View{}, fmt.Errorf("field %d %q: %w", i+1, f, err)
		}
		vals[i] = v
	}

	return View{Zoom: vals[0], CenterX: vals[1], CenterY: vals[2]}, nil
}

// Classic landmarks in the Mandelbrot set, expressed as views.
// Pass one to LookupView (mandelrun -view <name>) to render it directly.
var (
	// Home – the full set, centered on the main cardioid
	Home = View{Zoom: 1, CenterX: -0.5, CenterY: 0}

	// Seahorse Valley – dense filaments and repeating “seahorse” curls
	SeahorseValley = View{Zoom: 40, CenterX: -0.75, CenterY: 0.1}

	// Elephant Valley – large bulb with trunk-like tendrils
	ElephantValley = View{Zoom: 40, CenterX: -1.8, CenterY: -0.06}

	// Spiral Minibrot – small Mandelbrot copy with tight spiral arms
	SpiralMinibrot = View{Zoom: 2666.7, CenterX: -0.74275, CenterY: 0.13175}

	// Triple Spiral – threefold symmetric spiral structure
	TripleSpiral = View{Zoom: 1333.3, CenterX: -0.7465, CenterY: 0.0965}

	// Valley of the Dragon – deep, highly detailed spiral filaments
	ValleyOfTheDragon = View{Zoom: 800, CenterX: -0.7375, CenterY: 0.1825}

	// Minibrot in a Mini-Spiral – self-similar Mandelbrot copy inside a spiral arm
	MinibrotInMiniSpiral = View{Zoom: 2666.7, CenterX: -1.73825, CenterY: -0.02275}
)

var landmarks = map[string]View{
	"home":            Home,
	"seahorse":        SeahorseValley,
	"elephant":        ElephantValley,
	"spiral-minibrot": SpiralMinibrot,
	"triple-spiral":   TripleSpiral,
	"dragon":          ValleyOfTheDragon,
	"mini-spiral":     MinibrotInMiniSpiral,
}

// LookupView resolves a landmark name to its view.
func LookupView(name string) (View, bool) {
	v, ok := landmarks[strings.ToLower(name)]
	return v, ok
}

// LandmarkNames returns the known landmark names, sorted.
func LandmarkNames() []string {
	names := make([]string, 0, len(landmarks))
	for name := range landmarks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
