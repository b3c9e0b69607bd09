// Package render implements the pointwise Mandelbrot computation: the
// escape-time kernel, the color mappings and the row-chunk renderer that
// fills raw RGB buffers.
package render

import (
	"fmt"
	"math"

	"github.com/mandelgrid/mandelgrid"
)

// Escape radius squared for the iteration z' = z² + c.
const escapeSq = 4.0

// minEscapeSq clamps the final |z|² before the smooth-count logarithms, so
// degenerate inputs cannot hit the logarithm's domain edge.
const minEscapeSq = 1e-300

// EscapeTime computes the smooth escape-time approximation for the point
// (cx, cy). Interior points return exactly float64(maxIter); exterior points
// return iter + 1 - log2(log(|z|²)/2) using the final z after escape, a
// continuous shading coordinate roughly within [iter, iter+1].
func EscapeTime(cx, cy float64, maxIter int) float64 {
	var x, y float64
	iter := 0
	for x*x+y*y <= escapeSq && iter < maxIter {
		x, y = x*x-y*y+cx, 2*x*y+cy
		iter++
	}

	if iter == maxIter {
		return float64(maxIter)
	}

	zn := x*x + y*y
	if zn < minEscapeSq {
		zn = minEscapeSq
	}
	logZn := math.Log(zn) / 2
	nu := math.Log(logZn/math.Ln2) / math.Ln2
	return float64(iter) + 1 - nu
}

// ColorFunc maps a smooth iteration count to one RGB pixel.
type ColorFunc func(smooth float64, maxIter int) (r, g, b byte)

// Colors returns the ColorFunc for a configured color mode name.
func Colors(mode string) ColorFunc {
	if mode == mandelgrid.ColorsLinear {
		return LinearColor
	}
	return HSVColor
}

// HSVColor is the default mapping: interior points are black, exterior
// points get a full-saturation hue proportional to the smooth count.
func HSVColor(smooth float64, maxIter int) (byte, byte, byte) {
	if smooth >= float64(maxIter) {
		return 0, 0, 0
	}

	t := smooth / float64(maxIter)
	hue := 360 * t
	x := 1 - math.Abs(math.Mod(hue/60, 2)-1)

	var r, g, b float64
	switch {
	case hue < 60:
		r, g, b = 1, x, 0
	case hue < 120:
		r, g, b = x, 1, 0
	case hue < 180:
		r, g, b = 0, 1, x
	case hue < 240:
		r, g, b = 0, x, 1
	case hue < 300:
		r, g, b = x, 0, 1
	default:
		r, g, b = 1, 0, x
	}

	return byte(r * 255), byte(g * 255), byte(b * 255)
}

// LinearColor is the cheaper two-ramp blend used by the simple variants.
func LinearColor(smooth float64, maxIter int) (byte, byte, byte) {
	if smooth >= float64(maxIter) {
		return 0, 0, 0
	}

	t := smooth / float64(maxIter)
	return byte(t * 255), byte((1 - t) * 255), byte(t * 128)
}

// Scale returns complex-plane units per pixel for a view rendered at the
// given raster width.
func Scale(zoom float64, width int) float64 {
	return 4.0 / (float64(width) * zoom)
}

// RenderRows fills buf with the pixels of rows [startY, endY) of a
// width×height raster depicting v. buf must be exactly
// 3*width*(endY-startY) bytes; pixel (x, y) lands at ((y-startY)*width+x)*3.
func RenderRows(v mandelgrid.View, startY, endY, width, height, maxIter int, colors ColorFunc, buf []byte) error {
	rows := endY - startY
	if startY < 0 || rows <= 0 || endY > height {
		return fmt.Errorf("row range [%d, %d) out of raster height %d", startY, endY, height)
	}
	if len(buf) != 3*width*rows {
		return fmt.Errorf("buffer is %d bytes, need %d for %d rows", len(buf), 3*width*rows, rows)
	}

	scale := Scale(v.Zoom, width)
	for y := startY; y < endY; y++ {
		cy := v.CenterY + float64(y-height/2)*scale
		base := (y - startY) * width * 3

		for x := 0; x < width; x++ {
			cx := v.CenterX + float64(x-width/2)*scale
			r, g, b := colors(EscapeTime(cx, cy, maxIter), maxIter)

			i := base + x*3
			buf[i] = r
			buf[i+1] = g
			buf[i+2] = b
		}
	}

	return nil
}
