// ppm2png consumes a mandelgrid master's P6 frame stream on stdin and saves
// each frame as a numbered PNG file in the current directory.
package main

import (
	"bufio"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"os"
	"strconv"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("run: %+v", err)
	}
}

func run() error {
	in := bufio.NewReaderSize(os.Stdin, 1<<20)

	for frame := 1; ; frame++ {
		img, err := readPPM(in)
		if err == io.EOF {
			if frame == 1 {
				log.Printf("no frames on stdin")
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("frame %d: %w", frame, err)
		}

		filename := fmt.Sprintf("frame-%04d.png", frame)
		if err := save(filename, img); err != nil {
			return fmt.Errorf("frame %d: %w", frame, err)
		}
		log.Printf("saved %s (%dx%d)", filename, img.Rect.Dx(), img.Rect.Dy())
	}
}

// readPPM decodes one binary PPM frame. io.EOF is returned only on a clean
// frame boundary.
func readPPM(r *bufio.Reader) (*image.RGBA, error) {
	magic, err := readToken(r)
	if err != nil {
		return nil, err
	}
	if magic != "P6" {
		return nil, fmt.Errorf("bad magic %q, want P6", magic)
	}

	width, err := readIntToken(r)
	if err != nil {
		return nil, fmt.Errorf("width: %w", err)
	}
	height, err := readIntToken(r)
	if err != nil {
		return nil, fmt.Errorf("height: %w", err)
	}
	maxval, err := readIntToken(r)
	if err != nil {
		return nil, fmt.Errorf("maxval: %w", err)
	}
	if width <= 0 || height <= 0 || maxval != 255 {
		return nil, fmt.Errorf("unsupported PPM header %dx%d maxval=%d", width, height, maxval)
	}

	pix := make([]byte, 3*width*height)
	if _, err := io.ReadFull(r, pix); err != nil {
		return nil, fmt.Errorf("pixel data: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		img.Pix[4*i+0] = pix[3*i+0]
		img.Pix[4*i+1] = pix[3*i+1]
		img.Pix[4*i+2] = pix[3*i+2]
		img.Pix[4*i+3] = 255
	}
	return img, nil
}

// readToken skips whitespace and reads the next whitespace-delimited token.
func readToken(r *bufio.Reader) (string, error) {
	var tok []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && len(tok) > 0 {
				return string(tok), nil
			}
			return "", err
		}
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			if len(tok) == 0 {
				continue
			}
			return string(tok), nil
		}
		tok = append(tok, c)
	}
}

func readIntToken(r *bufio.Reader) (int, error) {
	tok, err := readToken(r)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(tok)
}

func save(filename string, img *image.RGBA) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	return nil
}
