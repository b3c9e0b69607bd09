package mandelgrid

import (
	"fmt"
	"os"
	"strconv"

	"github.com/bytedance/sonic"
)

// Compiled-in defaults, used whenever a dimension or the iteration limit is
// missing or non-positive.
const (
	DefaultWidth   = 800
	DefaultHeight  = 600
	DefaultMaxIter = 200
	DefaultChunk   = 10
)

// Color mode names accepted by Config.Colors.
const (
	ColorsHSV    = "hsv"
	ColorsLinear = "linear"
)

// Config is the run configuration. It is set once at startup and identical
// in every process of the run; the frame protocol depends on both ends
// agreeing on Width.
type Config struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	MaxIter int `json:"maxIter"`

	// Chunk is the number of rows per work assignment. The final chunk of
	// a frame may be shorter.
	Chunk int `json:"chunk"`

	// RawOutput drops the P6 header and emits bare pixel bytes, for
	// pipelines that expect fixed-size frames.
	RawOutput bool `json:"rawOutput"`

	// Colors selects the color mapping ("hsv" or "linear"); empty means hsv.
	Colors string `json:"colors"`

	// Verbose enables per-chunk progress logging on stderr.
	Verbose bool `json:"verbose"`
}

// DefaultConfig returns the compiled-in configuration.
func DefaultConfig() Config {
	return Config{
		Width:   DefaultWidth,
		Height:  DefaultHeight,
		MaxIter: DefaultMaxIter,
		Chunk:   DefaultChunk,
	}
}

// LoadConfig reads a JSON configuration file and fills gaps with defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Config{}
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ApplyArgs overlays positional arguments [width height maxIter] onto c.
// Values that are missing, malformed or non-positive leave the current
// setting untouched; configuration errors never abort a run.
func (c *Config) ApplyArgs(args []string) {
	dst := []*int{&c.Width, &c.Height, &c.MaxIter}
	for i, arg := range args {
		if i >= len(dst) {
			break
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			continue
		}
		*dst[i] = n
	}
	c.Sanitize()
}

// Sanitize replaces non-positive or unknown settings with defaults.
func (c *Config) Sanitize() {
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
	}
	if c.MaxIter <= 0 {
		c.MaxIter = DefaultMaxIter
	}
	if c.Chunk <= 0 {
		c.Chunk = DefaultChunk
	}
	if c.Colors != ColorsLinear {
		c.Colors = ColorsHSV
	}
}

// FrameBytes is the size of one frame's pixel payload.
func (c Config) FrameBytes() int {
	return 3 * c.Width * c.Height
}
