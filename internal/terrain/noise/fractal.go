package noise

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain.ai/internal/terrain/mathx"
)

// Config parameterizes fractal noise: Octaves layers, layer i sampled at
// Frequency*Lacunarity^i and weighted by Persistence^i, the sum scaled by
// Amplitude.
type Config struct {
	Seed        int64   `yaml:"seed"`
	Frequency   float64 `yaml:"frequency"`
	Octaves     int     `yaml:"octaves"`
	Lacunarity  float64 `yaml:"lacunarity"`
	Persistence float64 `yaml:"persistence"`
	Amplitude   float64 `yaml:"amplitude"`
}

func (c Config) Validate() error {
	if !(c.Frequency > 0) || math.IsInf(c.Frequency, 0) {
		return fmt.Errorf("frequency must be > 0, got %v", c.Frequency)
	}
	if c.Octaves < 1 || c.Octaves > 16 {
		return fmt.Errorf("octaves must be in [1,16], got %d", c.Octaves)
	}
	if !(c.Lacunarity > 0) || math.IsInf(c.Lacunarity, 0) {
		return fmt.Errorf("lacunarity must be > 0, got %v", c.Lacunarity)
	}
	if math.IsNaN(c.Persistence) || math.IsInf(c.Persistence, 0) {
		return errors.New("persistence must be finite")
	}
	if math.IsNaN(c.Amplitude) || math.IsInf(c.Amplitude, 0) {
		return errors.New("amplitude must be finite")
	}
	return nil
}

// Fractal sums Perlin octaves. Output is clamped to [-1, 1].
type Fractal struct {
	cfg    Config
	layers []*Perlin
	weight []float64
	freq   []float64
	norm   float64
}

func NewFractal(cfg Config) (*Fractal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Fractal{cfg: cfg}
	w, fr := 1.0, cfg.Frequency
	for i := 0; i < cfg.Octaves; i++ {
		// Each octave gets its own permutation so layers do not correlate at the origin.
		f.layers = append(f.layers, NewPerlin(int64(mathx.Mix64(uint64(cfg.Seed)+uint64(i)))))
		f.weight = append(f.weight, w)
		f.freq = append(f.freq, fr)
		f.norm += math.Abs(w)
		w *= cfg.Persistence
		fr *= cfg.Lacunarity
	}
	return f, nil
}

func (f *Fractal) Config() Config { return f.cfg }

func (f *Fractal) Sample(p mgl64.Vec3) float64 {
	if f.norm == 0 {
		return 0
	}
	sum := 0.0
	for i, l := range f.layers {
		fr := f.freq[i]
		sum += f.weight[i] * l.Noise3(p[0]*fr, p[1]*fr, p[2]*fr)
	}
	return mathx.Clamp(f.cfg.Amplitude*sum/f.norm, -1, 1)
}
