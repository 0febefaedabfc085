package noise

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain.ai/internal/terrain/mathx"
	"voxelterrain.ai/internal/terrain/volume"
)

// Field maps world positions to density and material. Implementations
// must be pure and safe for concurrent use.
type Field interface {
	Sample(p mgl64.Vec3) float64
	SampleMaterial(p mgl64.Vec3) volume.Material
}

type TerrainConfig struct {
	Noise Config `yaml:"noise"`

	WarpFrequency  float64 `yaml:"warp_frequency"`
	WarpAmplitude  float64 `yaml:"warp_amplitude"`
	BaseHeight     float64 `yaml:"base_height"`
	HeightScale    float64 `yaml:"height_scale"`
	DirtLine       float64 `yaml:"dirt_line"`
	GrassLine      float64 `yaml:"grass_line"`
	SnowLine       float64 `yaml:"snow_line"`
	MaterialJitter float64 `yaml:"material_jitter"`
}

// Terrain is a height-biased, domain-warped fractal field:
//
//	density = warpAmplitude*warp(p) + fbm(p) - (y-baseHeight)/heightScale
//
// clamped to [-1, 1]. Positive density is solid ground.
type Terrain struct {
	cfg      TerrainConfig
	density  *Fractal
	warp     *Fractal
	material *Fractal
}

func NewTerrain(cfg TerrainConfig) (*Terrain, error) {
	if !(cfg.HeightScale > 0) {
		return nil, fmt.Errorf("height_scale must be > 0, got %v", cfg.HeightScale)
	}
	d, err := NewFractal(cfg.Noise)
	if err != nil {
		return nil, fmt.Errorf("noise: %w", err)
	}
	t := &Terrain{cfg: cfg, density: d}
	if cfg.WarpAmplitude != 0 && cfg.WarpFrequency > 0 {
		t.warp, err = NewFractal(Config{
			Seed:        cfg.Noise.Seed ^ 0x5741_5250,
			Frequency:   cfg.WarpFrequency,
			Octaves:     2,
			Lacunarity:  cfg.Noise.Lacunarity,
			Persistence: 0.5,
			Amplitude:   1,
		})
		if err != nil {
			return nil, fmt.Errorf("warp: %w", err)
		}
	}
	if cfg.MaterialJitter != 0 {
		t.material, err = NewFractal(Config{
			Seed:        cfg.Noise.Seed ^ 0x4d41_5452,
			Frequency:   cfg.Noise.Frequency * 4,
			Octaves:     1,
			Lacunarity:  2,
			Persistence: 0.5,
			Amplitude:   1,
		})
		if err != nil {
			return nil, fmt.Errorf("material: %w", err)
		}
	}
	return t, nil
}

func (t *Terrain) Config() TerrainConfig { return t.cfg }

func (t *Terrain) Sample(p mgl64.Vec3) float64 {
	v := t.density.Sample(p)
	if t.warp != nil {
		v += t.cfg.WarpAmplitude * t.warp.Sample(p)
	}
	v -= (p[1] - t.cfg.BaseHeight) / t.cfg.HeightScale
	return mathx.Clamp(v, -1, 1)
}

func (t *Terrain) SampleMaterial(p mgl64.Vec3) volume.Material {
	y := p[1]
	if t.material != nil {
		y += t.cfg.MaterialJitter * t.material.Sample(p)
	}
	switch {
	case y >= t.cfg.SnowLine:
		return volume.MaterialSnow
	case y >= t.cfg.GrassLine:
		return volume.MaterialGrass
	case y >= t.cfg.DirtLine:
		return volume.MaterialDirt
	default:
		return volume.MaterialRock
	}
}

// FuncField adapts plain functions to Field. Material defaults to rock.
type FuncField struct {
	Density  func(p mgl64.Vec3) float64
	Material func(p mgl64.Vec3) volume.Material
}

func (f FuncField) Sample(p mgl64.Vec3) float64 { return f.Density(p) }

func (f FuncField) SampleMaterial(p mgl64.Vec3) volume.Material {
	if f.Material == nil {
		return volume.MaterialRock
	}
	return f.Material(p)
}
