package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voxelterrain.ai/internal/terrain/gen"
	"voxelterrain.ai/internal/terrain/noise"
	"voxelterrain.ai/internal/terrain/surface"
	"voxelterrain.ai/internal/terrain/volume"
)

// Tuning is the startup configuration of one world. It is immutable once
// the world is running.
type Tuning struct {
	WorldID    string `yaml:"world_id"`
	TickRateHz int    `yaml:"tick_rate_hz"`

	ChunkSize    int     `yaml:"chunk_size"`
	VoxelSize    float64 `yaml:"voxel_size"`
	ActiveRadius float64 `yaml:"active_radius"`
	Workers      int     `yaml:"workers"`
	WorkPerTick  int     `yaml:"work_per_tick"`
	EditBacklog  int     `yaml:"edit_backlog"`
	MeshMethod   string  `yaml:"mesh_method"`

	Noise    NoiseParams   `yaml:"noise"`
	Terrain  TerrainParams `yaml:"terrain"`
	Bounds   BoundsParams  `yaml:"bounds"`
	EditRate EditRate      `yaml:"edit_rate"`
}

type NoiseParams struct {
	noise.Config `yaml:",inline"`

	WarpFrequency float64 `yaml:"warp_frequency"`
	WarpAmplitude float64 `yaml:"warp_amplitude"`
}

type TerrainParams struct {
	BaseHeight     float64 `yaml:"base_height"`
	HeightScale    float64 `yaml:"height_scale"`
	DirtLine       float64 `yaml:"dirt_line"`
	GrassLine      float64 `yaml:"grass_line"`
	SnowLine       float64 `yaml:"snow_line"`
	MaterialJitter float64 `yaml:"material_jitter"`
}

// BoundsParams are inclusive chunk coordinates. All zero means unbounded.
type BoundsParams struct {
	Min [3]int `yaml:"min"`
	Max [3]int `yaml:"max"`
}

// EditRate limits edits per renderer session.
type EditRate struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

func Defaults() Tuning {
	return Tuning{
		WorldID:      "default",
		TickRateHz:   20,
		ChunkSize:    16,
		VoxelSize:    1,
		ActiveRadius: 96,
		Workers:      4,
		WorkPerTick:  8,
		EditBacklog:  256,
		MeshMethod:   string(surface.MethodMarchingCubes),
		Noise: NoiseParams{
			Config: noise.Config{
				Seed:        1337,
				Frequency:   0.01,
				Octaves:     5,
				Lacunarity:  2,
				Persistence: 0.5,
				Amplitude:   1,
			},
			WarpFrequency: 0.004,
			WarpAmplitude: 0.5,
		},
		Terrain: TerrainParams{
			BaseHeight:     0,
			HeightScale:    48,
			DirtLine:       -24,
			GrassLine:      -4,
			SnowLine:       40,
			MaterialJitter: 6,
		},
		EditRate: EditRate{PerSecond: 10, Burst: 20},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return t, err
		}
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return t, fmt.Errorf("terrain.yaml: %w", err)
		}
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("terrain.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values that have an obvious default.
func (t *Tuning) Normalize() {
	d := Defaults()
	t.WorldID = strings.TrimSpace(t.WorldID)
	if t.WorldID == "" {
		t.WorldID = d.WorldID
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.Workers <= 0 {
		t.Workers = d.Workers
	}
	if t.WorkPerTick <= 0 {
		t.WorkPerTick = t.Workers
	}
	if t.EditBacklog <= 0 {
		t.EditBacklog = d.EditBacklog
	}
	t.MeshMethod = strings.ToLower(strings.TrimSpace(t.MeshMethod))
	if t.MeshMethod == "" {
		t.MeshMethod = d.MeshMethod
	}
	if t.EditRate.Burst <= 0 {
		t.EditRate.Burst = 1
	}
}

func (t Tuning) Validate() error {
	if t.ChunkSize < 2 || t.ChunkSize > 128 {
		return fmt.Errorf("chunk_size must be in [2,128], got %d", t.ChunkSize)
	}
	if !(t.VoxelSize > 0) {
		return fmt.Errorf("voxel_size must be > 0, got %v", t.VoxelSize)
	}
	if !(t.ActiveRadius > 0) {
		return fmt.Errorf("active_radius must be > 0, got %v", t.ActiveRadius)
	}
	if _, err := surface.ParseMethod(t.MeshMethod); err != nil {
		return err
	}
	if err := t.Noise.Config.Validate(); err != nil {
		return fmt.Errorf("noise: %w", err)
	}
	if !(t.Terrain.HeightScale > 0) {
		return fmt.Errorf("terrain.height_scale must be > 0, got %v", t.Terrain.HeightScale)
	}
	for i := 0; i < 3; i++ {
		if t.Bounds.Min[i] > t.Bounds.Max[i] {
			return errors.New("bounds.min must not exceed bounds.max")
		}
	}
	if t.EditRate.PerSecond < 0 {
		return fmt.Errorf("edit_rate.per_second must be >= 0, got %v", t.EditRate.PerSecond)
	}
	return nil
}

func (t Tuning) TickInterval() time.Duration {
	return time.Second / time.Duration(t.TickRateHz)
}

func (t Tuning) TerrainConfig() noise.TerrainConfig {
	return noise.TerrainConfig{
		Noise:          t.Noise.Config,
		WarpFrequency:  t.Noise.WarpFrequency,
		WarpAmplitude:  t.Noise.WarpAmplitude,
		BaseHeight:     t.Terrain.BaseHeight,
		HeightScale:    t.Terrain.HeightScale,
		DirtLine:       t.Terrain.DirtLine,
		GrassLine:      t.Terrain.GrassLine,
		SnowLine:       t.Terrain.SnowLine,
		MaterialJitter: t.Terrain.MaterialJitter,
	}
}

func (t Tuning) GenBounds() gen.Bounds {
	return gen.Bounds{
		Min: volume.KeyFromArray(t.Bounds.Min),
		Max: volume.KeyFromArray(t.Bounds.Max),
	}
}

func (t Tuning) Method() surface.Method {
	m, _ := surface.ParseMethod(t.MeshMethod)
	return m
}
