package gen

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain.ai/internal/terrain/noise"
	"voxelterrain.ai/internal/terrain/volume"
)

var ErrOutOfBounds = errors.New("chunk outside world bounds")

// Bounds is an inclusive box in chunk coordinates. The zero value is unbounded.
type Bounds struct {
	Min, Max volume.ChunkKey
}

func (b Bounds) Unbounded() bool { return b == Bounds{} }

func (b Bounds) Contains(k volume.ChunkKey) bool {
	if b.Unbounded() {
		return true
	}
	return k.X >= b.Min.X && k.X <= b.Max.X &&
		k.Y >= b.Min.Y && k.Y <= b.Max.Y &&
		k.Z >= b.Min.Z && k.Z <= b.Max.Z
}

// Generator fills chunks from a noise field. It holds no mutable state and
// may be shared by any number of workers.
type Generator struct {
	field     noise.Field
	size      int
	voxelSize float64
	bounds    Bounds
}

func New(field noise.Field, chunkSize int, voxelSize float64, bounds Bounds) *Generator {
	return &Generator{field: field, size: chunkSize, voxelSize: voxelSize, bounds: bounds}
}

func (g *Generator) ChunkSize() int     { return g.size }
func (g *Generator) VoxelSize() float64 { return g.voxelSize }
func (g *Generator) Bounds() Bounds     { return g.bounds }
func (g *Generator) Field() noise.Field { return g.field }

func (g *Generator) InBounds(k volume.ChunkKey) bool { return g.bounds.Contains(k) }

// WorldPos maps a world voxel coordinate to continuous space.
func (g *Generator) WorldPos(wx, wy, wz int) mgl64.Vec3 {
	return mgl64.Vec3{float64(wx) * g.voxelSize, float64(wy) * g.voxelSize, float64(wz) * g.voxelSize}
}

// SampleVoxel is the voxel generation produces at a world voxel coordinate.
func (g *Generator) SampleVoxel(wx, wy, wz int) volume.Voxel {
	p := g.WorldPos(wx, wy, wz)
	d := float32(g.field.Sample(p))
	if d > 0 {
		return volume.Voxel{Density: d, Material: g.field.SampleMaterial(p)}
	}
	return volume.Voxel{Density: d}
}

// Generate runs the full Empty -> Generating -> Filled sequence on ch.
func (g *Generator) Generate(ch *volume.Chunk) error {
	if !g.InBounds(ch.Key()) {
		return fmt.Errorf("chunk %v: %w", ch.Key(), ErrOutOfBounds)
	}
	if err := ch.Transition(volume.StateGenerating); err != nil {
		return err
	}
	if err := g.Fill(ch); err != nil {
		_ = ch.Transition(volume.StateEmpty)
		return err
	}
	return ch.Transition(volume.StateFilled)
}

// Fill samples every voxel of ch. The caller must own ch's data.
func (g *Generator) Fill(ch *volume.Chunk) error {
	if ch.Size() != g.size {
		return fmt.Errorf("chunk %v: size %d, generator size %d", ch.Key(), ch.Size(), g.size)
	}
	ox, oy, oz := ch.Origin()
	vs := make([]volume.Voxel, g.size*g.size*g.size)
	i := 0
	for z := 0; z < g.size; z++ {
		for y := 0; y < g.size; y++ {
			for x := 0; x < g.size; x++ {
				vs[i] = g.SampleVoxel(ox+x, oy+y, oz+z)
				i++
			}
		}
	}
	return ch.Load(vs)
}
