package gen

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain.ai/internal/terrain/mathx"
	"voxelterrain.ai/internal/terrain/volume"
)

// Edit is a spherical density brush in world units. Negative Delta carves,
// positive Delta builds with Material.
type Edit struct {
	Center   mgl64.Vec3
	Radius   float64
	Delta    float64
	Material volume.Material
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func (e Edit) Validate() error {
	for _, c := range e.Center {
		if !finite(c) {
			return errors.New("edit center must be finite")
		}
	}
	if !(e.Radius > 0) || !finite(e.Radius) {
		return fmt.Errorf("edit radius must be > 0, got %v", e.Radius)
	}
	if !finite(e.Delta) {
		return errors.New("edit delta must be finite")
	}
	if !e.Material.Valid() {
		return fmt.Errorf("unknown material %d", e.Material)
	}
	return nil
}

// Region is the part of an edit that falls inside one chunk: an inclusive
// local voxel box and the brush in local voxel units. A zero Radius
// applies the delta uniformly across the box.
type Region struct {
	Min, Max volume.Coord
	Center   mgl64.Vec3
	Radius   float64
}

func (r Region) weight(p volume.Coord) float64 {
	if r.Radius == 0 {
		return 1
	}
	d := mgl64.Vec3{float64(p.X), float64(p.Y), float64(p.Z)}.Sub(r.Center).Len()
	return mathx.Clamp(r.Radius-d, 0, 1)
}

// voxelBox is the inclusive world voxel range the brush can touch.
func (g *Generator) voxelBox(e Edit) (lo, hi [3]int) {
	for i := 0; i < 3; i++ {
		c := e.Center[i] / g.voxelSize
		r := e.Radius / g.voxelSize
		lo[i] = int(math.Floor(c - r))
		hi[i] = int(math.Ceil(c + r))
	}
	return lo, hi
}

func (g *Generator) keyRange(lo, hi [3]int, padLo, padHi int) []volume.ChunkKey {
	var out []volume.ChunkKey
	x0, x1 := mathx.FloorDiv(lo[0]-padLo, g.size), mathx.FloorDiv(hi[0]+padHi, g.size)
	y0, y1 := mathx.FloorDiv(lo[1]-padLo, g.size), mathx.FloorDiv(hi[1]+padHi, g.size)
	z0, z1 := mathx.FloorDiv(lo[2]-padLo, g.size), mathx.FloorDiv(hi[2]+padHi, g.size)
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			for z := z0; z <= z1; z++ {
				k := volume.ChunkKey{X: x, Y: y, Z: z}
				if g.InBounds(k) {
					out = append(out, k)
				}
			}
		}
	}
	return out
}

// WriteChunks lists the chunks whose voxels an edit may change.
func (g *Generator) WriteChunks(e Edit) []volume.ChunkKey {
	lo, hi := g.voxelBox(e)
	return g.keyRange(lo, hi, 0, 0)
}

// RemeshChunks lists the chunks whose meshes read voxels an edit may
// change. Extraction reads one voxel below and two above each chunk.
func (g *Generator) RemeshChunks(e Edit) []volume.ChunkKey {
	lo, hi := g.voxelBox(e)
	return g.keyRange(lo, hi, 2, 1)
}

// RegionFor clips an edit to chunk k. ok is false when they do not overlap.
func (g *Generator) RegionFor(e Edit, k volume.ChunkKey) (Region, bool) {
	lo, hi := g.voxelBox(e)
	o := [3]int{k.X * g.size, k.Y * g.size, k.Z * g.size}
	var r Region
	var mn, mx [3]int
	for i := 0; i < 3; i++ {
		mn[i] = mathx.MaxInt(lo[i]-o[i], 0)
		mx[i] = mathx.MinInt(hi[i]-o[i], g.size-1)
		if mn[i] > mx[i] {
			return Region{}, false
		}
		r.Center[i] = e.Center[i]/g.voxelSize - float64(o[i])
	}
	r.Min = volume.Coord{X: mn[0], Y: mn[1], Z: mn[2]}
	r.Max = volume.Coord{X: mx[0], Y: mx[1], Z: mx[2]}
	r.Radius = e.Radius / g.voxelSize
	return r, true
}

// ApplyEdit adds delta, weighted by the region's falloff, to the voxels in
// r. Densities stay within [-1, 1]. Voxels crossing to inside take
// material mat (rock when mat is none); voxels crossing to outside lose
// theirs. The edit version always advances and a Ready chunk becomes
// Stale. Filled, Meshing and Stale chunks keep their state: none of them
// shows a mesh built from the new voxels yet. It returns the number of
// voxels changed.
func ApplyEdit(ch *volume.Chunk, r Region, delta float64, mat volume.Material) (int, error) {
	if !ch.State().HasVoxels() {
		return 0, fmt.Errorf("edit chunk %v in state %v: %w", ch.Key(), ch.State(), volume.ErrInvalidTransition)
	}
	if mat == volume.MaterialNone {
		mat = volume.MaterialRock
	}
	changed := 0
	for z := r.Min.Z; z <= r.Max.Z; z++ {
		for y := r.Min.Y; y <= r.Max.Y; y++ {
			for x := r.Min.X; x <= r.Max.X; x++ {
				p := volume.Coord{X: x, Y: y, Z: z}
				w := r.weight(p)
				if w <= 0 {
					continue
				}
				old := ch.Get(p)
				nv := volume.Voxel{
					Density:  float32(mathx.Clamp(float64(old.Density)+delta*w, -1, 1)),
					Material: old.Material,
				}
				switch {
				case nv.Density <= 0:
					nv.Material = volume.MaterialNone
				case old.Density <= 0 || old.Material == volume.MaterialNone:
					nv.Material = mat
				}
				if nv != old {
					ch.Set(p, nv)
					changed++
				}
			}
		}
	}
	ch.Compact()
	ch.BumpVersion()
	if ch.State() == volume.StateReady {
		if err := ch.Transition(volume.StateStale); err != nil {
			return changed, err
		}
	}
	return changed, nil
}
