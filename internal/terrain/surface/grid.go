package surface

import (
	"voxelterrain.ai/internal/terrain/mathx"
	"voxelterrain.ai/internal/terrain/volume"
)

// Sampler supplies voxels for positions outside any readable chunk.
type Sampler interface {
	SampleVoxel(wx, wy, wz int) volume.Voxel
}

// Grid is a read-only copy of one chunk plus the neighbor voxels
// extraction needs: one layer below and two above on each axis.
type Grid struct {
	Key     volume.ChunkKey
	Version uint64
	Size    int

	origin [3]int // world voxel coordinate of local (0,0,0)
	n      int
	data   []volume.Voxel
}

const padLo = 1

// NewGrid returns a grid for a chunk of the given size with all voxels zero.
func NewGrid(key volume.ChunkKey, size int) *Grid {
	n := size + 3
	return &Grid{
		Key:    key,
		Size:   size,
		origin: [3]int{key.X * size, key.Y * size, key.Z * size},
		n:      n,
		data:   make([]volume.Voxel, n*n*n),
	}
}

func (g *Grid) index(lx, ly, lz int) int {
	return ((lz+padLo)*g.n+(ly+padLo))*g.n + (lx + padLo)
}

// At reads local coordinates in [-1, Size+1].
func (g *Grid) At(lx, ly, lz int) volume.Voxel { return g.data[g.index(lx, ly, lz)] }

func (g *Grid) density(lx, ly, lz int) float64 {
	return float64(g.data[g.index(lx, ly, lz)].Density)
}

func (g *Grid) Set(lx, ly, lz int, v volume.Voxel) { g.data[g.index(lx, ly, lz)] = v }

// Capture copies ch and its neighborhood out of the store. Neighbors are
// read from resident chunks with complete voxel data; anything else comes
// from fallback. The caller must not be racing writers of ch or of the
// neighbors it reads.
func Capture(store *volume.Store, ch *volume.Chunk, fallback Sampler) *Grid {
	size := ch.Size()
	g := NewGrid(ch.Key(), size)
	g.Version = ch.Version()

	neighbors := map[volume.ChunkKey]*volume.Chunk{ch.Key(): ch}
	lookup := func(k volume.ChunkKey) *volume.Chunk {
		if c, ok := neighbors[k]; ok {
			return c
		}
		var c *volume.Chunk
		if store != nil {
			if got, ok := store.Get(k); ok && got.State().HasVoxels() {
				c = got
			}
		}
		neighbors[k] = c
		return c
	}

	for lz := -padLo; lz <= size+1; lz++ {
		for ly := -padLo; ly <= size+1; ly++ {
			for lx := -padLo; lx <= size+1; lx++ {
				wx, wy, wz := g.origin[0]+lx, g.origin[1]+ly, g.origin[2]+lz
				k := volume.ChunkKey{X: mathx.FloorDiv(wx, size), Y: mathx.FloorDiv(wy, size), Z: mathx.FloorDiv(wz, size)}
				var v volume.Voxel
				if c := lookup(k); c != nil {
					v = c.Get(volume.Coord{X: mathx.Mod(wx, size), Y: mathx.Mod(wy, size), Z: mathx.Mod(wz, size)})
				} else if fallback != nil {
					v = fallback.SampleVoxel(wx, wy, wz)
				}
				g.Set(lx, ly, lz, v)
			}
		}
	}
	return g
}
