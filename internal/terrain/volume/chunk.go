package volume

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// brick is a cubic sub-block of a chunk. A uniform brick holds one value
// and no array.
type brick struct {
	fill Voxel
	data []Voxel
}

// Chunk is one cubic region of the grid.
//
// State, version and mesh are touched only by the goroutine coordinating
// the chunk's lifecycle. Voxel data is written by whoever owns the chunk
// for its current state: a generation worker while Generating, the
// coordinator otherwise.
type Chunk struct {
	key  ChunkKey
	size int
	bs   int // brick edge
	nb   int // bricks per axis

	state   State
	version uint64
	mesh    *Mesh

	// bricks is nil while the whole chunk holds the single value fill.
	fill   Voxel
	bricks []brick
}

func NewChunk(key ChunkKey, size int) *Chunk {
	if size <= 0 {
		panic(fmt.Sprintf("volume: chunk size %d", size))
	}
	bs := size
	switch {
	case size%8 == 0 && size > 8:
		bs = 8
	case size%4 == 0 && size > 4:
		bs = 4
	}
	return &Chunk{key: key, size: size, bs: bs, nb: size / bs}
}

func (c *Chunk) Key() ChunkKey   { return c.key }
func (c *Chunk) Size() int       { return c.size }
func (c *Chunk) State() State    { return c.state }
func (c *Chunk) Version() uint64 { return c.version }
func (c *Chunk) Mesh() *Mesh     { return c.mesh }

// Origin is the world voxel coordinate of local (0,0,0).
func (c *Chunk) Origin() (x, y, z int) {
	return c.key.X * c.size, c.key.Y * c.size, c.key.Z * c.size
}

// Transition moves the chunk to a new state if the lifecycle allows it.
func (c *Chunk) Transition(to State) error {
	if !CanTransition(c.state, to) {
		return &TransitionError{Key: c.key, From: c.state, To: to}
	}
	c.state = to
	return nil
}

// BumpVersion advances the edit version and returns the new value.
func (c *Chunk) BumpVersion() uint64 {
	c.version++
	return c.version
}

// SetVersion is used when restoring a saved chunk.
func (c *Chunk) SetVersion(v uint64) { c.version = v }

func (c *Chunk) SetMesh(m *Mesh) { c.mesh = m }

// MeshCurrent reports whether the held mesh was built from the current data.
func (c *Chunk) MeshCurrent() bool {
	return c.mesh != nil && c.mesh.Version == c.version
}

func (c *Chunk) contains(p Coord) bool {
	return p.X >= 0 && p.Y >= 0 && p.Z >= 0 && p.X < c.size && p.Y < c.size && p.Z < c.size
}

func (c *Chunk) brickIndex(p Coord) (bi, vi int) {
	bx, by, bz := p.X/c.bs, p.Y/c.bs, p.Z/c.bs
	lx, ly, lz := p.X%c.bs, p.Y%c.bs, p.Z%c.bs
	return (bz*c.nb+by)*c.nb + bx, (lz*c.bs+ly)*c.bs + lx
}

// Get returns the voxel at local p. Out-of-range positions read as the zero voxel.
func (c *Chunk) Get(p Coord) Voxel {
	if !c.contains(p) {
		return Voxel{}
	}
	if c.bricks == nil {
		return c.fill
	}
	bi, vi := c.brickIndex(p)
	b := &c.bricks[bi]
	if b.data == nil {
		return b.fill
	}
	return b.data[vi]
}

// Set writes one voxel, expanding compact storage as needed. It does not
// touch the edit version; see Store.WriteVoxel.
func (c *Chunk) Set(p Coord, v Voxel) {
	if !c.contains(p) {
		panic(fmt.Sprintf("volume: local coord %v outside chunk of size %d", p, c.size))
	}
	if c.bricks == nil {
		if v == c.fill {
			return
		}
		c.bricks = make([]brick, c.nb*c.nb*c.nb)
		for i := range c.bricks {
			c.bricks[i].fill = c.fill
		}
	}
	bi, vi := c.brickIndex(p)
	b := &c.bricks[bi]
	if b.data == nil {
		if v == b.fill {
			return
		}
		n := c.bs * c.bs * c.bs
		b.data = make([]Voxel, n)
		for i := range b.data {
			b.data[i] = b.fill
		}
	}
	b.data[vi] = v
}

// Fill replaces all voxels with v.
func (c *Chunk) Fill(v Voxel) {
	c.fill = v
	c.bricks = nil
}

// Compact collapses uniform bricks, and the whole chunk when every brick
// holds the same value.
func (c *Chunk) Compact() {
	if c.bricks == nil {
		return
	}
	for i := range c.bricks {
		b := &c.bricks[i]
		if b.data == nil {
			continue
		}
		first := b.data[0]
		uniform := true
		for _, v := range b.data[1:] {
			if v != first {
				uniform = false
				break
			}
		}
		if uniform {
			b.fill = first
			b.data = nil
		}
	}
	first := c.bricks[0]
	if first.data != nil {
		return
	}
	for _, b := range c.bricks[1:] {
		if b.data != nil || b.fill != first.fill {
			return
		}
	}
	c.Fill(first.fill)
}

// Uniform reports whether the chunk is stored as a single value.
func (c *Chunk) Uniform() (Voxel, bool) {
	if c.bricks == nil {
		return c.fill, true
	}
	return Voxel{}, false
}

// DenseBricks counts bricks holding a full voxel array.
func (c *Chunk) DenseBricks() int {
	n := 0
	for _, b := range c.bricks {
		if b.data != nil {
			n++
		}
	}
	return n
}

// MemoryBytes approximates the voxel payload size.
func (c *Chunk) MemoryBytes() int {
	return c.DenseBricks() * c.bs * c.bs * c.bs * 8
}

// Index maps a local coordinate to its position in Voxels order (x fastest).
func (c *Chunk) Index(p Coord) int { return (p.Z*c.size+p.Y)*c.size + p.X }

// Voxels returns a dense copy in x-fastest order.
func (c *Chunk) Voxels() []Voxel {
	out := make([]Voxel, c.size*c.size*c.size)
	i := 0
	for z := 0; z < c.size; z++ {
		for y := 0; y < c.size; y++ {
			for x := 0; x < c.size; x++ {
				out[i] = c.Get(Coord{x, y, z})
				i++
			}
		}
	}
	return out
}

// Load replaces the voxel data from a dense x-fastest slice and compacts.
func (c *Chunk) Load(vs []Voxel) error {
	if len(vs) != c.size*c.size*c.size {
		return fmt.Errorf("voxel count mismatch: got %d want %d", len(vs), c.size*c.size*c.size)
	}
	c.Fill(vs[0])
	i := 0
	for z := 0; z < c.size; z++ {
		for y := 0; y < c.size; y++ {
			for x := 0; x < c.size; x++ {
				c.Set(Coord{x, y, z}, vs[i])
				i++
			}
		}
	}
	c.Compact()
	return nil
}

// Pack encodes a voxel as density bits above the material byte.
func Pack(v Voxel) uint64 {
	return uint64(math.Float32bits(v.Density))<<8 | uint64(v.Material)
}

func Unpack(w uint64) Voxel {
	return Voxel{Density: math.Float32frombits(uint32(w >> 8)), Material: Material(w & 0xff)}
}

// Digest hashes the voxel payload. Equal digests mean bit-identical data
// regardless of how it is stored.
func (c *Chunk) Digest() [32]byte {
	h := sha256.New()
	var tmp [8]byte
	for z := 0; z < c.size; z++ {
		for y := 0; y < c.size; y++ {
			for x := 0; x < c.size; x++ {
				binary.LittleEndian.PutUint64(tmp[:], Pack(c.Get(Coord{x, y, z})))
				h.Write(tmp[:])
			}
		}
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// release drops voxel and mesh references after eviction.
func (c *Chunk) release() {
	c.bricks = nil
	c.mesh = nil
	c.state = StateEvicted
}
