package volume

import (
	"fmt"
	"strings"
)

// ChunkKey is a chunk coordinate in chunk space.
type ChunkKey struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (k ChunkKey) String() string { return fmt.Sprintf("(%d,%d,%d)", k.X, k.Y, k.Z) }

func (k ChunkKey) Add(dx, dy, dz int) ChunkKey {
	return ChunkKey{X: k.X + dx, Y: k.Y + dy, Z: k.Z + dz}
}

func (k ChunkKey) Array() [3]int { return [3]int{k.X, k.Y, k.Z} }

func KeyFromArray(a [3]int) ChunkKey { return ChunkKey{X: a[0], Y: a[1], Z: a[2]} }

// Less orders keys by X, then Y, then Z.
func (k ChunkKey) Less(o ChunkKey) bool {
	if k.X != o.X {
		return k.X < o.X
	}
	if k.Y != o.Y {
		return k.Y < o.Y
	}
	return k.Z < o.Z
}

// Coord is a voxel position local to a chunk.
type Coord struct {
	X, Y, Z int
}

type Material uint8

const (
	MaterialNone Material = iota
	MaterialWater
	MaterialRock
	MaterialDirt
	MaterialGrass
	MaterialSnow
)

var materialNames = [...]string{"none", "water", "rock", "dirt", "grass", "snow"}

func (m Material) String() string {
	if int(m) < len(materialNames) {
		return materialNames[m]
	}
	return fmt.Sprintf("material(%d)", uint8(m))
}

func (m Material) Valid() bool { return int(m) < len(materialNames) }

func ParseMaterial(s string) (Material, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range materialNames {
		if n == s {
			return Material(i), nil
		}
	}
	return MaterialNone, fmt.Errorf("unknown material %q", s)
}

// Voxel is one density sample. Density > 0 is inside the surface; zero
// and below are outside.
type Voxel struct {
	Density  float32
	Material Material
}

func (v Voxel) Inside() bool { return v.Density > 0 }
