package noise

import (
	"math"

	"voxelterrain.ai/internal/terrain/mathx"
)

// Perlin is improved gradient noise over a seeded permutation. It is
// immutable after construction and safe for concurrent use.
type Perlin struct {
	perm [512]uint8
}

func NewPerlin(seed int64) *Perlin {
	var base [256]uint8
	for i := range base {
		base[i] = uint8(i)
	}
	s := uint64(seed)
	for i := 255; i > 0; i-- {
		s = mathx.Mix64(s)
		j := int(s % uint64(i+1))
		base[i], base[j] = base[j], base[i]
	}
	p := &Perlin{}
	for i := range p.perm {
		p.perm[i] = base[i&255]
	}
	return p
}

func fade(t float64) float64 { return t * t * t * (t*(t*6-15) + 10) }

func lerp(t, a, b float64) float64 { return a + t*(b-a) }

func grad(hash uint8, x, y, z float64) float64 {
	h := hash & 15
	u := y
	if h < 8 {
		u = x
	}
	var v float64
	switch {
	case h < 4:
		v = y
	case h == 12 || h == 14:
		v = x
	default:
		v = z
	}
	if h&1 != 0 {
		u = -u
	}
	if h&2 != 0 {
		v = -v
	}
	return u + v
}

// Noise3 returns a value in roughly [-1, 1], zero at integer lattice points.
func (p *Perlin) Noise3(x, y, z float64) float64 {
	fx, fy, fz := math.Floor(x), math.Floor(y), math.Floor(z)
	xi, yi, zi := int(int64(fx))&255, int(int64(fy))&255, int(int64(fz))&255
	x, y, z = x-fx, y-fy, z-fz
	u, v, w := fade(x), fade(y), fade(z)

	perm := &p.perm
	a := int(perm[xi]) + yi
	aa := int(perm[a]) + zi
	ab := int(perm[a+1]) + zi
	b := int(perm[xi+1]) + yi
	ba := int(perm[b]) + zi
	bb := int(perm[b+1]) + zi

	return lerp(w,
		lerp(v,
			lerp(u, grad(perm[aa], x, y, z), grad(perm[ba], x-1, y, z)),
			lerp(u, grad(perm[ab], x, y-1, z), grad(perm[bb], x-1, y-1, z))),
		lerp(v,
			lerp(u, grad(perm[aa+1], x, y, z-1), grad(perm[ba+1], x-1, y, z-1)),
			lerp(u, grad(perm[ab+1], x, y-1, z-1), grad(perm[bb+1], x-1, y-1, z-1))))
}
