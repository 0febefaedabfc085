package volume

import (
	"encoding/hex"
	"fmt"

	"voxelterrain.ai/internal/encoding"
	snapv1 "voxelterrain.ai/internal/persistence/snapshot"
)

// ExportChunk converts a chunk into its save form.
func ExportChunk(worldID string, c *Chunk) snapv1.ChunkV1 {
	vs := c.Voxels()
	packed := make([]uint64, len(vs))
	for i, v := range vs {
		packed[i] = Pack(v)
	}
	d := c.Digest()
	return snapv1.ChunkV1{
		Header: snapv1.Header{
			Version: snapv1.FormatVersion,
			WorldID: worldID,
			Chunk:   c.key.Array(),
			Edit:    c.version,
		},
		Size:   c.size,
		Voxels: encoding.EncodeRLE(packed),
		Digest: hex.EncodeToString(d[:]),
	}
}

// ImportChunk restores voxel data and edit version into c. The chunk's
// state is left untouched.
func ImportChunk(c *Chunk, snap snapv1.ChunkV1) error {
	if snap.Size != c.size {
		return fmt.Errorf("snapshot chunk size mismatch: got %d want %d", snap.Size, c.size)
	}
	if KeyFromArray(snap.Header.Chunk) != c.key {
		return fmt.Errorf("snapshot chunk key mismatch: got %v want %v", snap.Header.Chunk, c.key)
	}
	n := c.size * c.size * c.size
	packed, err := encoding.DecodeRLE(snap.Voxels, n)
	if err != nil {
		return fmt.Errorf("chunk %v voxels: %w", c.key, err)
	}
	if len(packed) != n {
		return fmt.Errorf("snapshot chunk voxel count mismatch: got %d want %d", len(packed), n)
	}
	vs := make([]Voxel, n)
	for i, w := range packed {
		vs[i] = Unpack(w)
	}
	if err := c.Load(vs); err != nil {
		return err
	}
	if snap.Digest != "" {
		d := c.Digest()
		if hex.EncodeToString(d[:]) != snap.Digest {
			return fmt.Errorf("chunk %v: digest mismatch", c.key)
		}
	}
	c.version = snap.Header.Edit
	return nil
}
