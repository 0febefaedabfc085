package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const FormatVersion = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Chunk   [3]int `json:"chunk"`
	Edit    uint64 `json:"edit_version"`
}

// ChunkV1 is the on-disk form of one edited chunk: its coordinate, edit
// version and the run-length voxel payload.
type ChunkV1 struct {
	Header Header `json:"header"`

	Size   int    `json:"size"`
	Voxels []byte `json:"voxels"`
	Digest string `json:"digest"`
}

// WorldV1 describes the parameters a saved region was generated with.
// Chunks saved under one set of parameters are meaningless under another.
type WorldV1 struct {
	Version   int     `json:"version"`
	WorldID   string  `json:"world_id"`
	Seed      int64   `json:"seed"`
	ChunkSize int     `json:"chunk_size"`
	VoxelSize float64 `json:"voxel_size"`
	BoundsMin [3]int  `json:"bounds_min"`
	BoundsMax [3]int  `json:"bounds_max"`
}

func WriteChunk(path string, snap ChunkV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeChunkFile(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeChunkFile(path string, snap ChunkV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 64*1024)
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadChunk(path string) (ChunkV1, error) {
	var snap ChunkV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// The header line is for tooling; gob carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != FormatVersion {
		return snap, fmt.Errorf("unsupported chunk format version %d", snap.Header.Version)
	}
	return snap, nil
}

// DirArchive stores one file per chunk under <root>/chunks.
type DirArchive struct {
	root string
}

func NewDirArchive(root string) *DirArchive {
	return &DirArchive{root: root}
}

func (a *DirArchive) ChunkPath(key [3]int) string {
	name := fmt.Sprintf("%d_%d_%d.chunk.zst", key[0], key[1], key[2])
	return filepath.Join(a.root, "chunks", name)
}

func (a *DirArchive) SaveChunk(snap ChunkV1) error {
	return WriteChunk(a.ChunkPath(snap.Header.Chunk), snap)
}

// LoadChunk returns ok=false when no save exists for key.
func (a *DirArchive) LoadChunk(key [3]int) (ChunkV1, bool, error) {
	snap, err := ReadChunk(a.ChunkPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return ChunkV1{}, false, nil
	}
	if err != nil {
		return ChunkV1{}, false, fmt.Errorf("chunk %v: %w", key, err)
	}
	if snap.Header.Chunk != key {
		return ChunkV1{}, false, fmt.Errorf("chunk %v: file holds %v", key, snap.Header.Chunk)
	}
	return snap, true, nil
}

// Keys lists saved chunk coordinates in sorted order.
func (a *DirArchive) Keys() ([][3]int, error) {
	ents, err := os.ReadDir(filepath.Join(a.root, "chunks"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out [][3]int
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".chunk.zst") {
			continue
		}
		parts := strings.Split(strings.TrimSuffix(name, ".chunk.zst"), "_")
		if len(parts) != 3 {
			continue
		}
		var k [3]int
		ok := true
		for i, p := range parts {
			v, err := strconv.Atoi(p)
			if err != nil {
				ok = false
				break
			}
			k[i] = v
		}
		if ok {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		for d := 0; d < 3; d++ {
			if out[i][d] != out[j][d] {
				return out[i][d] < out[j][d]
			}
		}
		return false
	})
	return out, nil
}

func (a *DirArchive) metaPath() string { return filepath.Join(a.root, "world.json") }

// EnsureWorld records w on first use and rejects a mismatch afterwards.
func (a *DirArchive) EnsureWorld(w WorldV1) error {
	w.Version = FormatVersion
	b, err := os.ReadFile(a.metaPath())
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(a.root, 0o755); err != nil {
			return err
		}
		out, _ := json.MarshalIndent(w, "", "  ")
		return os.WriteFile(a.metaPath(), append(out, '\n'), 0o644)
	}
	if err != nil {
		return err
	}
	var have WorldV1
	if err := json.Unmarshal(b, &have); err != nil {
		return fmt.Errorf("world.json: %w", err)
	}
	if have != w {
		return fmt.Errorf("world.json: saved parameters %+v do not match %+v", have, w)
	}
	return nil
}

func (a *DirArchive) ReadWorld() (WorldV1, error) {
	var w WorldV1
	b, err := os.ReadFile(a.metaPath())
	if err != nil {
		return w, err
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return w, fmt.Errorf("world.json: %w", err)
	}
	return w, nil
}
