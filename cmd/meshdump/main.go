package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"voxelterrain.ai/internal/persistence/snapshot"
	"voxelterrain.ai/internal/terrain/gen"
	"voxelterrain.ai/internal/terrain/noise"
	"voxelterrain.ai/internal/terrain/surface"
	"voxelterrain.ai/internal/terrain/volume"
	"voxelterrain.ai/internal/tuning"
)

// meshdump generates (or loads) a box of chunks and writes their surface
// as a Wavefront OBJ file, without running the streaming server.
func main() {
	var (
		configPath = flag.String("config", "./configs/terrain.yaml", "path to terrain.yaml")
		dataDir    = flag.String("data", "", "runtime data directory; archived edits are used when set")
		worldID    = flag.String("world", "", "world id (overrides world_id in the config)")
		from       = flag.String("from", "-2,-1,-2", "first chunk x,y,z (inclusive)")
		to         = flag.String("to", "1,1,1", "last chunk x,y,z (inclusive)")
		method     = flag.String("method", "", "mesh method override: marching_cubes|cubes")
		out        = flag.String("out", "terrain.obj", "output path (.zst appends zstd compression, - for stdout)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[meshdump] ", log.LstdFlags)

	tune, err := tuning.Load(*configPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if id := strings.TrimSpace(*worldID); id != "" {
		tune.WorldID = id
	}
	if *method != "" {
		tune.MeshMethod = *method
		if err := tune.Validate(); err != nil {
			logger.Fatalf("tuning: %v", err)
		}
	}
	lo, err := parseKey(*from)
	if err != nil {
		logger.Fatalf("bad -from: %v", err)
	}
	hi, err := parseKey(*to)
	if err != nil {
		logger.Fatalf("bad -to: %v", err)
	}

	field, err := noise.NewTerrain(tune.TerrainConfig())
	if err != nil {
		logger.Fatalf("terrain field: %v", err)
	}
	g := gen.New(field, tune.ChunkSize, tune.VoxelSize, tune.GenBounds())
	x := &surface.Extractor{Method: tune.Method(), VoxelSize: tune.VoxelSize, Fallback: g}

	var archive *snapshot.DirArchive
	if *dataDir != "" {
		archive = snapshot.NewDirArchive(filepath.Join(*dataDir, "worlds", tune.WorldID))
	}

	meshes, stats, err := build(volume.NewStore(tune.ChunkSize), g, x, archive, lo, hi)
	if err != nil {
		logger.Fatalf("build: %v", err)
	}

	w, closeOut, err := openOut(*out)
	if err != nil {
		logger.Fatalf("open %s: %v", *out, err)
	}
	tris, err := WriteOBJ(w, meshes)
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	if err != nil {
		logger.Fatalf("write %s: %v", *out, err)
	}
	logger.Printf("wrote %s: %d chunks, %d triangles, %d ambiguous faces, %d degenerate triangles",
		*out, len(meshes), tris, stats.AmbiguousFaces, stats.DegenerateTriangles)
}

// build fills every chunk of the box first so extraction sees real
// neighbours at the seams, then meshes them in key order.
func build(store *volume.Store, g *gen.Generator, x *surface.Extractor, archive *snapshot.DirArchive, lo, hi volume.ChunkKey) ([]*volume.Mesh, surface.Stats, error) {
	var total surface.Stats
	var keys []volume.ChunkKey
	for cz := lo.Z; cz <= hi.Z; cz++ {
		for cy := lo.Y; cy <= hi.Y; cy++ {
			for cx := lo.X; cx <= hi.X; cx++ {
				k := volume.ChunkKey{X: cx, Y: cy, Z: cz}
				if !g.InBounds(k) {
					continue
				}
				ch, _ := store.Create(k)
				if err := fill(g, archive, ch); err != nil {
					return nil, total, err
				}
				keys = append(keys, k)
			}
		}
	}
	var meshes []*volume.Mesh
	for _, k := range keys {
		ch, _ := store.Get(k)
		m, st, err := x.ExtractChunk(store, ch)
		if err != nil {
			return nil, total, err
		}
		total.Add(st)
		if !m.Empty() {
			meshes = append(meshes, m)
		}
	}
	return meshes, total, nil
}

func fill(g *gen.Generator, archive *snapshot.DirArchive, ch *volume.Chunk) error {
	if archive != nil {
		snap, ok, err := archive.LoadChunk(ch.Key().Array())
		if err != nil {
			return err
		}
		if ok {
			if err := ch.Transition(volume.StateGenerating); err != nil {
				return err
			}
			if err := volume.ImportChunk(ch, snap); err != nil {
				return err
			}
			return ch.Transition(volume.StateFilled)
		}
	}
	return g.Generate(ch)
}

func openOut(path string) (io.Writer, func() error, error) {
	if path == "-" {
		bw := bufio.NewWriter(os.Stdout)
		return bw, bw.Flush, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	if !strings.HasSuffix(path, ".zst") {
		bw := bufio.NewWriter(f)
		return bw, func() error {
			if err := bw.Flush(); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		}, nil
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return enc, func() error {
		if err := enc.Close(); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	}, nil
}

func parseKey(s string) (volume.ChunkKey, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return volume.ChunkKey{}, fmt.Errorf("expected x,y,z")
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return volume.ChunkKey{}, err
		}
		v[i] = n
	}
	return volume.KeyFromArray(v), nil
}
