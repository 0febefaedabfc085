package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	persistlog "voxelterrain.ai/internal/persistence/log"
	"voxelterrain.ai/internal/persistence/snapshot"
	"voxelterrain.ai/internal/terrain/volume"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "chunks":
			chunksCmd(os.Args[2:])
			return
		case "chunk":
			chunkCmd(os.Args[2:])
			return
		case "edits":
			editsCmd(os.Args[2:])
			return
		case "reset":
			resetCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "flush":
			flushCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "worlds"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		w, err := snapshot.NewDirArchive(filepath.Join(*dataDir, "worlds", e.Name())).ReadWorld()
		if err != nil {
			fmt.Println(e.Name())
			continue
		}
		printJSON(w)
	}
}

func worldArchive(dataDir, worldID string) *snapshot.DirArchive {
	if strings.TrimSpace(worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	return snapshot.NewDirArchive(filepath.Join(dataDir, "worlds", worldID))
}

func chunksCmd(args []string) {
	fs := flag.NewFlagSet("chunks", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	aabb := fs.String("aabb", "", "chunk box filter: x1,y1,z1:x2,y2,z2 (optional)")
	_ = fs.Parse(args)

	a := worldArchive(*dataDir, *worldID)
	keys, err := filterKeys(a, *aabb)
	if err != nil {
		fmt.Fprintln(os.Stderr, "chunks:", err)
		os.Exit(1)
	}
	for _, k := range keys {
		snap, ok, err := a.LoadChunk(k)
		if err != nil || !ok {
			fmt.Fprintf(os.Stderr, "chunk %v: %v\n", k, err)
			continue
		}
		printJSON(struct {
			Chunk  [3]int `json:"chunk"`
			Edit   uint64 `json:"edit"`
			Bytes  int    `json:"bytes"`
			Digest string `json:"digest"`
		}{k, snap.Header.Edit, len(snap.Voxels), snap.Digest})
	}
}

// chunkCmd decodes one archived chunk and checks its digest.
func chunkCmd(args []string) {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	at := fs.String("at", "", "chunk coordinate x,y,z")
	_ = fs.Parse(args)

	a := worldArchive(*dataDir, *worldID)
	k, err := parseVec3(*at)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -at:", err)
		os.Exit(2)
	}
	info, err := inspectChunk(a, k)
	if err != nil {
		fmt.Fprintln(os.Stderr, "chunk:", err)
		os.Exit(1)
	}
	printJSON(info)
}

type chunkInfo struct {
	Chunk       [3]int         `json:"chunk"`
	Edit        uint64         `json:"edit"`
	Size        int            `json:"size"`
	Digest      string         `json:"digest"`
	Uniform     bool           `json:"uniform"`
	DenseBricks int            `json:"dense_bricks"`
	MemoryBytes int            `json:"memory_bytes"`
	Inside      int            `json:"inside_voxels"`
	Materials   map[string]int `json:"materials"`
}

func inspectChunk(a *snapshot.DirArchive, k [3]int) (chunkInfo, error) {
	snap, ok, err := a.LoadChunk(k)
	if err != nil {
		return chunkInfo{}, err
	}
	if !ok {
		return chunkInfo{}, fmt.Errorf("chunk %v: not archived", k)
	}
	ch := volume.NewChunk(volume.KeyFromArray(k), snap.Size)
	if err := volume.ImportChunk(ch, snap); err != nil {
		return chunkInfo{}, err
	}
	d := ch.Digest()
	info := chunkInfo{
		Chunk:       k,
		Edit:        ch.Version(),
		Size:        snap.Size,
		Digest:      hex.EncodeToString(d[:]),
		DenseBricks: ch.DenseBricks(),
		MemoryBytes: ch.MemoryBytes(),
		Materials:   map[string]int{},
	}
	_, info.Uniform = ch.Uniform()
	for _, v := range ch.Voxels() {
		if v.Inside() {
			info.Inside++
			info.Materials[v.Material.String()]++
		}
	}
	return info, nil
}

func editsCmd(args []string) {
	fs := flag.NewFlagSet("edits", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	limit := fs.Int("limit", 0, "print only the last N edits (0 = all)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	edits, err := persistlog.ReadEdits(filepath.Join(*dataDir, "worlds", *worldID))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read journal:", err)
		os.Exit(1)
	}
	if *limit > 0 && len(edits) > *limit {
		edits = edits[len(edits)-*limit:]
	}
	for _, e := range edits {
		printJSON(e)
	}
}

// resetCmd deletes archived chunks so the next server run regenerates them
// from the seed. The server must not be running.
func resetCmd(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	aabb := fs.String("aabb", "", "chunk box: x1,y1,z1:x2,y2,z2 (required)")
	dryRun := fs.Bool("dry_run", false, "list chunks without deleting")
	_ = fs.Parse(args)

	if strings.TrimSpace(*aabb) == "" {
		fmt.Fprintln(os.Stderr, "missing -aabb")
		os.Exit(2)
	}
	a := worldArchive(*dataDir, *worldID)
	removed, err := resetChunks(a, *aabb, *dryRun)
	for _, k := range removed {
		printJSON(map[string]any{"chunk": k, "removed": !*dryRun})
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "reset:", err)
		os.Exit(1)
	}
}

func resetChunks(a *snapshot.DirArchive, aabb string, dryRun bool) ([][3]int, error) {
	keys, err := filterKeys(a, aabb)
	if err != nil {
		return nil, err
	}
	var removed [][3]int
	for _, k := range keys {
		if !dryRun {
			if err := os.Remove(a.ChunkPath(k)); err != nil {
				return removed, err
			}
		}
		removed = append(removed, k)
	}
	return removed, nil
}

func filterKeys(a *snapshot.DirArchive, aabb string) ([][3]int, error) {
	keys, err := a.Keys()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(aabb) == "" {
		return keys, nil
	}
	min, max, err := parseAABB(aabb)
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if withinAABB(k, min, max) {
			out = append(out, k)
		}
	}
	return out, nil
}

func withinAABB(pos [3]int, min, max [3]int) bool {
	return pos[0] >= min[0] && pos[0] <= max[0] &&
		pos[1] >= min[1] && pos[1] <= max[1] &&
		pos[2] >= min[2] && pos[2] <= max[2]
}

func parseAABB(s string) (min, max [3]int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return min, max, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseVec3(parts[0])
	if err != nil {
		return min, max, err
	}
	b, err := parseVec3(parts[1])
	if err != nil {
		return min, max, err
	}
	for i := 0; i < 3; i++ {
		if a[i] <= b[i] {
			min[i], max[i] = a[i], b[i]
		} else {
			min[i], max[i] = b[i], a[i]
		}
	}
	return min, max, nil
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
