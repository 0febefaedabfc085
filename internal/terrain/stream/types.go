package stream

import (
	"errors"
	"time"

	snapv1 "voxelterrain.ai/internal/persistence/snapshot"
	"voxelterrain.ai/internal/terrain/volume"
)

// Renderer displays published meshes. The mesh passed to PublishMesh is
// shared, not copied: the renderer must treat it as read-only, and a later
// PublishMesh or RetractMesh for the same key supersedes it.
type Renderer interface {
	PublishMesh(key volume.ChunkKey, m *volume.Mesh)
	RetractMesh(key volume.ChunkKey)
}

// Archive persists edited chunks across eviction.
type Archive interface {
	SaveChunk(snap snapv1.ChunkV1) error
	LoadChunk(key [3]int) (snapv1.ChunkV1, bool, error)
}

// Journal receives a record of applied edits and chunk saves.
type Journal interface {
	RecordEdit(r EditRecord)
	RecordSave(r SaveRecord)
}

type EditRecord struct {
	Time     time.Time
	Center   [3]float64
	Radius   float64
	Delta    float64
	Material volume.Material
	Chunks   []volume.ChunkKey
	Voxels   int
}

type SaveRecord struct {
	Time    time.Time
	Chunk   volume.ChunkKey
	Version uint64
	Digest  string
	Bytes   int
}

type nopRenderer struct{}

func (nopRenderer) PublishMesh(volume.ChunkKey, *volume.Mesh) {}
func (nopRenderer) RetractMesh(volume.ChunkKey)               {}

var (
	ErrEditBacklogFull = errors.New("edit backlog full")
	ErrStopped         = errors.New("manager stopped")
)

// Metrics is a point-in-time copy of the manager's counters.
type Metrics struct {
	Tick      uint64 `json:"tick"`
	Resident  int    `json:"resident"`
	Queued    int    `json:"queued"`
	InFlight  int    `json:"in_flight"`
	Published int    `json:"published"`

	Generated     uint64 `json:"generated_total"`
	Loaded        uint64 `json:"loaded_total"`
	Extracted     uint64 `json:"extracted_total"`
	Evicted       uint64 `json:"evicted_total"`
	Saved         uint64 `json:"saved_total"`
	Discarded     uint64 `json:"discarded_total"`
	Superseded    uint64 `json:"superseded_total"`
	Failures      uint64 `json:"failures_total"`
	EditsApplied  uint64 `json:"edits_applied_total"`
	EditsDropped  uint64 `json:"edits_dropped_total"`
	AmbiguousFace uint64 `json:"ambiguous_faces_total"`
	Degenerate    uint64 `json:"degenerate_triangles_total"`
}

// ChunkInfo describes one resident chunk.
type ChunkInfo struct {
	Key       volume.ChunkKey `json:"key"`
	State     string          `json:"state"`
	Version   uint64          `json:"version"`
	Uniform   bool            `json:"uniform"`
	Triangles int             `json:"triangles"`
	Published bool            `json:"published"`
	Queued    bool            `json:"queued"`
}
