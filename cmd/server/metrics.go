package main

import (
	"fmt"
	"io"

	"voxelterrain.ai/internal/terrain/stream"
)

type serverStats struct {
	Sessions     int
	CachedMeshes int
	IndexDropped uint64
}

// writeMetrics renders the Prometheus text exposition format.
func writeMetrics(w io.Writer, worldID string, m stream.Metrics, s serverStats) {
	gauge := func(name, help string, v any) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", name)
		fmt.Fprintf(w, "%s{world=%q} %v\n", name, worldID, v)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s counter\n", name)
		fmt.Fprintf(w, "%s{world=%q} %d\n", name, worldID, v)
	}

	gauge("voxelterrain_tick", "Current manager tick.", m.Tick)
	gauge("voxelterrain_resident_chunks", "Chunks resident in the volume store.", m.Resident)
	gauge("voxelterrain_queue_depth", "Chunks waiting for generation or extraction.", m.Queued)
	gauge("voxelterrain_inflight_tasks", "Tasks running on the worker pool.", m.InFlight)
	gauge("voxelterrain_published_meshes", "Chunk meshes currently published.", m.Published)
	gauge("voxelterrain_renderer_sessions", "Connected renderer sessions.", s.Sessions)
	gauge("voxelterrain_cached_meshes", "Encoded meshes held for late joiners.", s.CachedMeshes)

	counter("voxelterrain_generated_total", "Chunks generated from the noise field.", m.Generated)
	counter("voxelterrain_loaded_total", "Chunks loaded from the archive.", m.Loaded)
	counter("voxelterrain_extracted_total", "Meshes extracted.", m.Extracted)
	counter("voxelterrain_evicted_total", "Chunks evicted.", m.Evicted)
	counter("voxelterrain_saved_total", "Edited chunks saved to the archive.", m.Saved)
	counter("voxelterrain_discarded_total", "Task results discarded because the chunk was evicted.", m.Discarded)
	counter("voxelterrain_superseded_total", "Meshes superseded by a newer edit before publication.", m.Superseded)
	counter("voxelterrain_failures_total", "Failed generation, extraction or save attempts.", m.Failures)
	counter("voxelterrain_edits_applied_total", "Edit requests applied.", m.EditsApplied)
	counter("voxelterrain_edits_dropped_total", "Edit requests dropped on a full backlog.", m.EditsDropped)
	counter("voxelterrain_ambiguous_faces_total", "Ambiguous marching cubes faces resolved.", m.AmbiguousFace)
	counter("voxelterrain_degenerate_triangles_total", "Zero-area triangles emitted.", m.Degenerate)
	counter("voxelterrain_index_dropped_total", "Index records dropped because the writer fell behind.", s.IndexDropped)
}
