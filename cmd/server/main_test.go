package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	persistlog "voxelterrain.ai/internal/persistence/log"
	"voxelterrain.ai/internal/terrain/stream"
	"voxelterrain.ai/internal/terrain/volume"
	"voxelterrain.ai/internal/tuning"
)

type fakeManager struct {
	flushed int
	chunks  []stream.ChunkInfo
}

func (f *fakeManager) RequestFlush(ctx context.Context) (int, error) {
	f.flushed++
	return 3, nil
}

func (f *fakeManager) RequestInspect(ctx context.Context) ([]stream.ChunkInfo, error) {
	return f.chunks, nil
}

func (f *fakeManager) Metrics() stream.Metrics { return stream.Metrics{Resident: len(f.chunks)} }

func TestAdminHandlers_LoopbackOnly(t *testing.T) {
	fm := &fakeManager{}
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/flush", nil)
	req.RemoteAddr = "203.0.113.7:4000"
	rec := httptest.NewRecorder()
	flushHandler(fm)(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status: got %d want %d", rec.Code, http.StatusForbidden)
	}
	if fm.flushed != 0 {
		t.Fatalf("remote flush reached the manager")
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/flush", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rec = httptest.NewRecorder()
	flushHandler(fm)(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET flush: got %d want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestAdminHandlers_FlushAndState(t *testing.T) {
	fm := &fakeManager{chunks: []stream.ChunkInfo{{Key: volume.ChunkKey{X: 1}, State: "ready", Version: 2}}}

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/flush", nil)
	req.RemoteAddr = "[::1]:4000"
	rec := httptest.NewRecorder()
	flushHandler(fm)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("flush status: got %d", rec.Code)
	}
	var flush struct {
		OK    bool `json:"ok"`
		Saved int  `json:"saved"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &flush); err != nil {
		t.Fatalf("decode flush: %v", err)
	}
	if !flush.OK || flush.Saved != 3 {
		t.Fatalf("flush response: %+v", flush)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rec = httptest.NewRecorder()
	stateHandler("w1", fm)(rec, req)
	var state struct {
		WorldID string             `json:"world_id"`
		Metrics stream.Metrics     `json:"metrics"`
		Chunks  []stream.ChunkInfo `json:"chunks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.WorldID != "w1" || state.Metrics.Resident != 1 || len(state.Chunks) != 1 || state.Chunks[0].State != "ready" {
		t.Fatalf("state response: %+v", state)
	}
}

func TestWriteMetrics(t *testing.T) {
	var buf bytes.Buffer
	writeMetrics(&buf, "w1", stream.Metrics{Resident: 7, Generated: 12, EditsDropped: 2}, serverStats{Sessions: 1})
	out := buf.String()
	for _, want := range []string{
		`voxelterrain_resident_chunks{world="w1"} 7`,
		`voxelterrain_generated_total{world="w1"} 12`,
		`voxelterrain_edits_dropped_total{world="w1"} 2`,
		`voxelterrain_renderer_sessions{world="w1"} 1`,
		"# TYPE voxelterrain_evicted_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics missing %q:\n%s", want, out)
		}
	}
}

type countingJournal struct{ edits, saves int }

func (c *countingJournal) RecordEdit(stream.EditRecord) { c.edits++ }
func (c *countingJournal) RecordSave(stream.SaveRecord) { c.saves++ }

func TestJournal_FansOutToFileAndIndex(t *testing.T) {
	dir := t.TempDir()
	el := persistlog.NewEditLogger(dir)
	counter := &countingJournal{}
	j := multiJournal{fileJournal{worldID: "w1", log: el}, nil, counter}

	j.RecordEdit(stream.EditRecord{
		Time:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Center:   [3]float64{1, 2, 3},
		Radius:   2,
		Delta:    -1,
		Material: volume.MaterialSnow,
		Chunks:   []volume.ChunkKey{{X: 0, Y: 0, Z: 0}, {X: -1, Y: 0, Z: 0}},
		Voxels:   19,
	})
	j.RecordSave(stream.SaveRecord{Chunk: volume.ChunkKey{X: -1}, Version: 1, Digest: "d"})
	if err := el.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if counter.edits != 1 || counter.saves != 1 {
		t.Fatalf("fan-out counts: edits=%d saves=%d", counter.edits, counter.saves)
	}

	edits, err := persistlog.ReadEdits(dir)
	if err != nil {
		t.Fatalf("ReadEdits: %v", err)
	}
	if len(edits) != 1 {
		t.Fatalf("edits: got %d want 1", len(edits))
	}
	e := edits[0]
	if e.WorldID != "w1" || e.Material != "snow" || e.Voxels != 19 || len(e.Chunks) != 2 || e.Chunks[1] != [3]int{-1, 0, 0} {
		t.Fatalf("edit entry mismatch: %+v", e)
	}
}

func TestWorldParams_ListsMaterials(t *testing.T) {
	p := worldParams(tuning.Defaults())
	if len(p.Materials) != 6 || p.Materials[0] != "none" || p.Materials[5] != "snow" {
		t.Fatalf("materials: %v", p.Materials)
	}
	if p.MeshMethod != "marching_cubes" || p.ChunkSize != 16 {
		t.Fatalf("params: %+v", p)
	}
}
