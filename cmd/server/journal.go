package main

import (
	"log"

	persistlog "voxelterrain.ai/internal/persistence/log"
	"voxelterrain.ai/internal/terrain/stream"
)

// fileJournal appends edits and saves to the world's compressed JSONL journal.
type fileJournal struct {
	worldID string
	log     *persistlog.EditLogger
	logger  *log.Logger
}

func (j fileJournal) RecordEdit(r stream.EditRecord) {
	chunks := make([][3]int, 0, len(r.Chunks))
	for _, k := range r.Chunks {
		chunks = append(chunks, k.Array())
	}
	err := j.log.WriteEdit(persistlog.EditEntry{
		Time:     r.Time,
		WorldID:  j.worldID,
		Center:   r.Center,
		Radius:   r.Radius,
		Delta:    r.Delta,
		Material: r.Material.String(),
		Chunks:   chunks,
		Voxels:   r.Voxels,
	})
	if err != nil && j.logger != nil {
		j.logger.Printf("journal edit: %v", err)
	}
}

func (j fileJournal) RecordSave(r stream.SaveRecord) {
	err := j.log.WriteSave(persistlog.SaveEntry{
		Time:    r.Time,
		WorldID: j.worldID,
		Chunk:   r.Chunk.Array(),
		Version: r.Version,
		Digest:  r.Digest,
		Bytes:   r.Bytes,
	})
	if err != nil && j.logger != nil {
		j.logger.Printf("journal save: %v", err)
	}
}

// multiJournal fans records out to every journal in order.
type multiJournal []stream.Journal

func (m multiJournal) RecordEdit(r stream.EditRecord) {
	for _, j := range m {
		if j != nil {
			j.RecordEdit(r)
		}
	}
}

func (m multiJournal) RecordSave(r stream.SaveRecord) {
	for _, j := range m {
		if j != nil {
			j.RecordSave(r)
		}
	}
}
