package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelterrain.ai/internal/terrain/stream"
)

// SQLiteIndex is a queryable secondary index of chunk saves and edits.
// The JSONL journal and the chunk archive remain the source of truth;
// writes are queued and dropped if the writer falls behind.
type SQLiteIndex struct {
	db      *sql.DB
	worldID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqSave reqKind = iota + 1
	reqEdit
)

type req struct {
	kind reqKind
	save stream.SaveRecord
	edit stream.EditRecord
}

// SaveRow is one row of chunk_saves.
type SaveRow struct {
	Chunk   [3]int `json:"chunk"`
	Version uint64 `json:"version"`
	Digest  string `json:"digest"`
	Bytes   int    `json:"bytes"`
	SavedAt string `json:"saved_at"`
}

// EditRow is one row of edits.
type EditRow struct {
	ID       int64      `json:"id"`
	At       string     `json:"at"`
	Center   [3]float64 `json:"center"`
	Radius   float64    `json:"radius"`
	Delta    float64    `json:"delta"`
	Material string     `json:"material"`
	Chunks   int        `json:"chunks"`
	Voxels   int        `json:"voxels"`
}

func OpenSQLite(path, worldID string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:      db,
		worldID: worldID,
		ch:      make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunk_saves (
			world_id TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			version INTEGER NOT NULL,
			digest TEXT NOT NULL,
			bytes INTEGER NOT NULL,
			saved_at TEXT NOT NULL,
			PRIMARY KEY (world_id, cx, cy, cz, version)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_saves_at ON chunk_saves(world_id, saved_at);`,
		`CREATE TABLE IF NOT EXISTS edits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			world_id TEXT NOT NULL,
			at TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			radius REAL NOT NULL,
			delta REAL NOT NULL,
			material TEXT NOT NULL,
			chunks INTEGER NOT NULL,
			voxels INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS edit_chunks (
			edit_id INTEGER NOT NULL REFERENCES edits(id) ON DELETE CASCADE,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			PRIMARY KEY (edit_id, cx, cy, cz)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_edit_chunks_pos ON edit_chunks(cx, cz, cy);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped reports how many records were discarded because the queue was full.
func (s *SQLiteIndex) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

func (s *SQLiteIndex) RecordSave(r stream.SaveRecord) {
	s.enqueue(req{kind: reqSave, save: r})
}

func (s *SQLiteIndex) RecordEdit(r stream.EditRecord) {
	s.enqueue(req{kind: reqEdit, edit: r})
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSave, _ := s.db.Prepare(`INSERT OR REPLACE INTO chunk_saves(world_id,cx,cy,cz,version,digest,bytes,saved_at) VALUES(?,?,?,?,?,?,?,?)`)
	insertEdit, _ := s.db.Prepare(`INSERT INTO edits(world_id,at,x,y,z,radius,delta,material,chunks,voxels) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertEditChunk, _ := s.db.Prepare(`INSERT OR IGNORE INTO edit_chunks(edit_id,cx,cy,cz) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertSave, insertEdit, insertEditChunk} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 1000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSave:
			if insertSave == nil {
				continue
			}
			sv := r.save
			if _, err := tx.Stmt(insertSave).Exec(
				s.worldID,
				sv.Chunk.X, sv.Chunk.Y, sv.Chunk.Z,
				int64(sv.Version),
				sv.Digest,
				sv.Bytes,
				timestamp(sv.Time),
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqEdit:
			if insertEdit == nil {
				continue
			}
			e := r.edit
			res, err := tx.Stmt(insertEdit).Exec(
				s.worldID,
				timestamp(e.Time),
				e.Center[0], e.Center[1], e.Center[2],
				e.Radius,
				e.Delta,
				e.Material.String(),
				len(e.Chunks),
				e.Voxels,
			)
			if err != nil {
				rollback()
				continue
			}
			opCount++
			id, err := res.LastInsertId()
			if err != nil || insertEditChunk == nil {
				continue
			}
			for _, k := range e.Chunks {
				if _, err := tx.Stmt(insertEditChunk).Exec(id, k.X, k.Y, k.Z); err != nil {
					rollback()
					break
				}
				opCount++
			}
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0) {
			commit()
		}
	}

	commit()
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}
