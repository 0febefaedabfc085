package indexdb

import (
	"database/sql"
	"fmt"
	"path/filepath"
)

// DefaultPath is where a world's index lives under the data directory.
func DefaultPath(dataDir, worldID string) string {
	return filepath.Join(dataDir, "worlds", worldID, "index", "terrain.sqlite")
}

// RecentSaves lists the newest chunk saves, newest first.
func RecentSaves(db *sql.DB, worldID string, limit int) ([]SaveRow, error) {
	if db == nil {
		return nil, fmt.Errorf("nil db")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`SELECT cx,cy,cz,version,digest,bytes,saved_at FROM chunk_saves WHERE world_id=? ORDER BY saved_at DESC, version DESC LIMIT ?`, worldID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SaveRow
	for rows.Next() {
		var r SaveRow
		var v int64
		if err := rows.Scan(&r.Chunk[0], &r.Chunk[1], &r.Chunk[2], &v, &r.Digest, &r.Bytes, &r.SavedAt); err != nil {
			return nil, err
		}
		r.Version = uint64(v)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ChunkHistory lists every recorded save of one chunk, oldest first.
func ChunkHistory(db *sql.DB, worldID string, chunk [3]int) ([]SaveRow, error) {
	if db == nil {
		return nil, fmt.Errorf("nil db")
	}
	rows, err := db.Query(`SELECT cx,cy,cz,version,digest,bytes,saved_at FROM chunk_saves WHERE world_id=? AND cx=? AND cy=? AND cz=? ORDER BY version`, worldID, chunk[0], chunk[1], chunk[2])
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SaveRow
	for rows.Next() {
		var r SaveRow
		var v int64
		if err := rows.Scan(&r.Chunk[0], &r.Chunk[1], &r.Chunk[2], &v, &r.Digest, &r.Bytes, &r.SavedAt); err != nil {
			return nil, err
		}
		r.Version = uint64(v)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentEdits lists the newest edits, newest first.
func RecentEdits(db *sql.DB, worldID string, limit int) ([]EditRow, error) {
	if db == nil {
		return nil, fmt.Errorf("nil db")
	}
	if limit <= 0 {
		limit = 20
	}
	return scanEdits(db.Query(`SELECT id,at,x,y,z,radius,delta,material,chunks,voxels FROM edits WHERE world_id=? ORDER BY id DESC LIMIT ?`, worldID, limit))
}

// EditsTouching lists edits that changed voxels in the given chunk, newest first.
func EditsTouching(db *sql.DB, worldID string, chunk [3]int, limit int) ([]EditRow, error) {
	if db == nil {
		return nil, fmt.Errorf("nil db")
	}
	if limit <= 0 {
		limit = 20
	}
	return scanEdits(db.Query(`SELECT e.id,e.at,e.x,e.y,e.z,e.radius,e.delta,e.material,e.chunks,e.voxels
		FROM edits e JOIN edit_chunks c ON c.edit_id=e.id
		WHERE e.world_id=? AND c.cx=? AND c.cy=? AND c.cz=?
		ORDER BY e.id DESC LIMIT ?`, worldID, chunk[0], chunk[1], chunk[2], limit))
}

func scanEdits(rows *sql.Rows, err error) ([]EditRow, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EditRow
	for rows.Next() {
		var r EditRow
		if err := rows.Scan(&r.ID, &r.At, &r.Center[0], &r.Center[1], &r.Center[2], &r.Radius, &r.Delta, &r.Material, &r.Chunks, &r.Voxels); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
