package volume

import (
	"sort"
	"sync"
)

// Store owns the chunk map. It is a plain container: lifecycle rules are
// enforced by the caller, and the lock only guards the map itself.
type Store struct {
	size int

	mu     sync.RWMutex
	chunks map[ChunkKey]*Chunk
}

func NewStore(chunkSize int) *Store {
	return &Store{size: chunkSize, chunks: map[ChunkKey]*Chunk{}}
}

func (s *Store) ChunkSize() int { return s.size }

// Get reports the resident chunk for k, if any.
func (s *Store) Get(k ChunkKey) (*Chunk, bool) {
	s.mu.RLock()
	ch, ok := s.chunks[k]
	s.mu.RUnlock()
	return ch, ok
}

// Create inserts an Empty chunk at k. If k is already resident the
// existing chunk is returned and created is false.
func (s *Store) Create(k ChunkKey) (ch *Chunk, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.chunks[k]; ok {
		return ch, false
	}
	ch = NewChunk(k, s.size)
	s.chunks[k] = ch
	return ch, true
}

// Evict removes k and releases its data. Absent keys are ignored.
func (s *Store) Evict(k ChunkKey) {
	s.mu.Lock()
	ch, ok := s.chunks[k]
	delete(s.chunks, k)
	s.mu.Unlock()
	if ok {
		ch.release()
	}
}

// WriteVoxel sets one voxel and advances the chunk's edit version. It
// returns the new version, or false when k is not resident.
func (s *Store) WriteVoxel(k ChunkKey, p Coord, v Voxel) (uint64, bool) {
	ch, ok := s.Get(k)
	if !ok {
		return 0, false
	}
	ch.Set(p, v)
	return ch.BumpVersion(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Keys returns resident chunk coordinates in sorted order.
func (s *Store) Keys() []ChunkKey {
	s.mu.RLock()
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}
