package stream

import (
	"container/heap"

	"voxelterrain.ai/internal/terrain/volume"
)

type queueItem struct {
	key      volume.ChunkKey
	priority float64
	index    int
}

type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].key.Less(h[j].key)
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*queueItem)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is a set of chunk coordinates ordered by ascending priority
// (distance to the viewer). A coordinate is held at most once. Not safe
// for concurrent use.
type Queue struct {
	h     itemHeap
	items map[volume.ChunkKey]*queueItem
}

func NewQueue() *Queue {
	return &Queue{items: map[volume.ChunkKey]*queueItem{}}
}

func (q *Queue) Len() int { return len(q.h) }

func (q *Queue) Contains(k volume.ChunkKey) bool {
	_, ok := q.items[k]
	return ok
}

// Push adds k, or lowers its priority if it is already queued. It reports
// whether k was newly added.
func (q *Queue) Push(k volume.ChunkKey, priority float64) bool {
	if it, ok := q.items[k]; ok {
		if priority < it.priority {
			it.priority = priority
			heap.Fix(&q.h, it.index)
		}
		return false
	}
	it := &queueItem{key: k, priority: priority}
	heap.Push(&q.h, it)
	q.items[k] = it
	return true
}

func (q *Queue) Pop() (volume.ChunkKey, bool) {
	if len(q.h) == 0 {
		return volume.ChunkKey{}, false
	}
	it := heap.Pop(&q.h).(*queueItem)
	delete(q.items, it.key)
	return it.key, true
}

func (q *Queue) Remove(k volume.ChunkKey) bool {
	it, ok := q.items[k]
	if !ok {
		return false
	}
	heap.Remove(&q.h, it.index)
	delete(q.items, k)
	return true
}

// Reprioritize recomputes every priority, e.g. after the viewer moved.
func (q *Queue) Reprioritize(priority func(volume.ChunkKey) float64) {
	for _, it := range q.h {
		it.priority = priority(it.key)
	}
	heap.Init(&q.h)
}

func (q *Queue) Keys() []volume.ChunkKey {
	out := make([]volume.ChunkKey, 0, len(q.h))
	for _, it := range q.h {
		out = append(out, it.key)
	}
	return out
}
