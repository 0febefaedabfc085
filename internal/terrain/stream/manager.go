package stream

import (
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain.ai/internal/terrain/gen"
	"voxelterrain.ai/internal/terrain/mathx"
	"voxelterrain.ai/internal/terrain/surface"
	"voxelterrain.ai/internal/terrain/volume"
)

type Config struct {
	WorldID string

	// ActiveRadius is in world units, measured to chunk centers.
	ActiveRadius float64
	Workers      int
	// WorkPerTick caps generate and extract dispatches per Step.
	WorkPerTick  int
	TickInterval time.Duration
	EditBacklog  int
	// RetryTicks delays regeneration of a chunk whose generation failed.
	RetryTicks int
}

type Deps struct {
	Store     *volume.Store
	Generator *gen.Generator
	Extractor *surface.Extractor
	Renderer  Renderer
	Archive   Archive
	Journal   Journal
	Logger    *log.Logger
}

type taskKind uint8

const (
	taskGenerate taskKind = iota
	taskExtract
)

type result struct {
	kind    taskKind
	key     volume.ChunkKey
	ch      *volume.Chunk
	version uint64
	mesh    *volume.Mesh
	stats   surface.Stats
	loaded  bool
	err     error
}

// Manager decides which chunks are resident and drives them through
// generation and extraction. All chunk state transitions happen on the
// goroutine calling Step (or Run); only the numeric work runs on the pool.
type Manager struct {
	cfg      Config
	store    *volume.Store
	gen      *gen.Generator
	ext      *surface.Extractor
	renderer Renderer
	archive  Archive
	journal  Journal
	logger   *log.Logger

	pool        *Pool
	results     chan result
	inflight    int
	maxInflight int

	queue     *Queue
	tick      uint64
	viewer    mgl64.Vec3
	hasViewer bool
	desired   map[volume.ChunkKey]float64

	pending    map[volume.ChunkKey][]gen.Edit
	dirty      map[volume.ChunkKey]bool
	published  map[volume.ChunkKey]uint64
	retryAt    map[volume.ChunkKey]uint64
	saveFailed map[volume.ChunkKey]bool

	counters Metrics

	metricsMu    sync.Mutex
	last         Metrics
	backlogDrops atomic.Uint64

	viewerCh  chan mgl64.Vec3
	editCh    chan gen.Edit
	flushCh   chan flushReq
	inspectCh chan inspectReq
	stopped   chan struct{}
	closeOnce sync.Once
}

type flushReq struct {
	resp chan flushResp
}

type flushResp struct {
	n   int
	err error
}

type inspectReq struct {
	resp chan []ChunkInfo
}

func New(cfg Config, deps Deps) (*Manager, error) {
	if deps.Store == nil || deps.Generator == nil || deps.Extractor == nil {
		return nil, fmt.Errorf("stream: store, generator and extractor are required")
	}
	if deps.Store.ChunkSize() != deps.Generator.ChunkSize() {
		return nil, fmt.Errorf("stream: store chunk size %d, generator chunk size %d", deps.Store.ChunkSize(), deps.Generator.ChunkSize())
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.WorkPerTick <= 0 {
		cfg.WorkPerTick = cfg.Workers
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 50 * time.Millisecond
	}
	if cfg.EditBacklog <= 0 {
		cfg.EditBacklog = 256
	}
	if cfg.RetryTicks <= 0 {
		cfg.RetryTicks = 20
	}
	if deps.Renderer == nil {
		deps.Renderer = nopRenderer{}
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	maxInflight := cfg.Workers * 2
	return &Manager{
		cfg:         cfg,
		store:       deps.Store,
		gen:         deps.Generator,
		ext:         deps.Extractor,
		renderer:    deps.Renderer,
		archive:     deps.Archive,
		journal:     deps.Journal,
		logger:      deps.Logger,
		pool:        NewPool(cfg.Workers, cfg.Workers),
		results:     make(chan result, maxInflight),
		maxInflight: maxInflight,
		queue:       NewQueue(),
		desired:     map[volume.ChunkKey]float64{},
		pending:     map[volume.ChunkKey][]gen.Edit{},
		dirty:       map[volume.ChunkKey]bool{},
		published:   map[volume.ChunkKey]uint64{},
		retryAt:     map[volume.ChunkKey]uint64{},
		saveFailed:  map[volume.ChunkKey]bool{},
		viewerCh:    make(chan mgl64.Vec3, 1),
		editCh:      make(chan gen.Edit, cfg.EditBacklog),
		flushCh:     make(chan flushReq),
		inspectCh:   make(chan inspectReq),
		stopped:     make(chan struct{}),
	}, nil
}

func (m *Manager) Config() Config { return m.cfg }

// SetViewer moves the reference point residency is computed from.
func (m *Manager) SetViewer(pos mgl64.Vec3) {
	m.viewer = pos
	m.hasViewer = true
	m.queue.Reprioritize(m.priority)
}

// Request queues k for generation or re-extraction outside the normal
// residency pass.
func (m *Manager) Request(k volume.ChunkKey) error {
	if !m.gen.InBounds(k) {
		return fmt.Errorf("chunk %v: %w", k, gen.ErrOutOfBounds)
	}
	ch, _ := m.store.Create(k)
	if ch.State() == volume.StateEmpty {
		m.queue.Push(k, m.priority(k))
		return nil
	}
	m.remesh(k)
	return nil
}

func (m *Manager) chunkExtent() float64 {
	return float64(m.store.ChunkSize()) * m.gen.VoxelSize()
}

func (m *Manager) chunkCenter(k volume.ChunkKey) mgl64.Vec3 {
	e := m.chunkExtent()
	return mgl64.Vec3{(float64(k.X) + 0.5) * e, (float64(k.Y) + 0.5) * e, (float64(k.Z) + 0.5) * e}
}

func (m *Manager) priority(k volume.ChunkKey) float64 {
	if !m.hasViewer {
		return 0
	}
	return m.chunkCenter(k).Sub(m.viewer).Len()
}

// Step runs one scheduling pass: apply finished work, reconcile the
// resident set with the viewer, then dispatch up to WorkPerTick tasks.
func (m *Manager) Step() {
	m.tick++
	m.drainResults()
	m.updateResidency()
	m.dispatch()
	m.publishMetrics()
}

func (m *Manager) drainResults() {
	for {
		select {
		case r := <-m.results:
			m.handle(r)
		default:
			return
		}
	}
}

// Settle blocks until every in-flight task has finished and been applied.
func (m *Manager) Settle() {
	for m.inflight > 0 {
		m.handle(<-m.results)
	}
	m.publishMetrics()
}

func (m *Manager) desiredSet() map[volume.ChunkKey]float64 {
	out := map[volume.ChunkKey]float64{}
	if !m.hasViewer {
		return out
	}
	e := m.chunkExtent()
	r := m.cfg.ActiveRadius
	var lo, hi [3]int
	for i := 0; i < 3; i++ {
		lo[i] = int(math.Floor((m.viewer[i] - r) / e))
		hi[i] = int(math.Floor((m.viewer[i] + r) / e))
	}
	for x := lo[0]; x <= hi[0]; x++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for z := lo[2]; z <= hi[2]; z++ {
				k := volume.ChunkKey{X: x, Y: y, Z: z}
				if d := m.priority(k); d <= r && m.gen.InBounds(k) {
					out[k] = d
				}
			}
		}
	}
	// The viewer's own chunk stays resident even under a tiny radius.
	if own := m.viewerChunk(); m.gen.InBounds(own) {
		out[own] = m.priority(own)
	}
	return out
}

func (m *Manager) updateResidency() {
	if !m.hasViewer {
		return
	}
	m.desired = m.desiredSet()

	for _, k := range m.store.Keys() {
		if _, ok := m.desired[k]; ok {
			continue
		}
		m.queue.Remove(k)
		ch, ok := m.store.Get(k)
		if !ok || ch.State().Busy() {
			continue
		}
		m.evict(ch)
	}

	for k, d := range m.desired {
		if m.retryAt[k] > m.tick {
			continue
		}
		ch, _ := m.store.Create(k)
		switch ch.State() {
		case volume.StateEmpty, volume.StateFilled, volume.StateStale:
			m.queue.Push(k, d)
		}
	}
}

func (m *Manager) evict(ch *volume.Chunk) {
	k := ch.Key()
	if ch.Version() > 0 && ch.State().HasVoxels() && m.archive != nil {
		if err := m.save(ch); err != nil {
			if !m.saveFailed[k] {
				m.logger.Printf("chunk %v: save before evict: %v", k, err)
			}
			m.saveFailed[k] = true
			return
		}
	}
	if _, ok := m.published[k]; ok {
		m.renderer.RetractMesh(k)
		delete(m.published, k)
	}
	if n := len(m.pending[k]); n > 0 {
		m.counters.EditsDropped += uint64(n)
	}
	if err := ch.Transition(volume.StateEvicted); err != nil {
		m.logger.Printf("evict: %v", err)
		return
	}
	m.store.Evict(k)
	delete(m.pending, k)
	delete(m.dirty, k)
	delete(m.retryAt, k)
	delete(m.saveFailed, k)
	m.counters.Evicted++
}

func (m *Manager) save(ch *volume.Chunk) error {
	snap := volume.ExportChunk(m.cfg.WorldID, ch)
	if err := m.archive.SaveChunk(snap); err != nil {
		return err
	}
	m.counters.Saved++
	if m.journal != nil {
		m.journal.RecordSave(SaveRecord{
			Time:    time.Now().UTC(),
			Chunk:   ch.Key(),
			Version: ch.Version(),
			Digest:  snap.Digest,
			Bytes:   len(snap.Voxels),
		})
	}
	return nil
}

func (m *Manager) dispatch() {
	budget := m.cfg.WorkPerTick
	for budget > 0 && m.inflight < m.maxInflight {
		k, ok := m.queue.Pop()
		if !ok {
			return
		}
		ch, ok := m.store.Get(k)
		if !ok {
			continue
		}
		var started bool
		switch ch.State() {
		case volume.StateEmpty:
			started = m.startGenerate(ch)
		case volume.StateFilled, volume.StateStale:
			started = m.startExtract(ch)
		default:
			// Busy chunks are re-queued when their result lands.
			continue
		}
		if !started {
			m.queue.Push(k, m.priority(k))
			return
		}
		budget--
	}
}

func (m *Manager) startGenerate(ch *volume.Chunk) bool {
	if !m.gen.InBounds(ch.Key()) {
		m.logger.Printf("chunk %v: %v", ch.Key(), gen.ErrOutOfBounds)
		return true
	}
	if err := ch.Transition(volume.StateGenerating); err != nil {
		m.logger.Printf("generate: %v", err)
		return true
	}
	job := func() {
		r := result{kind: taskGenerate, key: ch.Key(), ch: ch}
		defer func() {
			if p := recover(); p != nil {
				r.loaded, r.err = false, fmt.Errorf("generate panicked: %v", p)
			}
			m.results <- r
		}()
		r.loaded, r.err = m.fill(ch)
	}
	if !m.pool.TrySubmit(job) {
		_ = ch.Transition(volume.StateEmpty)
		return false
	}
	m.inflight++
	return true
}

// fill runs on a worker while ch is Generating. Saved chunks are restored
// instead of regenerated.
func (m *Manager) fill(ch *volume.Chunk) (loaded bool, err error) {
	if m.archive != nil {
		snap, ok, err := m.archive.LoadChunk(ch.Key().Array())
		switch {
		case err != nil:
			m.logger.Printf("chunk %v: load: %v; regenerating", ch.Key(), err)
		case ok:
			if err := volume.ImportChunk(ch, snap); err != nil {
				m.logger.Printf("chunk %v: import: %v; regenerating", ch.Key(), err)
			} else {
				return true, nil
			}
		}
	}
	return false, m.gen.Fill(ch)
}

func (m *Manager) startExtract(ch *volume.Chunk) bool {
	prev := ch.State()
	if err := ch.Transition(volume.StateMeshing); err != nil {
		m.logger.Printf("extract: %v", err)
		return true
	}
	grid := m.ext.Capture(m.store, ch)
	job := func() {
		r := result{kind: taskExtract, key: ch.Key(), ch: ch, version: grid.Version}
		defer func() {
			if p := recover(); p != nil {
				r.mesh, r.err = nil, fmt.Errorf("extract panicked: %v", p)
			}
			m.results <- r
		}()
		r.mesh, r.stats = m.ext.Extract(grid)
	}
	if !m.pool.TrySubmit(job) {
		_ = ch.Transition(prev)
		return false
	}
	m.inflight++
	return true
}

func (m *Manager) handle(r result) {
	m.inflight--
	cur, ok := m.store.Get(r.key)
	if !ok || cur != r.ch {
		m.counters.Discarded++
		return
	}
	ch := r.ch
	switch r.kind {
	case taskGenerate:
		if r.err != nil {
			_ = ch.Transition(volume.StateEmpty)
			m.retryAt[r.key] = m.tick + uint64(m.cfg.RetryTicks)
			m.counters.Failures++
			m.logger.Printf("chunk %v: generate: %v", r.key, r.err)
			return
		}
		if err := ch.Transition(volume.StateFilled); err != nil {
			m.logger.Printf("generate: %v", err)
			return
		}
		if r.loaded {
			m.counters.Loaded++
			if ch.Version() > 0 {
				// Neighbors may have meshed against generated voxels at the seam.
				m.restaleNeighbors(r.key)
			}
		} else {
			m.counters.Generated++
		}
		for _, e := range m.pending[r.key] {
			m.applyToChunk(ch, e)
		}
		delete(m.pending, r.key)
		m.queue.Push(r.key, m.priority(r.key))

	case taskExtract:
		if r.err != nil {
			// A chunk that still shows an older mesh goes back to Stale.
			back := volume.StateFilled
			if ch.Mesh() != nil {
				back = volume.StateStale
			}
			_ = ch.Transition(back)
			delete(m.dirty, r.key)
			m.retryAt[r.key] = m.tick + uint64(m.cfg.RetryTicks)
			m.counters.Failures++
			m.logger.Printf("chunk %v: extract: %v", r.key, r.err)
			return
		}
		m.counters.Extracted++
		m.counters.AmbiguousFace += uint64(r.stats.AmbiguousFaces)
		m.counters.Degenerate += uint64(r.stats.DegenerateTriangles)
		if r.stats.AmbiguousFaces > 0 || r.stats.DegenerateTriangles > 0 {
			m.logger.Printf("chunk %v: %d ambiguous faces, %d degenerate triangles", r.key, r.stats.AmbiguousFaces, r.stats.DegenerateTriangles)
		}
		if r.version != ch.Version() || m.dirty[r.key] {
			delete(m.dirty, r.key)
			m.counters.Superseded++
			_ = ch.Transition(volume.StateStale)
			m.queue.Push(r.key, m.priority(r.key))
			return
		}
		if err := ch.Transition(volume.StateReady); err != nil {
			m.logger.Printf("extract: %v", err)
			return
		}
		ch.SetMesh(r.mesh)
		m.publish(ch)
	}
}

func (m *Manager) publish(ch *volume.Chunk) {
	k := ch.Key()
	mesh := ch.Mesh()
	if mesh.Empty() {
		if _, ok := m.published[k]; ok {
			m.renderer.RetractMesh(k)
			delete(m.published, k)
		}
		return
	}
	m.renderer.PublishMesh(k, mesh)
	m.published[k] = mesh.Version
}

// restaleNeighbors schedules re-extraction of resident chunks whose
// padding overlaps k.
func (m *Manager) restaleNeighbors(k volume.ChunkKey) {
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				m.remesh(k.Add(dx, dy, dz))
			}
		}
	}
}

// remesh marks a resident chunk as needing a new mesh without changing
// its voxels.
func (m *Manager) remesh(k volume.ChunkKey) {
	ch, ok := m.store.Get(k)
	if !ok {
		return
	}
	switch ch.State() {
	case volume.StateReady:
		_ = ch.Transition(volume.StateStale)
		m.queue.Push(k, m.priority(k))
	case volume.StateMeshing:
		m.dirty[k] = true
	case volume.StateFilled, volume.StateStale:
		m.queue.Push(k, m.priority(k))
	}
}

// EditResult summarizes one applied edit.
type EditResult struct {
	Chunks   []volume.ChunkKey
	Voxels   int
	Deferred int
	Skipped  int
}

// ApplyEdit applies a brush edit to every resident chunk it touches and
// schedules re-extraction of every chunk whose mesh reads those voxels.
// Chunks still generating receive the edit once filled; chunks that are
// not resident are skipped.
func (m *Manager) ApplyEdit(e gen.Edit) (EditResult, error) {
	var res EditResult
	if err := m.checkEdit(e); err != nil {
		return res, err
	}
	written := map[volume.ChunkKey]bool{}
	for _, k := range m.gen.WriteChunks(e) {
		ch, ok := m.store.Get(k)
		if !ok {
			res.Skipped++
			continue
		}
		written[k] = true
		res.Chunks = append(res.Chunks, k)
		if !ch.State().HasVoxels() {
			m.pending[k] = append(m.pending[k], e)
			res.Deferred++
			continue
		}
		res.Voxels += m.applyToChunk(ch, e)
	}
	for _, k := range m.gen.RemeshChunks(e) {
		if !written[k] {
			m.remesh(k)
		}
	}
	m.counters.EditsApplied++
	if m.journal != nil {
		m.journal.RecordEdit(EditRecord{
			Time:     time.Now().UTC(),
			Center:   [3]float64{e.Center[0], e.Center[1], e.Center[2]},
			Radius:   e.Radius,
			Delta:    e.Delta,
			Material: e.Material,
			Chunks:   res.Chunks,
			Voxels:   res.Voxels,
		})
	}
	return res, nil
}

// checkEdit rejects malformed edits and edits that touch no chunk inside
// the world bounds.
func (m *Manager) checkEdit(e gen.Edit) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if len(m.gen.WriteChunks(e)) == 0 {
		return fmt.Errorf("edit at %v: %w", e.Center, gen.ErrOutOfBounds)
	}
	return nil
}

// applyToChunk edits a chunk whose voxels the coordinator owns. A Meshing
// chunk is safe to edit here because its worker reads a captured copy;
// the version bump makes the in-flight result stale.
func (m *Manager) applyToChunk(ch *volume.Chunk, e gen.Edit) int {
	r, ok := m.gen.RegionFor(e, ch.Key())
	if !ok {
		return 0
	}
	n, err := gen.ApplyEdit(ch, r, e.Delta, e.Material)
	if err != nil {
		m.logger.Printf("chunk %v: edit: %v", ch.Key(), err)
		return n
	}
	switch ch.State() {
	case volume.StateFilled, volume.StateStale:
		m.queue.Push(ch.Key(), m.priority(ch.Key()))
	}
	return n
}

// Flush saves every resident chunk carrying edits. It returns the number saved.
func (m *Manager) Flush() (int, error) {
	if m.archive == nil {
		return 0, nil
	}
	n := 0
	var firstErr error
	for _, k := range m.store.Keys() {
		ch, ok := m.store.Get(k)
		// Generating chunks belong to a worker; check state before data.
		if !ok || !ch.State().HasVoxels() || ch.Version() == 0 {
			continue
		}
		if err := m.save(ch); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("chunk %v: %w", k, err)
			}
			continue
		}
		n++
	}
	return n, firstErr
}

// Inspect lists resident chunks in key order. Chunks whose voxels are not
// complete report only their state.
func (m *Manager) Inspect() []ChunkInfo {
	keys := m.store.Keys()
	out := make([]ChunkInfo, 0, len(keys))
	for _, k := range keys {
		ch, ok := m.store.Get(k)
		if !ok {
			continue
		}
		st := ch.State()
		info := ChunkInfo{
			Key:    k,
			State:  st.String(),
			Queued: m.queue.Contains(k),
		}
		// Meshing workers read a captured grid, so only Generating
		// excludes the coordinator from the chunk's data.
		if st.HasVoxels() {
			info.Version = ch.Version()
			_, info.Uniform = ch.Uniform()
			if mesh := ch.Mesh(); mesh != nil {
				info.Triangles = len(mesh.Triangles)
			}
		}
		_, info.Published = m.published[k]
		out = append(out, info)
	}
	return out
}

func (m *Manager) publishMetrics() {
	c := m.counters
	c.Tick = m.tick
	c.Resident = m.store.Len()
	c.Queued = m.queue.Len()
	c.InFlight = m.inflight
	c.Published = len(m.published)
	m.metricsMu.Lock()
	m.last = c
	m.metricsMu.Unlock()
}

// Metrics may be called from any goroutine.
func (m *Manager) Metrics() Metrics {
	m.metricsMu.Lock()
	out := m.last
	m.metricsMu.Unlock()
	out.EditsDropped += m.backlogDrops.Load()
	return out
}

// Close waits for in-flight work and stops the worker pool. It must be
// called from the coordinating goroutine, and not while Run is active.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.Settle()
		m.pool.Close()
	})
}

func (m *Manager) viewerChunk() volume.ChunkKey {
	s := m.store.ChunkSize()
	vs := m.gen.VoxelSize()
	return volume.ChunkKey{
		X: mathx.FloorDiv(int(math.Floor(m.viewer[0]/vs)), s),
		Y: mathx.FloorDiv(int(math.Floor(m.viewer[1]/vs)), s),
		Z: mathx.FloorDiv(int(math.Floor(m.viewer[2]/vs)), s),
	}
}
