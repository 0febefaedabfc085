package stream

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain.ai/internal/terrain/gen"
)

// Run drives the manager until ctx is done. Edits and viewer moves that
// arrive between ticks are applied at the start of the next tick; at most
// EditBacklog edits are held between ticks, the rest wait in the request
// channel. On exit it waits for in-flight work, saves edited chunks and
// stops the pool.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	defer close(m.stopped)

	var pendingEdits []gen.Edit
	for {
		editCh := m.editCh
		if len(pendingEdits) >= m.cfg.EditBacklog {
			editCh = nil
		}
		select {
		case <-ctx.Done():
			for _, e := range pendingEdits {
				m.applyQueuedEdit(e)
			}
		drain:
			for {
				select {
				case e := <-m.editCh:
					m.applyQueuedEdit(e)
				default:
					break drain
				}
			}
			m.Settle()
			if n, err := m.Flush(); err != nil {
				m.logger.Printf("final flush: saved %d: %v", n, err)
			}
			m.closeOnce.Do(func() { m.pool.Close() })
			return ctx.Err()
		case pos := <-m.viewerCh:
			m.SetViewer(pos)
		case e := <-editCh:
			pendingEdits = append(pendingEdits, e)
		case req := <-m.flushCh:
			n, err := m.Flush()
			req.resp <- flushResp{n: n, err: err}
		case req := <-m.inspectCh:
			req.resp <- m.Inspect()
		case <-ticker.C:
			for _, e := range pendingEdits {
				m.applyQueuedEdit(e)
			}
			pendingEdits = pendingEdits[:0]
			m.Step()
		}
	}
}

func (m *Manager) applyQueuedEdit(e gen.Edit) {
	if _, err := m.ApplyEdit(e); err != nil {
		m.logger.Printf("edit: %v", err)
	}
}

// RequestViewer hands a viewer position to the running loop. Only the
// latest position is kept.
func (m *Manager) RequestViewer(pos mgl64.Vec3) {
	select {
	case m.viewerCh <- pos:
		return
	default:
	}
	// Drop one.
	select {
	case <-m.viewerCh:
	default:
	}
	select {
	case m.viewerCh <- pos:
	default:
	}
}

// RequestEdit hands an edit to the running loop without blocking.
func (m *Manager) RequestEdit(e gen.Edit) error {
	if err := m.checkEdit(e); err != nil {
		return err
	}
	select {
	case m.editCh <- e:
		return nil
	default:
		m.backlogDrops.Add(1)
		return ErrEditBacklogFull
	}
}

// RequestFlush asks the running loop to save edited chunks.
func (m *Manager) RequestFlush(ctx context.Context) (int, error) {
	req := flushReq{resp: make(chan flushResp, 1)}
	select {
	case m.flushCh <- req:
	case <-m.stopped:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-req.resp:
		return r.n, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// RequestInspect asks the running loop for a listing of resident chunks.
func (m *Manager) RequestInspect(ctx context.Context) ([]ChunkInfo, error) {
	req := inspectReq{resp: make(chan []ChunkInfo, 1)}
	select {
	case m.inspectCh <- req:
	case <-m.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-req.resp:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
