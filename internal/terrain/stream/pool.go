package stream

import "sync"

// Pool runs submitted jobs on a fixed set of goroutines.
type Pool struct {
	jobs chan func()
	wg   sync.WaitGroup
	once sync.Once
}

func NewPool(workers, backlog int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	p := &Pool{jobs: make(chan func(), backlog)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for fn := range p.jobs {
				fn()
			}
		}()
	}
	return p
}

// TrySubmit queues fn without blocking. It returns false when the backlog is full.
func (p *Pool) TrySubmit(fn func()) bool {
	select {
	case p.jobs <- fn:
		return true
	default:
		return false
	}
}

// Close stops accepting jobs and waits for queued and running jobs to finish.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
