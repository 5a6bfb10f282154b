package job

import (
	"sync"
	"time"

	"github.com/argus-labs/frameloop/pkg/assert"
)

// workerPool runs closures on a set of goroutines. It keeps minWorkers goroutines alive and spawns
// extra ones, up to maxWorkers, whenever work arrives and no worker is idle. Extra workers retire
// after keepAlive without work. The queue is unbounded so submit never blocks.
type workerPool struct {
	minWorkers int
	maxWorkers int
	keepAlive  time.Duration

	mu      sync.Mutex
	queue   workQueue
	workers int  // Live workers
	idle    int  // Waiting workers that have not been handed a wake token
	peak    int  // High-water mark of live workers
	closed  bool // Set once by close

	// wake carries one token per idle worker claimed by submit. Its capacity is maxWorkers, and
	// tokens never outnumber waiting workers, so sends under mu never block.
	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	onResize func(workers int)
}

func newWorkerPool(minWorkers, maxWorkers int, keepAlive time.Duration, onResize func(int)) *workerPool {
	assert.That(minWorkers > 0, "job: pool needs at least one worker")
	assert.That(maxWorkers >= minWorkers, "job: max workers %d below min workers %d", maxWorkers, minWorkers)

	p := &workerPool{
		minWorkers: minWorkers,
		maxWorkers: maxWorkers,
		keepAlive:  keepAlive,
		wake:       make(chan struct{}, maxWorkers),
		done:       make(chan struct{}),
		onResize:   onResize,
	}

	p.mu.Lock()
	for range minWorkers {
		p.spawnLocked(true)
	}
	p.mu.Unlock()
	return p
}

// submit queues fn for execution.
func (p *workerPool) submit(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	assert.That(!p.closed, "job: submit on a closed worker pool")
	p.queue.push(fn)

	switch {
	case p.idle > 0:
		p.idle--
		p.wake <- struct{}{}
	case p.workers < p.maxWorkers:
		p.spawnLocked(false)
	}
}

// size returns the number of live workers and the high-water mark.
func (p *workerPool) size() (live, peak int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers, p.peak
}

// close stops accepting work, lets the workers drain the queue, and waits for them to exit.
func (p *workerPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *workerPool) spawnLocked(core bool) {
	p.workers++
	p.peak = max(p.peak, p.workers)
	p.wg.Add(1)
	go p.work(core)

	if !core {
		p.resizedLocked()
	}
}

// retireLocked removes the calling worker from the live count.
func (p *workerPool) retireLocked() {
	p.workers--
	p.resizedLocked()
}

func (p *workerPool) resizedLocked() {
	if p.onResize != nil {
		p.onResize(p.workers)
	}
}

func (p *workerPool) work(core bool) {
	defer p.wg.Done()
	for {
		fn, ok := p.next(core)
		if !ok {
			return
		}
		fn()
	}
}

// next blocks until work is available. It returns false when the worker should exit, either
// because the pool is closed and drained or because an extra worker idled past keepAlive.
func (p *workerPool) next(core bool) (func(), bool) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		p.mu.Lock()
		if fn, ok := p.queue.pop(); ok {
			p.mu.Unlock()
			return fn, true
		}
		if p.closed {
			p.retireLocked()
			p.mu.Unlock()
			return nil, false
		}
		p.idle++
		p.mu.Unlock()

		var expired <-chan time.Time
		if !core {
			if timer == nil {
				timer = time.NewTimer(p.keepAlive)
			} else {
				timer.Reset(p.keepAlive)
			}
			expired = timer.C
		}

		select {
		case <-p.wake:
			continue
		case <-p.done:
			p.mu.Lock()
			p.reclaimIdleLocked()
			p.mu.Unlock()
			continue
		case <-expired:
		}

		p.mu.Lock()
		if p.reclaimIdleLocked() {
			p.mu.Unlock()
			continue
		}
		p.retireLocked()
		p.mu.Unlock()
		return nil, false
	}
}

// reclaimIdleLocked is called by a worker leaving its wait without receiving a token. If a token
// is pending, the worker takes it and reports true. Otherwise it removes itself from the idle
// count and reports false.
func (p *workerPool) reclaimIdleLocked() bool {
	select {
	case <-p.wake:
		return true
	default:
		p.idle--
		return false
	}
}
