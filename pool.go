package spritepal

import (
	"sync"
	"time"
)

// workerPool runs a fixed set of scan workers with an explicit phased
// shutdown: RequestStop asks workers to finish their current probe and
// exit, Join waits for that with a deadline, and ForceTerminate tells
// workers to abandon work at the next poll. Workers receive both
// channels and are expected to poll stop at probe granularity and kill
// inside any longer-running inner loop.
type workerPool struct {
	wg       sync.WaitGroup
	stop     chan struct{}
	kill     chan struct{}
	stopOnce sync.Once
	killOnce sync.Once
}

func newWorkerPool() *workerPool {
	return &workerPool{
		stop: make(chan struct{}),
		kill: make(chan struct{}),
	}
}

// Go starts one worker.
func (p *workerPool) Go(fn func(stop, kill <-chan struct{})) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn(p.stop, p.kill)
	}()
}

// RequestStop begins a graceful shutdown. Idempotent.
func (p *workerPool) RequestStop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Join waits for all workers to exit. A zero timeout waits forever.
// It reports whether the workers finished within the deadline.
func (p *workerPool) Join(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return true
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// ForceTerminate abandons graceful shutdown: workers drop their current
// chunk at the next poll. Idempotent, and implies RequestStop.
func (p *workerPool) ForceTerminate() {
	p.RequestStop()
	p.killOnce.Do(func() { close(p.kill) })
}

// stopped is a non-blocking poll of a stop or kill channel.
func stopped(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
