package spritepal

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolJoin(t *testing.T) {
	p := newWorkerPool()

	var ran atomic.Int32
	for i := 0; i < 4; i++ {
		p.Go(func(stop, kill <-chan struct{}) {
			ran.Add(1)
		})
	}

	assert.True(t, p.Join(time.Second))
	assert.Equal(t, int32(4), ran.Load())
}

func TestPoolRequestStop(t *testing.T) {
	p := newWorkerPool()

	p.Go(func(stop, kill <-chan struct{}) {
		<-stop
	})

	assert.False(t, p.Join(10*time.Millisecond))
	p.RequestStop()
	assert.True(t, p.Join(time.Second))

	// Idempotent.
	p.RequestStop()
}

func TestPoolForceTerminate(t *testing.T) {
	p := newWorkerPool()

	var graceful atomic.Bool
	p.Go(func(stop, kill <-chan struct{}) {
		// Ignores the graceful phase, exits only when killed.
		<-kill
		graceful.Store(stopped(stop))
	})

	p.RequestStop()
	assert.False(t, p.Join(10*time.Millisecond))

	p.ForceTerminate()
	assert.True(t, p.Join(time.Second))

	// ForceTerminate implies RequestStop.
	assert.True(t, graceful.Load())
}

func TestStopped(t *testing.T) {
	ch := make(chan struct{})
	assert.False(t, stopped(ch))
	close(ch)
	assert.True(t, stopped(ch))
}
