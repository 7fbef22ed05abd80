package chat

import (
	"sync"
	"sync/atomic"
)

// emitGate serializes the work behind a subscription's callbacks and
// guarantees that no callback starts once close has returned. close may be
// called from inside a callback.
type emitGate struct {
	mu       sync.Mutex
	stopped  atomic.Bool
	emitting atomic.Bool
}

// do runs prepare under the gate and then the callback it returns, if any.
func (g *emitGate) do(prepare func() func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped.Load() {
		return
	}
	cb := prepare()
	if cb == nil || g.stopped.Load() {
		return
	}
	g.emitting.Store(true)
	defer g.emitting.Store(false)
	cb()
}

func (g *emitGate) close() {
	g.stopped.Store(true)
	if g.emitting.Load() {
		return
	}
	// wait out an in-flight prepare
	g.mu.Lock()
	g.mu.Unlock()
}

func (g *emitGate) closed() bool { return g.stopped.Load() }
