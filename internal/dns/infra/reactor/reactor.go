// Package reactor provides the single-threaded dispatch loop all resolver
// state lives on. Fetch completions, timer fires, and address-store
// notifications are posted here, so per-query state needs no locking.
package reactor

import (
	"sync"

	"github.com/haukened/rr-resolved/internal/dns/common/log"
)

const defaultQueueSize = 1024

// Reactor serializes posted work onto one goroutine, in FIFO order.
type Reactor struct {
	tasks  chan func()
	quit   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger log.Logger
}

// New creates a Reactor. Start must be called before posting work.
func New(logger log.Logger) *Reactor {
	return &Reactor{
		tasks:  make(chan func(), defaultQueueSize),
		quit:   make(chan struct{}),
		logger: logger,
	}
}

// Start launches the dispatch goroutine.
func (r *Reactor) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Reactor) run() {
	defer r.wg.Done()
	for {
		select {
		case fn := <-r.tasks:
			fn()
		case <-r.quit:
			// drain whatever was queued before shutdown
			for {
				select {
				case fn := <-r.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Post enqueues fn for execution on the dispatch goroutine. Work posted
// after Stop is dropped.
func (r *Reactor) Post(fn func()) {
	select {
	case <-r.quit:
		r.logger.Debug(nil, "reactor stopped, dropping posted work")
	case r.tasks <- fn:
	}
}

// Stop shuts the loop down and waits for it to exit. Queued work is drained
// first so in-flight teardown sequences can finish.
func (r *Reactor) Stop() {
	r.once.Do(func() {
		close(r.quit)
	})
	r.wg.Wait()
}
