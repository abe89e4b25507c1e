package ingest

import (
	"context"
	"sync"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/logging"
)

// DefaultWorkers is the worker count when none is configured.
const DefaultWorkers = 3

// Pool drains the ingress queue with a fixed number of interchangeable
// workers. Workers hold no state of their own, so two readings for the
// same device may be processed out of arrival order; the record merge
// compares observation times to make that harmless.
type Pool struct {
	workers int
	queue   *Queue
	process func(RawMessage)
	logger  *logging.Logger

	wg sync.WaitGroup
}

// NewPool creates a pool that calls process for every dequeued message.
// A non-positive workers uses DefaultWorkers.
func NewPool(workers int, queue *Queue, process func(RawMessage), logger *logging.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pool{
		workers: workers,
		queue:   queue,
		process: process,
		logger:  logger,
	}
}

// Start launches the workers. They exit when ctx is cancelled, after
// finishing the message they are on.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.workers
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		msg, ok := p.queue.Dequeue(ctx)
		if !ok {
			return
		}
		p.handle(id, msg)
	}
}

// handle isolates one message so a panic cannot take the worker down.
func (p *Pool) handle(id int, msg RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("ingest worker panic recovered",
				"worker", id,
				"topic", msg.Topic,
				"panic", r,
			)
		}
	}()
	p.process(msg)
}
