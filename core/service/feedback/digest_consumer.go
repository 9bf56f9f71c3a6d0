package feedback

import (
	"context"
	"sync"

	"digest_server/core/domain"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

const learningQueueSize = 256

// learningWorker adapts the manager to the pool worker interface.
type learningWorker struct {
	manager *Manager
}

func (w *learningWorker) Do(ctx context.Context, event *domain.LearningEvent) error {
	return w.manager.HandleLearningEvent(ctx, event)
}

// Consumer drains learning events from the cascade on a small worker
// pool so classification latency never pays for feedback writes. It is
// the cascade's learning sink.
type Consumer struct {
	manager *Manager
	workers int
	log     zerolog.Logger

	queue          chan *domain.LearningEvent
	group          *pool.WorkerGroup[*domain.LearningEvent]
	dispatcherDone chan struct{}

	mu      sync.Mutex
	started bool
}

// NewConsumer builds a consumer; Start must be called before Submit
// delivers anything.
func NewConsumer(manager *Manager, workers int, log zerolog.Logger) *Consumer {
	if workers <= 0 {
		workers = 2
	}
	return &Consumer{
		manager:        manager,
		workers:        workers,
		log:            log.With().Str("component", "learning_consumer").Logger(),
		queue:          make(chan *domain.LearningEvent, learningQueueSize),
		dispatcherDone: make(chan struct{}),
	}
}

// Start launches the worker group and the queue dispatcher.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	c.group = pool.New[*domain.LearningEvent](c.workers, &learningWorker{manager: c.manager}).
		WithBatchSize(8).
		WithWorkerChanSize(32).
		WithContinueOnError()
	if err := c.group.Go(ctx); err != nil {
		return err
	}
	go c.dispatch()
	c.started = true

	c.log.Info().Int("workers", c.workers).Msg("learning consumer started")
	return nil
}

func (c *Consumer) dispatch() {
	defer close(c.dispatcherDone)
	for event := range c.queue {
		c.group.Submit(event)
	}
}

// Submit enqueues one learning event. It never blocks the caller: when
// the queue is saturated the event is dropped, which only delays
// learning until the pattern is seen again.
func (c *Consumer) Submit(event *domain.LearningEvent) {
	if event == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	select {
	case c.queue <- event:
	default:
		c.log.Warn().Str("sender", event.Sender).Msg("learning queue full, event dropped")
	}
}

// Close drains the queue and waits for in-flight handlers to finish.
func (c *Consumer) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	c.mu.Unlock()

	close(c.queue)
	<-c.dispatcherDone
	return c.group.Close(ctx)
}
