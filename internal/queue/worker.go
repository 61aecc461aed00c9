package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/quibble-app/quibble/internal/hub"
	"github.com/quibble-app/quibble/internal/model"
	"github.com/quibble-app/quibble/internal/store"
	"github.com/quibble-app/quibble/internal/tree"
)

// Topic is the broadcast topic all comment notifications go to.
const Topic = "comments"

// Broadcaster is the delivery side of the fanout. An error means the
// transport itself failed; per-subscriber failures are the transport's
// problem and never surface here.
type Broadcaster interface {
	Deliver(topic string, payload []byte) (int, error)
}

// HubBroadcaster adapts the in-process hub, which cannot fail as a whole.
type HubBroadcaster struct {
	Hub *hub.Hub
}

func (b HubBroadcaster) Deliver(topic string, payload []byte) (int, error) {
	return b.Hub.Deliver(topic, payload), nil
}

// CommentGetter is the slice of the store the worker needs.
type CommentGetter interface {
	GetComment(ctx context.Context, id int64) (model.Comment, error)
}

type WorkerConfig struct {
	Workers     int
	MaxDepth    int
	Order       store.Order
	MaxAttempts int
	Backoff     time.Duration
}

// WorkerPool consumes notification jobs, loads and serializes the comment,
// and publishes it to the broadcast topic.
type WorkerPool struct {
	queue       *Queue
	store       CommentGetter
	trees       *tree.Materializer
	broadcaster Broadcaster
	log         *log.Logger
	cfg         WorkerConfig
	wg          sync.WaitGroup
}

func NewWorkerPool(q *Queue, st CommentGetter, trees *tree.Materializer, b Broadcaster, logger *log.Logger, cfg WorkerConfig) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = tree.DefaultMaxDepth
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	if cfg.Order == "" {
		cfg.Order = store.OrderCreatedDesc
	}
	return &WorkerPool{
		queue:       q,
		store:       st,
		trees:       trees,
		broadcaster: b,
		log:         logger,
		cfg:         cfg,
	}
}

// Start launches the worker goroutines. They exit when the queue closes
// and everything already enqueued has been processed.
func (p *WorkerPool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case job := <-p.queue.Jobs():
					p.process(job)
				case <-p.queue.Done():
					p.drain()
					return
				}
			}
		}()
	}
}

// drain empties what was already buffered when the queue closed.
func (p *WorkerPool) drain() {
	for {
		select {
		case job := <-p.queue.Jobs():
			p.process(job)
		default:
			return
		}
	}
}

// Stop closes the queue and waits for the drain.
func (p *WorkerPool) Stop() {
	p.queue.Close()
	p.wg.Wait()
}

func (p *WorkerPool) process(job Job) {
	ctx := context.Background()

	comment, err := p.store.GetComment(ctx, job.CommentID)
	if errors.Is(err, store.ErrNotFound) {
		// Row vanished between enqueue and fanout (admin removal). Drop.
		p.log.Printf("job %s: comment %d gone, dropping", job.ID, job.CommentID)
		return
	}
	if err != nil {
		p.log.Printf("job %s: load comment %d: %v", job.ID, job.CommentID, err)
		return
	}

	node, err := p.trees.Materialize(ctx, comment, p.cfg.Order, p.cfg.MaxDepth)
	if err != nil {
		p.log.Printf("job %s: materialize comment %d: %v", job.ID, job.CommentID, err)
		return
	}

	payload, err := json.Marshal(model.Envelope{Type: model.EnvelopeNewComment, Comment: node})
	if err != nil {
		p.log.Printf("job %s: encode comment %d: %v", job.ID, job.CommentID, err)
		return
	}

	backoff := p.cfg.Backoff
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		n, err := p.broadcaster.Deliver(Topic, payload)
		if err == nil {
			p.log.Printf("job %s: comment %d delivered to %d subscribers", job.ID, job.CommentID, n)
			return
		}
		if attempt < p.cfg.MaxAttempts {
			p.log.Printf("job %s: deliver attempt %d failed: %v (retrying in %s)", job.ID, attempt, err, backoff)
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	// The comment is already durable; losing the notification degrades to
	// "late subscribers must reload", never to a failed write.
	p.log.Printf("job %s: dropping after %d delivery attempts", job.ID, p.cfg.MaxAttempts)
}
