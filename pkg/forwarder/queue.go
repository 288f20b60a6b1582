package forwarder

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// QueueConfig for the batching queue
type QueueConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// OnFailure is called with the size of a batch that could not be sent.
	OnFailure func(n int, err error)
}

// Queue buffers events and ships them in batches. Enqueue never blocks;
// events arriving while the buffer is full are dropped and counted.
type Queue struct {
	client *Client
	cfg    QueueConfig
	log    *logrus.Logger

	events chan *Event
	done   chan struct{}

	sent    atomic.Int64
	dropped atomic.Int64
}

// NewQueue creates a queue that sends through client.
func NewQueue(client *Client, cfg QueueConfig, log *logrus.Logger) *Queue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	return &Queue{
		client: client,
		cfg:    cfg,
		log:    log,
		events: make(chan *Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}
}

// Enqueue adds ev to the buffer. It reports false if the buffer was full.
func (q *Queue) Enqueue(ev *Event) bool {
	select {
	case q.events <- ev:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Run sends batches until ctx is done, then drains what is buffered and
// sends it before returning.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	q.log.WithFields(logrus.Fields{
		"endpoint":   q.client.apiEndpoint,
		"batch_size": q.cfg.BatchSize,
	}).Info("Starting event forwarder")

	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Event, 0, q.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-q.events:
					batch = append(batch, ev)
				default:
					q.flush(context.Background(), batch)
					return
				}
			}

		case ev := <-q.events:
			batch = append(batch, ev)
			if len(batch) >= q.cfg.BatchSize {
				q.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				q.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// Done is closed once Run has returned.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Stats returns the number of events sent and dropped so far.
func (q *Queue) Stats() (sent, dropped int64) {
	return q.sent.Load(), q.dropped.Load()
}

func (q *Queue) flush(ctx context.Context, batch []*Event) {
	if len(batch) == 0 {
		return
	}
	if err := q.client.SendBatchEvents(ctx, batch); err != nil {
		q.dropped.Add(int64(len(batch)))
		q.log.WithError(err).WithField("events", len(batch)).Error("Failed to forward batch")
		if q.cfg.OnFailure != nil {
			q.cfg.OnFailure(len(batch), err)
		}
		return
	}
	q.sent.Add(int64(len(batch)))
}
