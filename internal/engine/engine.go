// Package engine implements the queue-consumer that drives runs through
// the station pipeline. At most one worker holds the writer role for a
// run at a time; the role is granted by a compare-and-set on the run row
// and proven alive by the heartbeat.
package engine

import (
	"context"
	"log"
	"time"

	"github.com/arasmith/signalbox/internal/coderunner"
	"github.com/arasmith/signalbox/internal/notify"
	"github.com/arasmith/signalbox/internal/queue"
	"gorm.io/gorm"
)

// Timing constants for the single-writer protocol.
const (
	// HeartbeatInterval is how often a station in progress refreshes
	// runs.heartbeat_at.
	HeartbeatInterval = 5 * time.Second

	// StaleThreshold is how long a running run may go without a heartbeat
	// before another worker may take it over.
	StaleThreshold = 30 * time.Second

	// idlePause is the poll sleep when the queue is empty.
	idlePause = 250 * time.Millisecond
)

// Outcome is the disposition of one delivered message.
type Outcome string

const (
	OutcomeAck   Outcome = "ack"
	OutcomeRetry Outcome = "retry"
	OutcomeNone  Outcome = "none"
)

// Options configures a Worker.
type Options struct {
	Topic    string
	Lease    time.Duration
	Notifier notify.Notifier
}

// Worker consumes run messages and executes station pipelines.
type Worker struct {
	db       *gorm.DB
	queue    *queue.Queue
	adapter  coderunner.Adapter
	notifier notify.Notifier
	topic    string
	lease    time.Duration
}

// New builds a Worker.
func New(db *gorm.DB, q *queue.Queue, adapter coderunner.Adapter, opts Options) *Worker {
	if opts.Topic == "" {
		opts.Topic = "runs"
	}
	if opts.Lease <= 0 {
		opts.Lease = queue.DefaultLease
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	return &Worker{
		db:       db,
		queue:    q,
		adapter:  adapter,
		notifier: opts.Notifier,
		topic:    opts.Topic,
		lease:    opts.Lease,
	}
}

// Run polls the queue until ctx is cancelled, handling one message at a
// time. Queue errors pause the loop briefly rather than killing it.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := w.queue.Receive(w.topic, w.lease)
		if err != nil {
			log.Printf("engine.receive.failed topic=%s err=%v", w.topic, err)
			sleep(ctx, time.Second)
			continue
		}
		if msg == nil {
			sleep(ctx, idlePause)
			continue
		}

		switch w.HandleMessage(ctx, []byte(msg.Body)) {
		case OutcomeRetry:
			if err := w.queue.Retry(msg.ID); err != nil {
				log.Printf("engine.retry.failed msg=%d err=%v", msg.ID, err)
			}
		default:
			if err := w.queue.Ack(msg.ID); err != nil {
				log.Printf("engine.ack.failed msg=%d err=%v", msg.ID, err)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
