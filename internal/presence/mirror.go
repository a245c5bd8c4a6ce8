package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Mirror persists who is connected where. It is written to after the
// registry changes and is never read back by the relay.
type Mirror interface {
	RecordConnection(ctx context.Context, username, connectionToken string) error
	ClearConnection(ctx context.Context, username string) error
}

type NopMirror struct{}

func (NopMirror) RecordConnection(context.Context, string, string) error { return nil }
func (NopMirror) ClearConnection(context.Context, string) error          { return nil }

type mirrorOp struct {
	record   bool
	username string
	token    string
}

// MirrorQueue applies mirror writes on a single goroutine in the order the
// registry changed, so a record/clear pair for one user never reorders.
// A nil *MirrorQueue is valid and does nothing.
type MirrorQueue struct {
	mirror  Mirror
	ops     chan mirrorOp
	timeout time.Duration
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *slog.Logger

	stopOnce sync.Once
}

func NewMirrorQueue(m Mirror, buffer int, timeout time.Duration, logger *slog.Logger) *MirrorQueue {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MirrorQueue{
		mirror:  m,
		ops:     make(chan mirrorOp, buffer),
		timeout: timeout,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
	}
}

func (q *MirrorQueue) Record(id Identity, conn ConnID) {
	q.enqueue(mirrorOp{record: true, username: string(id), token: string(conn)})
}

func (q *MirrorQueue) Clear(id Identity) {
	q.enqueue(mirrorOp{username: string(id)})
}

func (q *MirrorQueue) enqueue(op mirrorOp) {
	if q == nil {
		return
	}
	select {
	case q.ops <- op:
	default:
		q.logger.Warn("presence mirror queue full, dropping write", "username", op.username, "record", op.record)
	}
}

// Run applies queued writes until Stop, then drains what is left.
func (q *MirrorQueue) Run() {
	defer close(q.doneCh)
	for {
		select {
		case op := <-q.ops:
			q.apply(op)
		case <-q.stopCh:
			for {
				select {
				case op := <-q.ops:
					q.apply(op)
				default:
					return
				}
			}
		}
	}
}

// Stop asks Run to drain and exit. Safe to call more than once.
func (q *MirrorQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
}

func (q *MirrorQueue) Wait() {
	<-q.doneCh
}

func (q *MirrorQueue) apply(op mirrorOp) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	var err error
	if op.record {
		err = q.mirror.RecordConnection(ctx, op.username, op.token)
	} else {
		err = q.mirror.ClearConnection(ctx, op.username)
	}
	if err != nil {
		q.logger.Error("presence mirror write failed", "username", op.username, "record", op.record, "error", err)
	}
}
