// Package audit keeps a tamper-evident, append-only trail of transfer
// attempts.
//
// Recording never blocks or fails a transfer. Events are queued and written
// by a single background worker that chains each entry to the previous one
// by hash. Sink failures and queue overflow are reported through the alert
// hook and the logger; they are never returned to the caller.
package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/models/events"
)

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 5 * time.Second
)

var ErrRecorderClosed = errors.New("audit recorder closed")

// AlertFunc is the operational alert channel for audit problems.
type AlertFunc func(msg string, err error, event events.TransferAttempted)

type Recorder struct {
	sinks        []Sink
	logger       *zap.Logger
	alert        AlertFunc
	writeTimeout time.Duration

	mu     sync.RWMutex // guards closed and sends on queue
	closed bool
	queue  chan events.TransferAttempted
	done   chan struct{}

	// owned by the worker goroutine
	seq      uint64
	prevHash string

	dropped atomic.Uint64
	failed  atomic.Uint64
}

type Option func(*Recorder)

func WithAlert(fn AlertFunc) Option {
	return func(r *Recorder) { r.alert = fn }
}

func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan events.TransferAttempted, n)
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.writeTimeout = d }
}

// ResumeAfter continues the chain from last, typically the final entry of
// an existing audit log.
func ResumeAfter(last Entry) Option {
	return func(r *Recorder) {
		r.seq = last.Sequence
		r.prevHash = last.Hash
	}
}

// NewRecorder starts the background writer. Close must be called to flush
// queued entries and stop it.
func NewRecorder(logger *zap.Logger, sinks []Sink, opts ...Option) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		sinks:        sinks,
		logger:       logger,
		writeTimeout: defaultWriteTimeout,
		queue:        make(chan events.TransferAttempted, defaultQueueSize),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.run()
	return r
}

// Record queues an event. It never blocks: when the queue is full the event
// is dropped and an alert raised.
func (r *Recorder) Record(event events.TransferAttempted) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.raise("audit event after close", ErrRecorderClosed, event)
		return
	}

	select {
	case r.queue <- event:
	default:
		r.dropped.Add(1)
		r.raise("audit queue full, event dropped", errors.New("queue full"), event)
	}
}

// Close stops accepting events and waits until queued ones are written or
// ctx ends.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped is the number of events lost to a full queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Failed is the number of sink writes that returned an error.
func (r *Recorder) Failed() uint64 { return r.failed.Load() }

func (r *Recorder) run() {
	defer close(r.done)

	for event := range r.queue {
		entry, err := r.chain(event)
		if err != nil {
			r.raise("audit entry could not be chained", err, event)
			continue
		}
		for _, sink := range r.sinks {
			r.write(sink, entry)
		}
	}
}

func (r *Recorder) chain(event events.TransferAttempted) (Entry, error) {
	entry := Entry{
		Sequence: r.seq + 1,
		Event:    event,
		PrevHash: r.prevHash,
	}
	hash, err := entry.computeHash()
	if err != nil {
		return Entry{}, err
	}
	entry.Hash = hash

	r.seq = entry.Sequence
	r.prevHash = hash
	return entry, nil
}

func (r *Recorder) write(sink Sink, entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if err := sink.Write(ctx, entry); err != nil {
		r.failed.Add(1)
		r.raise("audit sink write failed", err, entry.Event, zap.String("sink", sink.Name()), zap.Uint64("sequence", entry.Sequence))
	}
}

func (r *Recorder) raise(msg string, err error, event events.TransferAttempted, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.String("event", "audit_failure"),
		zap.String("sender", event.SenderID),
		zap.String("receiver", event.ReceiverAccount),
		zap.String("amount", event.Amount.StringFixed(2)),
		zap.String("outcome", event.Outcome),
		zap.Error(err),
	}, extra...)
	r.logger.Error(msg, fields...)

	if r.alert != nil {
		r.alert(msg, err, event)
	}
}
