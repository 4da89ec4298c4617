// Package taskqueue runs tasks strictly in order, one at a time. Ordering
// is the whole point: the chat protocol requires that messages leave in
// the order they were queued, so there is exactly one executor and a
// single-flight guard around the spool loop.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chatmesh/mediator-go/internal/processor"
	"github.com/chatmesh/mediator-go/internal/taskdef"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 32 * time.Second
	defaultRetries = 5
)

var (
	// ErrNotConnected is returned by executors when no connection exists.
	// Transient: the task retries (or waits interrupted) instead of failing.
	ErrNotConnected = errors.New("taskqueue: not connected")

	// ErrNotLoggedIn is returned by executors between connect and the
	// completed server handshake. Transient.
	ErrNotLoggedIn = errors.New("taskqueue: not logged in")

	// ErrTaskDropped completes a drop-on-disconnect task that was removed
	// by Interrupt before it could run to completion.
	ErrTaskDropped = errors.New("taskqueue: task dropped on disconnect")
)

// transientError marks an executor failure as retryable.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps an error so the queue treats it as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func isTransient(err error) bool {
	var te *transientError
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrNotLoggedIn) || errors.As(err, &te)
}

// Discardable failures complete the task as a success: the work is moot,
// not broken.
func isDiscardable(err error) bool {
	return errors.Is(err, processor.ErrMessageAlreadyProcessed) ||
		errors.Is(err, processor.ErrDoNotAckVoIP)
}

// ExecFunc performs one task attempt.
type ExecFunc func(ctx context.Context, task taskdef.Task) error

// StoredTask is one persisted task record.
type StoredTask struct {
	ID   int64
	Blob []byte
}

// QueueStore persists persistent tasks across restarts.
type QueueStore interface {
	AppendTask(blob []byte) (int64, error)
	DeleteTask(id int64) error
	LoadTasks() ([]StoredTask, error)
}

type item struct {
	task       taskdef.Task
	storeID    int64 // 0 when not persisted
	completion func(error)
	once       sync.Once
}

func (it *item) complete(q *Queue, err error) {
	it.once.Do(func() {
		it.task.TaskBase().State = taskdef.Done
		if it.storeID != 0 && q.store != nil {
			if derr := q.store.DeleteTask(it.storeID); derr != nil {
				logf(q.logger, "delete persisted task %d: %v", it.storeID, derr)
			}
		}
		if it.completion != nil {
			it.completion(err)
		}
	})
}

// Queue is a FIFO task queue with a single-flight spool loop.
type Queue struct {
	mu          sync.Mutex
	items       []*item
	spooling    bool
	interrupted bool

	exec       ExecFunc
	store      QueueStore
	logger     *log.Logger
	maxRetries int
	sleep      func(time.Duration)
}

// Option configures a Queue.
type Option func(*Queue)

func WithLogger(l *log.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithStore persists persistent tasks through s.
func WithStore(s QueueStore) Option {
	return func(q *Queue) { q.store = s }
}

func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(q *Queue) { q.sleep = sleep }
}

func New(exec ExecFunc, opts ...Option) *Queue {
	q := &Queue{
		exec:       exec,
		maxRetries: defaultRetries,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a task. Persistent tasks are written to the store before
// they become visible to the spool loop, so a crash between Enqueue and
// execution cannot lose them. The completion handler runs exactly once.
func (q *Queue) Enqueue(task taskdef.Task, completion func(error)) error {
	it := &item{task: task, completion: completion}

	if task.TaskBase().Type == taskdef.Persistent && q.store != nil {
		blob, err := taskdef.Marshal(task)
		if err != nil {
			return err
		}
		id, err := q.store.AppendTask(blob)
		if err != nil {
			return fmt.Errorf("taskqueue: persist: %w", err)
		}
		it.storeID = id
	}

	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
	return nil
}

// Resume loads persisted tasks back into the queue. Call once at startup,
// before the first Spool.
func (q *Queue) Resume() error {
	if q.store == nil {
		return nil
	}
	stored, err := q.store.LoadTasks()
	if err != nil {
		return fmt.Errorf("taskqueue: load: %w", err)
	}
	for _, st := range stored {
		task, err := taskdef.Unmarshal(st.Blob)
		if err != nil {
			// A record we cannot decode would block the queue forever;
			// drop it and keep the rest.
			logf(q.logger, "discarding undecodable task %d: %v", st.ID, err)
			if derr := q.store.DeleteTask(st.ID); derr != nil {
				logf(q.logger, "delete task %d: %v", st.ID, derr)
			}
			continue
		}
		q.mu.Lock()
		q.items = append(q.items, &item{task: task, storeID: st.ID})
		q.mu.Unlock()
	}
	return nil
}

// Len reports the number of queued, not yet completed tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Spool drains the queue. Safe to call at any time from any goroutine;
// while one spool loop runs, further calls return immediately.
func (q *Queue) Spool(ctx context.Context) {
	q.mu.Lock()
	if q.spooling {
		q.mu.Unlock()
		return
	}
	q.spooling = true
	q.interrupted = false
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.spooling = false
		q.mu.Unlock()
	}()

	for {
		q.mu.Lock()
		if q.interrupted || len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		it := q.items[0]
		q.mu.Unlock()

		if !q.run(ctx, it) {
			// Suspended by Interrupt. The task stays queued and stored
			// until the next Spool after reconnect.
			return
		}

		q.remove(it)
	}
}

func (q *Queue) remove(it *item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, other := range q.items {
		if other == it {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// run executes one task to completion, with retries. It reports whether
// the item is finished: false means an Interrupt suspended the task and
// it must stay in the queue for the next Spool.
func (q *Queue) run(ctx context.Context, it *item) bool {
	base := it.task.TaskBase()
	backoff := initialBackoff

	for {
		q.mu.Lock()
		dropped := base.Dropped
		interrupted := q.interrupted
		if !dropped && !interrupted {
			base.State = taskdef.Executing
		}
		q.mu.Unlock()

		if dropped {
			it.complete(q, ErrTaskDropped)
			return true
		}
		if interrupted {
			q.mu.Lock()
			base.State = taskdef.Interrupted
			base.RetryCount = 0
			q.mu.Unlock()
			return false
		}
		if err := ctx.Err(); err != nil {
			it.complete(q, err)
			return true
		}

		err := q.exec(ctx, it.task)

		switch {
		case err == nil:
			it.complete(q, nil)
			return true

		case isDiscardable(err):
			logf(q.logger, "%s: discarded: %v", it.task.TaskName(), err)
			it.complete(q, nil)
			return true

		case isTransient(err) && base.Retry && base.RetryCount < q.maxRetries:
			q.mu.Lock()
			base.RetryCount++
			base.State = taskdef.Interrupted
			retries := base.RetryCount
			q.mu.Unlock()
			logf(q.logger, "%s: attempt %d failed, backing off %v: %v",
				it.task.TaskName(), retries, backoff, err)
			q.sleep(backoff)
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			// Loop re-checks Dropped and the interrupt flag, so an
			// Interrupt that landed during the backoff wait wins over
			// the next attempt.

		default:
			it.complete(q, err)
			return true
		}
	}
}

// Interrupt is called on disconnect. Drop-on-disconnect tasks are marked
// dropped and completed; everything else goes back to Interrupted and
// waits for the next Spool after reconnect.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	q.interrupted = true
	var dropped []*item
	kept := q.items[:0]
	for _, it := range q.items {
		base := it.task.TaskBase()
		if base.Type == taskdef.DropOnDisconnect {
			base.Dropped = true
			if base.State != taskdef.Executing {
				dropped = append(dropped, it)
				continue
			}
			// The running task sees Dropped before its next attempt.
		} else if base.State == taskdef.Executing {
			base.State = taskdef.Interrupted
		}
		kept = append(kept, it)
	}
	q.items = kept
	q.mu.Unlock()

	for _, it := range dropped {
		it.complete(q, ErrTaskDropped)
	}
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
