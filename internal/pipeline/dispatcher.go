package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/vidsight/internal/cleanup"
	"github.com/fyrsmithlabs/vidsight/internal/logging"
	"github.com/fyrsmithlabs/vidsight/internal/session"
)

// ChunkProcessor handles chunk jobs. Runner implements it.
type ChunkProcessor interface {
	// ProcessChunk handles one job and returns the session's status
	// afterwards, or "" when the session could not be loaded.
	ProcessChunk(ctx context.Context, job ChunkJob) (session.Status, error)
	// NextChunkIndex returns the index the next chunk of a session must
	// carry. It is consulted when the dispatcher holds no state for it.
	NextChunkIndex(ctx context.Context, sessionID string) (int, error)
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	// Workers is the number of sessions processed concurrently. Default: 4.
	Workers int
	// QueueSize caps the jobs accepted but not yet finished, held ones
	// included. Default: 256.
	QueueSize int
	// MaxAhead is how far past the next expected index a chunk may arrive
	// and still be held for reordering. Default: 8.
	MaxAhead int
	// HoldTimeout is how long a held chunk waits for its predecessors
	// before it is dropped. Default: 2m.
	HoldTimeout time.Duration
}

type heldJob struct {
	job   ChunkJob
	since time.Time
}

// sessionQueue is the dispatcher state of one session. jobs are ready to
// run in index order; held are early arrivals waiting for a missing
// predecessor. scheduled is true while the session is waiting in ready or
// owned by a worker; at most one worker owns a session at a time.
type sessionQueue struct {
	jobs      []ChunkJob
	held      map[int]heldJob
	next      int
	last      int
	scheduled bool
}

func (q *sessionQueue) idle() bool {
	return !q.scheduled && len(q.jobs) == 0 && len(q.held) == 0
}

// release queues job, which must carry q.next, followed by every held job
// that is now contiguous.
func (q *sessionQueue) release(job ChunkJob) {
	q.jobs = append(q.jobs, job)
	q.next = job.ChunkIndex + 1
	for {
		h, ok := q.held[q.next]
		if !ok {
			return
		}
		delete(q.held, q.next)
		q.jobs = append(q.jobs, h.job)
		q.next++
	}
}

// Dispatcher runs chunk jobs on a bounded pool of workers. Jobs of the same
// session run one at a time in chunk index order; different sessions run
// in parallel. State is kept only for sessions with work in flight.
type Dispatcher struct {
	proc   ChunkProcessor
	config DispatcherConfig
	logger *logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	queues  map[string]*sessionQueue
	blocked map[string]bool
	pending int
	closed  bool
	ready   chan string
}

// NewDispatcher creates a dispatcher. Call Run to start its workers.
func NewDispatcher(proc ChunkProcessor, cfg DispatcherConfig, logger *logging.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAhead <= 0 {
		cfg.MaxAhead = 8
	}
	if cfg.HoldTimeout <= 0 {
		cfg.HoldTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		proc:    proc,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		queues:  map[string]*sessionQueue{},
		blocked: map[string]bool{},
		// Each scheduled session has at least one pending job, so sends on
		// ready never block while pending <= QueueSize.
		ready: make(chan string, cfg.QueueSize),
	}
}

// Submit accepts job and returns immediately. The chunk carrying the next
// expected index of its session is queued at once; a later index within
// MaxAhead is held until its predecessors arrive. Duplicates, indexes past
// the last chunk and gaps wider than MaxAhead are rejected with
// ErrValidation. ErrQueueFull is returned when the queue is at capacity.
// Jobs of a blocked session are refused with ErrSessionNotFound.
func (d *Dispatcher) Submit(job ChunkJob) error {
	if job.ChunkIndex < 0 {
		submitRejected.WithLabelValues("order").Inc()
		return stageErr(ErrValidation, "submit", job.SessionID, -1,
			fmt.Errorf("chunk index %d is negative", job.ChunkIndex))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		submitRejected.WithLabelValues("shutdown").Inc()
		return ErrShuttingDown
	}
	if d.blocked[job.SessionID] {
		submitRejected.WithLabelValues("blocked").Inc()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, job.SessionID)
	}
	q, err := d.queueFor(job.SessionID)
	if err != nil {
		return err
	}
	if d.pending >= d.config.QueueSize {
		submitRejected.WithLabelValues("full").Inc()
		if q.idle() {
			delete(d.queues, job.SessionID)
		}
		return ErrQueueFull
	}
	if err := d.checkOrder(q, job); err != nil {
		submitRejected.WithLabelValues("order").Inc()
		if q.idle() {
			delete(d.queues, job.SessionID)
		}
		return stageErr(ErrValidation, "submit", job.SessionID, -1, err)
	}

	d.pending++
	queueDepth.Set(float64(d.pending))
	if job.IsLast {
		q.last = job.ChunkIndex
	}
	if job.ChunkIndex != q.next {
		q.held[job.ChunkIndex] = heldJob{job: job, since: d.now()}
		d.logger.Debug(logging.WithChunkIndex(logging.WithSessionID(context.Background(), job.SessionID), job.ChunkIndex),
			"chunk held until its predecessors arrive", zap.Int("expected", q.next))
		return nil
	}
	q.release(job)
	if !q.scheduled {
		q.scheduled = true
		d.ready <- job.SessionID
	}
	return nil
}

// queueFor returns the state of sid, creating it from the processor's
// next expected index. It is called with d.mu held and releases it while
// the index is looked up.
func (d *Dispatcher) queueFor(sid string) (*sessionQueue, error) {
	if q := d.queues[sid]; q != nil {
		return q, nil
	}
	d.mu.Unlock()
	next, err := d.proc.NextChunkIndex(context.Background(), sid)
	d.mu.Lock()

	if d.closed {
		submitRejected.WithLabelValues("shutdown").Inc()
		return nil, ErrShuttingDown
	}
	if d.blocked[sid] {
		submitRejected.WithLabelValues("blocked").Inc()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sid)
	}
	if q := d.queues[sid]; q != nil {
		return q, nil
	}
	if err != nil {
		submitRejected.WithLabelValues("error").Inc()
		return nil, err
	}
	q := &sessionQueue{held: map[int]heldJob{}, next: next, last: -1}
	d.queues[sid] = q
	return q, nil
}

func (d *Dispatcher) checkOrder(q *sessionQueue, job ChunkJob) error {
	idx := job.ChunkIndex
	if _, held := q.held[idx]; held || idx < q.next {
		return fmt.Errorf("chunk index %d was already received", idx)
	}
	if q.last >= 0 && idx > q.last {
		return fmt.Errorf("chunk index %d is after the last chunk %d", idx, q.last)
	}
	if job.IsLast {
		for h := range q.held {
			if h > idx {
				return fmt.Errorf("last chunk index %d is before received chunk %d", idx, h)
			}
		}
	}
	if idx > q.next+d.config.MaxAhead {
		return fmt.Errorf("chunk index %d is too far ahead of expected %d", idx, q.next)
	}
	return nil
}

// Active reports whether sessionID has jobs queued, held or running.
func (d *Dispatcher) Active(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queues[sessionID] != nil
}

// Block stops sid from accepting jobs, so its files and rows can be
// removed while no chunk of it is folded. It reports false, and blocks
// nothing, when sid still has jobs queued, held or running. Unblock must
// follow once the removal is done.
func (d *Dispatcher) Block(sid string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queues[sid] != nil {
		return false
	}
	d.blocked[sid] = true
	return true
}

// Unblock lifts a Block.
func (d *Dispatcher) Unblock(sid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.blocked, sid)
}

// Pending returns the number of accepted jobs not yet finished.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Run starts the workers and blocks until ctx is cancelled. Jobs already
// running finish with a context that is not cancelled; jobs still queued
// or held are discarded and their chunk files deleted.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.config.Workers; i++ {
		g.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(d.config.HoldTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				d.expireHeld(now)
			}
		}
	})
	err := g.Wait()
	d.drain()
	return err
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sid := <-d.ready:
			if ctx.Err() != nil {
				return
			}
			d.runOne(context.WithoutCancel(ctx), sid)
		}
	}
}

// runOne processes the head job of sid, then reschedules the session, or
// forgets it once it is finished or has nothing left in flight.
func (d *Dispatcher) runOne(ctx context.Context, sid string) {
	d.mu.Lock()
	q := d.queues[sid]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	d.mu.Unlock()

	status, err := d.proc.ProcessChunk(ctx, job)
	if err != nil {
		d.logger.Warn(logging.WithSessionID(ctx, sid), "chunk job failed",
			zap.Int("chunk_index", job.ChunkIndex), zap.Error(err))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending--
	defer func() { queueDepth.Set(float64(d.pending)) }()

	if status.Terminal() || errors.Is(err, ErrSessionNotFound) {
		if n := d.discard(q); n > 0 {
			d.logger.Warn(logging.WithSessionID(ctx, sid), "discarded chunk jobs of finished session",
				zap.Int("jobs", n), zap.String("status", string(status)))
		}
		delete(d.queues, sid)
		return
	}
	if len(q.jobs) > 0 {
		d.ready <- sid
		return
	}
	q.scheduled = false
	if q.idle() {
		delete(d.queues, sid)
	}
}

// discard drops every queued and held job of q and deletes their files.
// It is called with d.mu held.
func (d *Dispatcher) discard(q *sessionQueue) int {
	n := 0
	for _, job := range q.jobs {
		_ = cleanup.DeleteLocal(job.LocalPath)
		n++
	}
	for _, h := range q.held {
		_ = cleanup.DeleteLocal(h.job.LocalPath)
		n++
	}
	q.jobs = nil
	q.held = map[int]heldJob{}
	d.pending -= n
	return n
}

// expireHeld drops held chunks that waited longer than HoldTimeout for a
// predecessor. The client has to resend the missing chunk and its
// successors.
func (d *Dispatcher) expireHeld(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	dropped := 0
	for sid, q := range d.queues {
		for idx, h := range q.held {
			if now.Sub(h.since) < d.config.HoldTimeout {
				continue
			}
			_ = cleanup.DeleteLocal(h.job.LocalPath)
			delete(q.held, idx)
			if q.last == idx {
				q.last = -1
			}
			d.pending--
			dropped++
			submitRejected.WithLabelValues("expired").Inc()
			d.logger.Warn(logging.WithChunkIndex(logging.WithSessionID(context.Background(), sid), idx),
				"dropped held chunk, predecessor never arrived", zap.Int("expected", q.next))
		}
		if q.idle() {
			delete(d.queues, sid)
		}
	}
	queueDepth.Set(float64(d.pending))
	return dropped
}

func (d *Dispatcher) drain() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	dropped := 0
	for sid, q := range d.queues {
		dropped += d.discard(q)
		delete(d.queues, sid)
	}
	d.pending = 0
	queueDepth.Set(0)
	if dropped > 0 {
		d.logger.Warn(context.Background(), "discarded queued chunk jobs on shutdown", zap.Int("jobs", dropped))
	}
}
