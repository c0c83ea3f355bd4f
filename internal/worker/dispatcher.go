package worker

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"datachat/internal/logging"
)

// Config sizes a Dispatcher.
type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs jobs on a bounded worker pool, taking turns between keys
// so one busy session cannot starve the others.
type Dispatcher struct {
	pool   *jobChannelPool
	jobs   chan Job
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger

	// submitting Do calls hold gate for reading; Close takes it for writing
	// so no send on jobs can slip in after the final drain.
	gate   sync.RWMutex
	closed bool

	mu        sync.Mutex
	queues    map[string]*keyQueue // pending jobs per key
	ready     *list.List           // keys with pending jobs, least recently served first
	positions map[string]*list.Element
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher starts the dispatch loop and MinWorkers warm workers.
func NewDispatcher(cfg Config, opts ...Option) *Dispatcher {
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	d := &Dispatcher{
		jobs:      make(chan Job, cfg.QueueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logging.NewNop(),
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, d.logger)
	d.pool.warm()
	go d.run()
	return d
}

// Do runs fn on a worker and returns its error. It waits while the job is
// queued; once a worker picks the job up, fn sees ctx and Do waits for it to
// return, even across Close.
func (d *Dispatcher) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	job := newJob(ctx, key, fn)
	if err := d.submit(ctx, job); err != nil {
		return err
	}
	// every handed-off job is finished exactly once: by a worker, by Cancel,
	// or by Close
	return <-job.done
}

func (d *Dispatcher) submit(ctx context.Context, job Job) error {
	d.gate.RLock()
	defer d.gate.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.quit:
		return ErrClosed
	}
}

// Cancel drops the queued jobs of key; each fails with ErrCanceled.
func (d *Dispatcher) Cancel(key string) {
	d.mu.Lock()
	q := d.queues[key]
	delete(d.queues, key)
	if elem, ok := d.positions[key]; ok {
		d.ready.Remove(elem)
		delete(d.positions, key)
	}
	d.mu.Unlock()
	if q == nil {
		return
	}
	for _, job := range q.jobs {
		job.finish(ErrCanceled)
	}
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Running int
	Idle    int
	Queued  int
}

func (d *Dispatcher) Stats() Stats {
	running, idle := d.pool.size()
	d.mu.Lock()
	queued := 0
	for _, q := range d.queues {
		queued += len(q.jobs)
	}
	d.mu.Unlock()
	return Stats{Running: running, Idle: idle, Queued: queued + len(d.jobs)}
}

// Close stops accepting jobs, fails the queued ones with ErrClosed and waits
// for running jobs to finish.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.quit)
		// quit released any blocked submitter; after this no send can start
		d.gate.Lock()
		d.closed = true
		d.gate.Unlock()
		// closing the pool wakes a dispatch loop blocked in acquire
		d.pool.close()
		<-d.done

		d.mu.Lock()
		pending := d.queues
		d.queues = make(map[string]*keyQueue)
		d.ready.Init()
		d.positions = make(map[string]*list.Element)
		d.mu.Unlock()
		for _, q := range pending {
			for _, job := range q.jobs {
				job.finish(ErrClosed)
			}
		}
		for {
			select {
			case job := <-d.jobs:
				job.finish(ErrClosed)
			default:
				return
			}
		}
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		if !d.dispatchOne() {
			select {
			case job := <-d.jobs:
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case job := <-d.jobs:
			d.enqueueJob(job)
		case <-d.quit:
			return
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// next pops the next job of the front key and moves the key to the back
// when it has more.
func (d *Dispatcher) next() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		delete(d.queues, key)
		d.ready.Remove(elem)
		delete(d.positions, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	return job, true
}

// dispatchOne hands the next job to a worker, waiting for one to free up.
func (d *Dispatcher) dispatchOne() bool {
	job, ok := d.next()
	if !ok {
		return false
	}
	ch, ok := d.pool.acquire()
	if !ok {
		job.finish(ErrClosed)
		return false
	}
	select {
	case ch <- job:
		d.logger.Debug("job dispatched", "key", job.Key)
	case <-d.quit:
		job.finish(ErrClosed)
		d.pool.release(ch)
	}
	return true
}
