package worker

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for jobs submitted to, or still queued in, a
	// closed dispatcher.
	ErrClosed = errors.New("worker: dispatcher closed")
	// ErrCanceled is returned for queued jobs dropped by Cancel.
	ErrCanceled = errors.New("worker: job canceled")
)

// Job is one unit of work owned by a key, usually a session id.
type Job struct {
	Key  string
	ctx  context.Context
	run  func(context.Context) error
	done chan error
	stop bool
}

func newJob(ctx context.Context, key string, fn func(context.Context) error) Job {
	return Job{Key: key, ctx: ctx, run: fn, done: make(chan error, 1)}
}

func (j Job) finish(err error) {
	if j.done != nil {
		j.done <- err
	}
}

func (j Job) execute() {
	if err := j.ctx.Err(); err != nil {
		j.finish(err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			j.finish(fmt.Errorf("worker: job for %s panicked: %v", j.Key, r))
		}
	}()
	j.finish(j.run(j.ctx))
}

type worker struct {
	pool *jobChannelPool
	jobs chan Job
}

func newWorker(pool *jobChannelPool) *worker {
	return &worker{pool: pool, jobs: make(chan Job)}
}

func (w *worker) start() {
	go func() {
		defer w.pool.wg.Done()
		for {
			select {
			case job := <-w.jobs:
				if job.stop {
					w.pool.retire(w.jobs)
					return
				}
				job.execute()
				w.pool.release(w.jobs)
			case <-w.pool.quit:
				w.pool.retire(w.jobs)
				return
			}
		}
	}()
}
