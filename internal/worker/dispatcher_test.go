package worker

import (
	"container/list"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"datachat/internal/logging"
)

func newTestDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	d := NewDispatcher(cfg)
	t.Cleanup(d.Close)
	return d
}

// queueOnly builds a dispatcher without a pool or loop so queue order can be
// inspected directly.
func queueOnly() *Dispatcher {
	return &Dispatcher{
		logger:    logging.NewNop(),
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
}

func TestDoReturnsJobError(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 1})
	boom := errors.New("boom")

	if err := d.Do(context.Background(), "s1", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Do(context.Background(), "s1", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected job error, got %v", err)
	}
}

func TestDoRecoversPanic(t *testing.T) {
	d := newTestDispatcher(t, Config{MaxWorkers: 1})
	err := d.Do(context.Background(), "s1", func(context.Context) error { panic("bad") })
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic error, got %v", err)
	}
	// the worker survives
	if err := d.Do(context.Background(), "s1", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("worker unusable after panic: %v", err)
	}
}

func TestDoCanceledContext(t *testing.T) {
	d := newTestDispatcher(t, Config{MaxWorkers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := d.Do(ctx, "s1", func(context.Context) error { ran = true; return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ran {
		t.Fatalf("canceled job must not run")
	}
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 0, MaxWorkers: 2, QueueSize: 8})
	var (
		current int32
		peak    int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		key := string(rune('a' + i))
		go func() {
			defer wg.Done()
			err := d.Do(context.Background(), key, func(context.Context) error {
				n := atomic.AddInt32(&current, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			})
			if err != nil {
				t.Errorf("do: %v", err)
			}
		}()
	}
	wg.Wait()
	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent jobs, saw %d", peak)
	}
	if s := d.Stats(); s.Running > 2 || s.Queued != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestNextAlternatesKeys(t *testing.T) {
	d := queueOnly()
	for _, key := range []string{"busy", "busy", "busy", "quiet"} {
		d.enqueueJob(newJob(context.Background(), key, nil))
	}
	var order []string
	for {
		job, ok := d.next()
		if !ok {
			break
		}
		order = append(order, job.Key)
	}
	if got := strings.Join(order, ","); got != "busy,quiet,busy,busy" {
		t.Fatalf("unexpected dispatch order %s", got)
	}
	if len(d.queues) != 0 || d.ready.Len() != 0 {
		t.Fatalf("queues not drained")
	}
}

func TestCancelFailsQueuedJobs(t *testing.T) {
	d := queueOnly()
	a1 := newJob(context.Background(), "a", nil)
	a2 := newJob(context.Background(), "a", nil)
	b1 := newJob(context.Background(), "b", nil)
	d.enqueueJob(a1)
	d.enqueueJob(b1)
	d.enqueueJob(a2)

	d.Cancel("a")
	for _, j := range []Job{a1, a2} {
		if err := <-j.done; !errors.Is(err, ErrCanceled) {
			t.Fatalf("expected ErrCanceled, got %v", err)
		}
	}
	job, ok := d.next()
	if !ok || job.Key != "b" {
		t.Fatalf("expected b to remain queued, got %+v", job)
	}
	d.Cancel("missing")
}

func TestCloseWaitsForRunningJob(t *testing.T) {
	d := NewDispatcher(Config{MaxWorkers: 1})
	started := make(chan struct{})
	var finished atomic.Bool
	go func() {
		_ = d.Do(context.Background(), "s1", func(context.Context) error {
			close(started)
			time.Sleep(20 * time.Millisecond)
			finished.Store(true)
			return nil
		})
	}()
	<-started
	d.Close()
	if !finished.Load() {
		t.Fatalf("close returned before the running job finished")
	}
	if err := d.Do(context.Background(), "s1", func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	d.Close()
}

func TestPoolRetiresIdleWorkersAboveMin(t *testing.T) {
	p := newJobChannelPool(1, 3, time.Hour, logging.NewNop())
	defer p.close()

	var chans []chan Job
	for i := 0; i < 3; i++ {
		ch, ok := p.acquire()
		if !ok {
			t.Fatalf("acquire failed")
		}
		chans = append(chans, ch)
	}
	for _, ch := range chans {
		p.release(ch)
	}
	if running, idle := p.size(); running != 3 || idle != 3 {
		t.Fatalf("expected 3 idle workers, got %d/%d", running, idle)
	}

	p.mu.Lock()
	p.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	p.mu.Unlock()
	p.shutdownExpired()

	deadline := time.Now().Add(time.Second)
	for {
		running, idle := p.size()
		if running == 1 && idle == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected one worker left, got running=%d idle=%d", running, idle)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDoWaitsForRunningJobAcrossClose(t *testing.T) {
	d := NewDispatcher(Config{MaxWorkers: 1, QueueSize: 4})
	started := make(chan struct{})
	var finished atomic.Bool
	result := make(chan error, 1)
	go func() {
		result <- d.Do(context.Background(), "s1", func(context.Context) error {
			close(started)
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
			return nil
		})
	}()
	<-started
	closed := make(chan struct{})
	go func() { d.Close(); close(closed) }()

	err := <-result
	<-closed
	if !finished.Load() {
		t.Fatalf("Do returned before the running job finished")
	}
	if err != nil {
		t.Fatalf("running job must report its own result, got %v", err)
	}
}

func TestCloseFailsQueuedJobs(t *testing.T) {
	d := NewDispatcher(Config{MaxWorkers: 1, QueueSize: 4})
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = d.Do(context.Background(), "busy", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	queued := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			queued <- d.Do(context.Background(), "waiting", func(context.Context) error { return nil })
		}()
	}
	deadline := time.Now().Add(time.Second)
	for d.Stats().Queued < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	closed := make(chan struct{})
	go func() { d.Close(); close(closed) }()
	close(release)
	<-closed
	for i := 0; i < 2; i++ {
		select {
		case err := <-queued:
			if err != nil && !errors.Is(err, ErrClosed) {
				t.Fatalf("queued job: unexpected error %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("queued Do never returned after Close")
		}
	}
}
