package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
)

var (
	// ErrBusy is returned when every worker is busy and the queue is full.
	ErrBusy   = errors.New("worker pool busy")
	ErrClosed = errors.New("worker pool closed")
)

type userQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs jobs on a fixed set of workers. Waiting jobs are served round-robin per
// user so one caller cannot starve the others, and the total number of admitted jobs
// (running plus waiting) is capped.
type Dispatcher struct {
	workerPool chan chan Job
	jobQueue   chan Job
	workers    []*Worker
	limit      int

	mu        sync.Mutex
	pending   int
	closed    bool
	queues    map[int64]*userQueue // job queue for each user
	ready     *list.List           // user IDs with waiting jobs, in service order
	positions map[int64]*list.Element

	quit chan struct{}
}

// NewDispatcher starts workers goroutines and admits at most workers+queueSize jobs at once.
func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	limit := workers + queueSize
	d := &Dispatcher{
		workerPool: make(chan chan Job, workers),
		jobQueue:   make(chan Job, limit),
		limit:      limit,
		queues:     make(map[int64]*userQueue),
		ready:      list.New(),
		positions:  make(map[int64]*list.Element),
		quit:       make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		w := NewWorker(d.workerPool, d)
		d.workers = append(d.workers, w)
		w.Start()
	}
	go d.run()
	return d
}

// Do queues fn for userID and waits for its result. It fails fast with ErrBusy when the
// dispatcher is saturated. If ctx ends first, Do returns ctx.Err() and fn keeps running.
func (d *Dispatcher) Do(ctx context.Context, userID int64, fn func(context.Context) error) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.pending >= d.limit {
		d.mu.Unlock()
		return ErrBusy
	}
	d.pending++
	d.mu.Unlock()

	job := Job{UserID: userID, ctx: ctx, run: fn, done: make(chan error, 1)}
	// capacity equals limit, so an admitted job always fits
	d.jobQueue <- job
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports admitted jobs that have not finished.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Close stops the workers. Jobs still waiting for a worker fail with ErrClosed.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.quit)
	for userID, q := range d.queues {
		for _, job := range q.jobs {
			job.done <- ErrClosed
		}
		delete(d.queues, userID)
	}
	d.ready.Init()
	d.positions = make(map[int64]*list.Element)
	d.mu.Unlock()

	for {
		select {
		case job := <-d.jobQueue:
			job.done <- ErrClosed
		default:
			for _, w := range d.workers {
				w.Stop()
			}
			return
		}
	}
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	if d.pending > 0 {
		d.pending--
	}
	d.mu.Unlock()
}

func (d *Dispatcher) run() {
	for {
		d.drainQueue()
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
		}
		select {
		case <-d.quit:
			return
		default:
		}
	}
}

// drainQueue moves every job already submitted into the per-user queues.
func (d *Dispatcher) drainQueue() {
	for {
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		default:
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		job.done <- ErrClosed
		return
	}

	q := d.queues[job.UserID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.UserID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.UserID] = d.ready.PushBack(job.UserID)
}

// dispatchOne hands the next job of the front user to an idle worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	userID := elem.Value.(int64)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, userID)
		delete(d.queues, userID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	select {
	case workerChan := <-d.workerPool:
		workerChan <- job
	case <-d.quit:
		job.done <- ErrClosed
	}
	return true
}
