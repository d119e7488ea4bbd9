package worker

import (
	"context"
	"fmt"
)

// Job is one unit of work queued on behalf of a user.
type Job struct {
	UserID int64
	ctx    context.Context
	run    func(context.Context) error
	done   chan error
}

func (job Job) execute() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.run(job.ctx)
}

type Worker struct {
	dispatcher *Dispatcher
	workerPool chan chan Job
	jobChannel chan Job
	quit       chan struct{}
}

func NewWorker(pool chan chan Job, dispatcher *Dispatcher) *Worker {
	return &Worker{
		dispatcher: dispatcher,
		workerPool: pool,
		jobChannel: make(chan Job),
		quit:       make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			// register as idle; the pool holds one slot per worker so this never blocks
			w.workerPool <- w.jobChannel
			select {
			case job := <-w.jobChannel:
				job.done <- job.execute()
				w.dispatcher.release()
			case <-w.quit:
				return
			}
		}
	}()
}

func (w *Worker) Stop() {
	close(w.quit)
}
