package util

import (
	"context"
	"sync"
	"time"
)

// ContextJob keeps a derived context alive for up to maxDelay after the
// parent is canceled, so shutdown work (engine termination, result delivery)
// gets a bounded grace window instead of dying with the parent.
type ContextJob struct {
	jobDone chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

func (cj *ContextJob) Done() {
	cj.once.Do(func() {
		close(cj.jobDone)
	})
}

func (cj *ContextJob) GetContext() context.Context {
	return cj.ctx
}

func DelayedCancelContextWithJob(
	parent context.Context,
	maxDelay time.Duration,
) *ContextJob {
	jobDone := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		select {
		case <-jobDone:
			// Job finished while the parent was still alive; nothing to
			// keep open. Parking on the parent here would leak one
			// goroutine per job on a long-lived parent.
			return
		case <-parent.Done():
		}
		// Parent gone: wait for job finish, or give up after max delay.
		select {
		case <-jobDone:
		case <-time.After(maxDelay):
		}
	}()

	return &ContextJob{
		ctx:     ctx,
		cancel:  cancel,
		jobDone: jobDone,
	}
}
