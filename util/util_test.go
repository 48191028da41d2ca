package util

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFreeTcpPort(t *testing.T) {
	port, err := GetFreeTcpPort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)
	assert.LessOrEqual(t, port, 65535)
}

func TestDelayedCancelContextWithJob(t *testing.T) {
	parent, parentCancel := context.WithCancel(context.Background())
	job := DelayedCancelContextWithJob(parent, time.Second)

	parentCancel()

	// Grace context survives the parent until the job reports done.
	select {
	case <-job.GetContext().Done():
		t.Fatal("grace context canceled before job was done")
	case <-time.After(20 * time.Millisecond):
	}

	job.Done()
	select {
	case <-job.GetContext().Done():
	case <-time.After(time.Second):
		t.Fatal("grace context not canceled after job done")
	}
}

func TestDelayedCancelReleasesWhenJobFinishesFirst(t *testing.T) {
	parent, parentCancel := context.WithCancel(context.Background())
	defer parentCancel()

	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		job := DelayedCancelContextWithJob(parent, time.Minute)
		job.Done()

		// Cancellation only ever comes from the helper goroutine, so a
		// canceled grace context proves the goroutine exited without the
		// parent being canceled.
		select {
		case <-job.GetContext().Done():
		case <-time.After(time.Second):
			t.Fatal("grace context still alive after job done with live parent")
		}
	}

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, time.Second, 10*time.Millisecond)
}
