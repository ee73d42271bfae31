package bolt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdleQueue_RunsJobsAndReportsResults(t *testing.T) {
	results := make(chan authResult, 8)
	q := newIdleQueue(2, func(job authJob) authResult {
		return authResult{uid: job.uid, secure: job.secure}
	}, results)

	q.start()
	defer q.stop()

	q.submit(authJob{uid: "a"})
	q.submit(authJob{uid: "b", secure: true})

	seen := map[string]authResult{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			seen[r.uid] = r
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for idle queue result")
		}
	}

	require.Contains(t, seen, "a")
	require.Contains(t, seen, "b")
	assert.False(t, seen["a"].secure)
	assert.True(t, seen["b"].secure)
}

func TestIdleQueue_StopDrainsWorkers(t *testing.T) {
	results := make(chan authResult, 8)
	q := newIdleQueue(1, func(job authJob) authResult {
		return authResult{uid: job.uid}
	}, results)

	q.start()
	q.submit(authJob{uid: "x"})
	<-results

	q.stop()
	// Stopping twice must not panic or block.
	q.stop()
}
