package bolt

import "sync"

// idleQueue is a bounded worker pool that runs authorization writes off the
// event loop goroutine. The reference daemon dispatches a single
// authorization via g_idle_add on the main loop; here the same "don't block
// the loop on a privileged write" intent is served by a small fixed pool of
// workers feeding results back through a channel the loop selects on.
type idleQueue struct {
	jobs    chan authJob
	results chan authResult
	work    func(authJob) authResult

	workers int
	wg      sync.WaitGroup
	once    sync.Once
}

func newIdleQueue(workers int, work func(authJob) authResult, results chan authResult) *idleQueue {
	return &idleQueue{
		jobs:    make(chan authJob, workers*2),
		results: results,
		work:    work,
		workers: workers,
	}
}

func (q *idleQueue) start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.loop()
	}
}

func (q *idleQueue) loop() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.results <- q.work(job)
	}
}

// submit enqueues job. It never blocks the caller on a full queue beyond a
// short buffer; a caller holding the event loop should not be allowed to
// stall on this, so submit is only ever called from the loop goroutine
// itself, before the loop moves on to select again.
func (q *idleQueue) submit(job authJob) {
	q.jobs <- job
}

// stop closes the job channel and waits for in-flight workers to drain. Safe
// to call multiple times.
func (q *idleQueue) stop() {
	q.once.Do(func() {
		close(q.jobs)
	})
	q.wg.Wait()
}
