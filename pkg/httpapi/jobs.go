package httpapi

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mnohosten/blockstm/pkg/engine"
)

// jobStatus is a batch job's lifecycle state.
type jobStatus string

const (
	jobPending jobStatus = "pending"
	jobRunning jobStatus = "running"
	jobDone    jobStatus = "done"
	jobFailed  jobStatus = "failed"
)

// batchJob tracks one submitted ExecuteBatch call: its live progress (for
// polling clients) and, once finished, its result or error.
type batchJob struct {
	id string

	mu        sync.RWMutex
	status    jobStatus
	committed int
	total     int
	result    engine.BatchResult
	err       error

	streams *commitStreamManager
}

func (j *batchJob) snapshot() (jobStatus, int, int) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status, j.committed, j.total
}

func (j *batchJob) setRunning(total int) {
	j.mu.Lock()
	j.status = jobRunning
	j.total = total
	j.mu.Unlock()
}

func (j *batchJob) setProgress(committed, total int) {
	j.mu.Lock()
	j.committed = committed
	j.total = total
	j.mu.Unlock()
}

func (j *batchJob) finish(result engine.BatchResult, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err != nil {
		j.status = jobFailed
		j.err = err
		return
	}
	j.status = jobDone
	j.result = result
	j.committed = j.total
}

// jobManager holds every submitted batch job, keyed by a sequentially
// assigned ID. Jobs are never evicted — a long-running server should be
// restarted periodically, the same operational assumption the teacher's
// in-memory cursor registry (pkg/server/handlers/cursor.go) makes.
type jobManager struct {
	mu   sync.RWMutex
	jobs map[string]*batchJob
	next int64 // atomic
}

func newJobManager() *jobManager {
	return &jobManager{jobs: make(map[string]*batchJob)}
}

// submit starts executing txs/initial in a new goroutine under cfg and
// returns the job (whose id field holds the assigned ID) immediately.
func (jm *jobManager) submit(txs []engine.Transaction, initial map[engine.Address]engine.AccountState, cfg engine.Config) (*batchJob, error) {
	if len(txs) == 0 {
		return nil, engine.ErrEmptyBatch
	}

	id := fmt.Sprintf("batch-%d", atomic.AddInt64(&jm.next, 1))
	job := &batchJob{id: id, status: jobPending, total: len(txs), streams: newCommitStreamManager()}

	jm.mu.Lock()
	jm.jobs[id] = job
	jm.mu.Unlock()

	cfg.OnCommitProgress = func(committed, total int) {
		job.setProgress(committed, total)
	}
	cfg.OnCommitEvent = func(ev engine.CommitEvent) {
		job.streams.broadcast(ev)
	}

	job.setRunning(len(txs))
	go func() {
		result, err := engine.ExecuteBatch(txs, initial, cfg)
		job.finish(result, err)
		job.streams.closeAll()
	}()

	return job, nil
}

func (jm *jobManager) get(id string) (*batchJob, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	job, ok := jm.jobs[id]
	return job, ok
}
