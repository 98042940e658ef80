package engine

import (
	"sync"
	"sync/atomic"

	"github.com/mnohosten/blockstm/pkg/concurrent"
)

// statusKind is the per-TxnIndex state machine of §4.2.
type statusKind int

const (
	statusPending statusKind = iota
	statusExecuting
	statusExecuted
	statusCommitted
)

// txnStatus is one transaction's status cell: current state, the
// incarnation it is currently at, and the outcome of its most recent
// finished execution (used for commit-time classification, see
// tryCommit).
type txnStatus struct {
	mu            sync.Mutex
	state         statusKind
	incarnation   Incarnation
	hadWrites     bool
	permanentFail bool
}

// TaskKind is the union of values NextTask can return.
type TaskKind int

const (
	// TaskWait means the ready queue is momentarily empty but the batch
	// has not finished — back off and poll again.
	TaskWait TaskKind = iota
	// TaskExecute carries a (TxnIndex, Incarnation) the caller must run.
	TaskExecute
	// TaskDone means every transaction has committed; the worker should
	// exit.
	TaskDone
)

// Task is the scheduler's dispatch unit.
type Task struct {
	Kind TaskKind
	Idx  TxnIndex
	Inc  Incarnation
}

type readyItem struct {
	idx TxnIndex
	inc Incarnation
}

// readyQueue is a simple mutex-guarded FIFO queue of ready items, the Go
// analogue of the reference scheduler's Mutex<VecDeque<...>>.
type readyQueue struct {
	mu    sync.Mutex
	items []readyItem
	head  int
}

func (q *readyQueue) push(it readyItem) {
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
}

func (q *readyQueue) pop() (readyItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return readyItem{}, false
	}
	it := q.items[q.head]
	q.items[q.head] = readyItem{}
	q.head++

	// Reclaim the drained prefix once it dominates the backing array, so
	// a long-running batch doesn't grow the slice unbounded.
	if q.head > 1024 && q.head*2 > len(q.items) {
		q.items = append([]readyItem(nil), q.items[q.head:]...)
		q.head = 0
	}
	return it, true
}

// SchedulerStats is a point-in-time snapshot of the scheduler's state,
// exported for diagnostics (see pkg/metrics).
type SchedulerStats struct {
	Pending           int
	Executing         int
	Executed          int
	Committed         int
	TotalIncarnations int64
	Successful        int64
	Failed            int64
	TotalExecutions   int64
}

// Scheduler dispenses execute tasks, aborts invalidated work with
// monotonically increasing incarnation numbers, and commits transactions
// in index order. Grounded on the reference scheduler.rs.
type Scheduler struct {
	n        int
	statuses []*txnStatus
	ready    readyQueue
	mvs      *MultiVersionStore

	committedIdx int64 // atomic
	done         int32 // atomic bool

	commitMu sync.Mutex

	totalIncarnations *concurrent.Counter
	totalExecutions   *concurrent.Counter
	successful        *concurrent.Counter
	failed            *concurrent.Counter

	onCommitProgress func(committed, total int)
	onCommitEvent    func(CommitEvent)
}

// SetCommitEventHook installs a per-commit diagnostic callback, fired
// synchronously from the committing goroutine for every transaction (not
// just every 1000th, unlike onCommitProgress). Must be called before the
// batch starts executing; nil disables it. See pkg/exectrace.
func (s *Scheduler) SetCommitEventHook(fn func(CommitEvent)) {
	s.onCommitEvent = fn
}

// NewScheduler creates a scheduler for n transactions, all initially
// Pending at incarnation 0 and enqueued in canonical order.
func NewScheduler(n int, mvs *MultiVersionStore, onCommitProgress func(committed, total int)) *Scheduler {
	s := &Scheduler{
		n:                 n,
		statuses:          make([]*txnStatus, n),
		mvs:               mvs,
		totalIncarnations: concurrent.NewCounter(),
		totalExecutions:   concurrent.NewCounter(),
		successful:        concurrent.NewCounter(),
		failed:            concurrent.NewCounter(),
		onCommitProgress:  onCommitProgress,
	}
	for i := 0; i < n; i++ {
		s.statuses[i] = &txnStatus{state: statusPending}
		s.ready.push(readyItem{idx: TxnIndex(i), inc: 0})
	}
	return s
}

// NextTask returns the next unit of work for a polling worker.
func (s *Scheduler) NextTask() Task {
	if atomic.LoadInt32(&s.done) != 0 {
		return Task{Kind: TaskDone}
	}

	if it, ok := s.ready.pop(); ok {
		st := s.statuses[it.idx]
		st.mu.Lock()
		if st.state != statusPending {
			invariantf("txn %d dispatched from ready queue while in state %d", it.idx, st.state)
		}
		st.state = statusExecuting
		st.incarnation = it.inc
		st.mu.Unlock()

		s.totalExecutions.Inc()
		s.totalIncarnations.Inc()
		return Task{Kind: TaskExecute, Idx: it.idx, Inc: it.inc}
	}

	if atomic.LoadInt64(&s.committedIdx) == int64(s.n) {
		atomic.StoreInt32(&s.done, 1)
		return Task{Kind: TaskDone}
	}
	return Task{Kind: TaskWait}
}

// FinishExecution reports that incarnation inc of idx finished, with the
// given invalidated readers (to be aborted) and the outcome that commit
// time will use to classify the transaction as successful or failed.
func (s *Scheduler) FinishExecution(idx TxnIndex, inc Incarnation, invalidated []TxnIndex, hadWrites, permanentFail bool) {
	st := s.statuses[idx]

	st.mu.Lock()
	if st.state != statusExecuting || st.incarnation != inc {
		st.mu.Unlock()
		invariantf("finish_execution(%d, %d) but status is state=%d incarnation=%d", idx, inc, st.state, st.incarnation)
	}
	st.state = statusExecuted
	st.hadWrites = hadWrites
	st.permanentFail = permanentFail
	st.mu.Unlock()

	for _, j := range invalidated {
		s.Abort(j)
	}

	s.tryCommit()
}

// Abort transitions j back to Pending at the next incarnation, clears its
// stale writes from the MVS, and re-enqueues it. A no-op if j is Pending
// or already Committed — a committed transaction is never aborted.
func (s *Scheduler) Abort(j TxnIndex) {
	st := s.statuses[j]

	st.mu.Lock()
	switch st.state {
	case statusExecuting, statusExecuted:
		next := st.incarnation + 1
		st.state = statusPending
		st.incarnation = next
		st.mu.Unlock()

		s.mvs.ClearTransaction(j)
		s.ready.push(readyItem{idx: j, inc: next})
	default:
		st.mu.Unlock()
	}
}

// tryCommit advances committedIdx past every contiguous Executed entry
// starting at the current committedIdx, under a try-lock: contenders skip
// rather than block, since another in-flight finish_execution will make
// the same attempt.
func (s *Scheduler) tryCommit() {
	if !s.commitMu.TryLock() {
		return
	}
	defer s.commitMu.Unlock()

	for {
		idx := atomic.LoadInt64(&s.committedIdx)
		if idx >= int64(s.n) {
			break
		}

		st := s.statuses[idx]
		st.mu.Lock()
		if st.state != statusExecuted {
			st.mu.Unlock()
			break
		}

		st.state = statusCommitted
		hadWrites, permanentFail, inc := st.hadWrites, st.permanentFail, st.incarnation
		st.mu.Unlock()

		ok := !(permanentFail || !hadWrites)
		if ok {
			s.successful.Inc()
		} else {
			s.failed.Inc()
		}

		committed := atomic.AddInt64(&s.committedIdx, 1)
		if s.onCommitEvent != nil {
			s.onCommitEvent(CommitEvent{Idx: TxnIndex(idx), Incarnation: inc, Successful: ok, Committed: int(committed), Total: s.n})
		}
		if s.onCommitProgress != nil && committed%1000 == 0 {
			s.onCommitProgress(int(committed), s.n)
		}
	}

	if atomic.LoadInt64(&s.committedIdx) == int64(s.n) {
		atomic.StoreInt32(&s.done, 1)
	}
}

// Stats returns a snapshot of the scheduler's per-status counts.
func (s *Scheduler) Stats() SchedulerStats {
	stats := SchedulerStats{
		TotalIncarnations: int64(s.totalIncarnations.Load()),
		TotalExecutions:   int64(s.totalExecutions.Load()),
		Successful:        int64(s.successful.Load()),
		Failed:            int64(s.failed.Load()),
	}
	for _, st := range s.statuses {
		st.mu.Lock()
		switch st.state {
		case statusPending:
			stats.Pending++
		case statusExecuting:
			stats.Executing++
		case statusExecuted:
			stats.Executed++
		case statusCommitted:
			stats.Committed++
		}
		st.mu.Unlock()
	}
	return stats
}

// IsDone reports whether the batch has fully committed.
func (s *Scheduler) IsDone() bool {
	return atomic.LoadInt32(&s.done) != 0
}
