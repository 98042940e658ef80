package engine

import (
	"time"
)

// worker drains tasks from a Scheduler and applies the fixed value-transfer
// transaction model against the MVS. Grounded on the reference executor.rs
// worker_loop / execute_transaction.
type worker struct {
	id           int
	scheduler    *Scheduler
	mvs          *MultiVersionStore
	transactions []Transaction
	initial      map[Address]AccountState
	cfg          Config
}

// run polls the scheduler until it reports Done, executing Execute tasks
// and cooperatively backing off on Wait.
func (w *worker) run() {
	backoff := w.cfg.BackoffBase
	if backoff <= 0 {
		backoff = 10 * time.Microsecond
	}
	backoffCap := w.cfg.BackoffCap
	if backoffCap <= 0 {
		backoffCap = 1 * time.Millisecond
	}
	wait := backoff

	for {
		task := w.scheduler.NextTask()
		switch task.Kind {
		case TaskDone:
			return
		case TaskWait:
			time.Sleep(wait)
			if wait *= 2; wait > backoffCap {
				wait = backoffCap
			}
			continue
		case TaskExecute:
			wait = backoff
			w.execute(task.Idx, task.Inc)
		}
	}
}

// lookup resolves addr through the MVS for reader txn idx, falling back to
// the caller's initial snapshot on a Storage result and registering the
// appropriate read record either way.
func (w *worker) lookup(addr Address, idx TxnIndex) AccountState {
	result := w.mvs.Read(addr, idx)
	if result.Kind == ReadVersioned {
		w.mvs.RecordRead(addr, idx, result.Version)
		return result.State
	}

	w.mvs.RecordStorageRead(addr, idx)
	if state, ok := w.initial[addr]; ok {
		return state
	}
	return ZeroAccountState
}

// execute runs the seven-step Execute procedure of §4.3 for incarnation inc
// of transaction idx, then reports the outcome to the scheduler.
func (w *worker) execute(idx TxnIndex, inc Incarnation) {
	tx := w.transactions[idx]

	// Step 1: signature verification, if enabled. A permanent failure —
	// recorded as such here and counted failed when the transaction
	// commits (see Scheduler.tryCommit).
	if w.cfg.VerifySignatures && !w.cfg.Verify(tx) {
		w.scheduler.FinishExecution(idx, inc, nil, false, true)
		return
	}

	// Steps 2-3: read the sender and check for a dependency hazard. A
	// nonce mismatch or insufficient balance does not mean permanent
	// failure yet — it may resolve once a lower-indexed producer's write
	// lands and aborts this incarnation. Final classification happens at
	// commit time (see Scheduler.tryCommit).
	sender := w.lookup(tx.From, idx)
	if sender.Nonce != tx.Nonce {
		w.scheduler.FinishExecution(idx, inc, nil, false, false)
		return
	}
	if sender.Balance.Cmp(&tx.Value) < 0 {
		w.scheduler.FinishExecution(idx, inc, nil, false, false)
		return
	}

	// Step 5: compute new sender/receiver states.
	var newSender AccountState
	newSender.Nonce = sender.Nonce + 1
	newSender.Balance.Sub(&sender.Balance, &tx.Value)

	if tx.From == tx.To {
		// Self-transfer: the two writes would target the same address;
		// net effect is just the nonce bump, balance unchanged.
		combined := AccountState{Nonce: sender.Nonce + 1, Balance: sender.Balance}
		invalidated := w.mvs.Write(tx.From, idx, inc, combined)
		w.scheduler.FinishExecution(idx, inc, invalidated, true, false)
		return
	}

	// Step 4: read the receiver.
	receiver := w.lookup(tx.To, idx)

	var newReceiver AccountState
	newReceiver.Nonce = receiver.Nonce
	newReceiver.Balance.Add(&receiver.Balance, &tx.Value)

	// Step 6: publish both writes and union the invalidated readers.
	invalidatedFrom := w.mvs.Write(tx.From, idx, inc, newSender)
	invalidatedTo := w.mvs.Write(tx.To, idx, inc, newReceiver)
	invalidated := mergeSortedUnique(invalidatedFrom, invalidatedTo)

	// Step 7: report success.
	w.scheduler.FinishExecution(idx, inc, invalidated, true, false)
}

// mergeSortedUnique merges two already-sorted, already-deduplicated slices
// into one sorted, deduplicated slice.
func mergeSortedUnique(a, b []TxnIndex) []TxnIndex {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}

	out := make([]TxnIndex, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
