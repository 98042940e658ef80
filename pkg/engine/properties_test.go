package engine

import (
	"math/rand"
	"testing"
)

// serialExecute applies txs strictly in order against a copy of initial,
// the reference oracle that ExecuteBatch's parallel result must match.
func serialExecute(txs []Transaction, initial map[Address]AccountState) (successful, failed int, final map[Address]AccountState) {
	state := make(map[Address]AccountState, len(initial))
	for k, v := range initial {
		state[k] = v
	}
	get := func(a Address) AccountState {
		if s, ok := state[a]; ok {
			return s
		}
		return ZeroAccountState
	}

	for _, tx := range txs {
		sender := get(tx.From)
		if sender.Nonce != tx.Nonce || sender.Balance.Cmp(&tx.Value) < 0 {
			failed++
			continue
		}
		receiver := get(tx.To)

		var newSender, newReceiver AccountState
		newSender.Nonce = sender.Nonce + 1
		newSender.Balance.Sub(&sender.Balance, &tx.Value)

		if tx.From == tx.To {
			state[tx.From] = AccountState{Nonce: sender.Nonce + 1, Balance: sender.Balance}
		} else {
			newReceiver.Nonce = receiver.Nonce
			newReceiver.Balance.Add(&receiver.Balance, &tx.Value)
			state[tx.From] = newSender
			state[tx.To] = newReceiver
		}
		successful++
	}
	return successful, failed, state
}

type distribution int

const (
	distUniform distribution = iota
	distZipfian
	distFullyConflicting
)

// randomBatch generates a batch of numAccounts funded senders and
// numTxns value transfers, each transaction's sender address chosen per
// dist, with correct nonces so the generated batch is "mostly valid" under
// serial execution (every account's funds and nonces stay internally
// consistent when applied in order).
func randomBatch(rng *rand.Rand, numAccounts, numTxns int, dist distribution) ([]Transaction, map[Address]AccountState) {
	initial := make(map[Address]AccountState, numAccounts)
	addrs := make([]Address, numAccounts)
	for i := 0; i < numAccounts; i++ {
		addrs[i] = addrN(byte(i + 1))
		initial[addrs[i]] = balanceState(0, 1_000_000)
	}

	nextNonce := make([]uint64, numAccounts)

	var zipf *rand.Zipf
	if dist == distZipfian {
		zipf = rand.NewZipf(rng, 1.5, 1, uint64(numAccounts-1))
	}

	pick := func() int {
		switch dist {
		case distFullyConflicting:
			return 0
		case distZipfian:
			return int(zipf.Uint64())
		default:
			return rng.Intn(numAccounts)
		}
	}

	txs := make([]Transaction, numTxns)
	for i := 0; i < numTxns; i++ {
		from := pick()
		to := rng.Intn(numAccounts)
		value := uint64(1 + rng.Intn(5))
		txs[i] = Transaction{
			From:  addrs[from],
			To:    addrs[to],
			Value: u256(value),
			Nonce: nextNonce[from],
		}
		nextNonce[from]++
	}
	return txs, initial
}

func TestProperty_SerialEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	dists := []distribution{distUniform, distZipfian, distFullyConflicting}

	for _, dist := range dists {
		txs, initial := randomBatch(rng, 20, 300, dist)

		wantSuccessful, wantFailed, wantFinal := serialExecute(txs, initial)

		for _, threads := range []int{1, 2, 8} {
			result := runBatch(t, txs, initial, threads)
			if result.Successful != wantSuccessful || result.Failed != wantFailed {
				t.Fatalf("dist=%d threads=%d: expected (successful=%d failed=%d), got (successful=%d failed=%d)",
					dist, threads, wantSuccessful, wantFailed, result.Successful, result.Failed)
			}
			gotFinal := make(map[Address]AccountState)
			for _, s := range result.FinalStates {
				gotFinal[s.Address] = s.State
			}
			for addr, want := range wantFinal {
				got, ok := gotFinal[addr]
				if !ok {
					if want.Nonce != 0 || want.Balance.Sign() != 0 {
						t.Errorf("dist=%d threads=%d: address %v missing from result, want %+v", dist, threads, addr, want)
					}
					continue
				}
				if got.Nonce != want.Nonce || got.Balance.Cmp(&want.Balance) != 0 {
					t.Errorf("dist=%d threads=%d: address %v: want %+v, got %+v", dist, threads, addr, want, got)
				}
			}
		}
	}
}

func TestProperty_DeterminismAcrossThreadCounts(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	txs, initial := randomBatch(rng, 15, 200, distZipfian)

	var baseline BatchResult
	for i, threads := range []int{1, 2, 4, 16} {
		result := runBatch(t, txs, initial, threads)
		if i == 0 {
			baseline = result
			continue
		}
		if result.Successful != baseline.Successful || result.Failed != baseline.Failed {
			t.Fatalf("threads=%d: outcome diverges from single-thread baseline: %+v vs %+v", threads, result, baseline)
		}
	}
}

func TestProperty_Termination(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const n = 150
	txs, initial := randomBatch(rng, 10, n, distFullyConflicting)

	result := runBatch(t, txs, initial, 8)
	if result.TotalExecutions > n*n {
		t.Fatalf("expected total_executions <= n^2 = %d, got %d", n*n, result.TotalExecutions)
	}
}

func TestProperty_IncarnationMonotonicity(t *testing.T) {
	mv := NewMultiVersionStore()
	s := NewScheduler(3, mv, nil)

	seen := make(map[TxnIndex]Incarnation)
	dispatch := func() Task {
		task := s.NextTask()
		if task.Kind == TaskExecute {
			if last, ok := seen[task.Idx]; ok && task.Inc <= last {
				t.Fatalf("txn %d: incarnation did not increase: last=%d new=%d", task.Idx, last, task.Inc)
			}
			seen[task.Idx] = task.Inc
		}
		return task
	}

	dispatch() // (0, 0)
	dispatch() // (1, 0)
	dispatch() // (2, 0)

	s.Abort(1) // re-enqueues (1, 1)
	dispatch() // (1, 1)

	s.Abort(1) // re-enqueues (1, 2)
	dispatch() // (1, 2)

	if seen[1] != 2 {
		t.Fatalf("expected txn 1 to reach incarnation 2, got %d", seen[1])
	}
}

func TestProperty_ReaderSetSoundness(t *testing.T) {
	// A committed transaction must never retain a stale read: if it read
	// version v at an address and a lower-indexed transaction later wrote
	// a newer version there, it must have been aborted (and so any commit
	// it eventually reaches reflects a fresh read).
	mv := NewMultiVersionStore()
	addr := addrN(1)

	mv.Write(addr, 0, 0, stateOf(1, 100))
	r := mv.Read(addr, 2)
	mv.RecordRead(addr, 2, r.Version)

	// Txn 1 (lower than the reader, higher than the original writer)
	// writes — this must invalidate txn 2's stale read.
	invalidated := mv.Write(addr, 1, 0, stateOf(5, 100))
	found := false
	for _, idx := range invalidated {
		if idx == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected txn 2 to be invalidated after txn 1's write, invalidated=%v", invalidated)
	}
}
