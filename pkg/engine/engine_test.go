package engine

import (
	"testing"

	"github.com/holiman/uint256"
)

func u256(v uint64) uint256.Int {
	return *uint256.NewInt(v)
}

func balanceState(nonce, balance uint64) AccountState {
	return AccountState{Nonce: nonce, Balance: u256(balance)}
}

func requireBalance(t *testing.T, states []AddressState, addr Address, wantNonce, wantBalance uint64) {
	t.Helper()
	for _, s := range states {
		if s.Address == addr {
			if s.State.Nonce != wantNonce {
				t.Errorf("address %v: expected nonce %d, got %d", addr, wantNonce, s.State.Nonce)
			}
			if s.State.Balance.Cmp(uint256.NewInt(wantBalance)) != 0 {
				t.Errorf("address %v: expected balance %d, got %s", addr, wantBalance, s.State.Balance.String())
			}
			return
		}
	}
	t.Errorf("address %v not found in final states %+v", addr, states)
}

func runBatch(t *testing.T, txs []Transaction, initial map[Address]AccountState, numThreads int) BatchResult {
	t.Helper()
	cfg := DefaultConfig()
	cfg.NumThreads = numThreads
	result, err := ExecuteBatch(txs, initial, cfg)
	if err != nil {
		t.Fatalf("ExecuteBatch failed: %v", err)
	}
	return result
}

// Scenario 1: independent transfers.
func TestScenario_IndependentTransfers(t *testing.T) {
	a, b, c, d := addrN(1), addrN(2), addrN(3), addrN(4)
	initial := map[Address]AccountState{
		a: balanceState(0, 1000),
		b: balanceState(0, 1000),
		c: balanceState(0, 1000),
		d: balanceState(0, 1000),
	}
	txs := []Transaction{
		{From: a, To: b, Value: u256(10), Nonce: 0},
		{From: c, To: d, Value: u256(20), Nonce: 0},
	}

	for _, threads := range []int{1, 4} {
		result := runBatch(t, txs, initial, threads)
		if result.Successful != 2 || result.Failed != 0 {
			t.Fatalf("threads=%d: expected successful=2 failed=0, got %+v", threads, result)
		}
		requireBalance(t, result.FinalStates, a, 1, 990)
		requireBalance(t, result.FinalStates, b, 0, 1010)
		requireBalance(t, result.FinalStates, c, 1, 980)
		requireBalance(t, result.FinalStates, d, 0, 1020)
	}
}

// Scenario 2: sequential dependency — Tx1 reads B, which Tx0 also writes.
func TestScenario_SequentialDependency(t *testing.T) {
	a, b := addrN(1), addrN(2)
	initial := map[Address]AccountState{
		a: balanceState(0, 1000),
		b: balanceState(0, 1000),
	}
	txs := []Transaction{
		{From: a, To: b, Value: u256(100), Nonce: 0},
		{From: b, To: a, Value: u256(50), Nonce: 0},
	}

	for _, threads := range []int{1, 4} {
		result := runBatch(t, txs, initial, threads)
		if result.Successful != 2 || result.Failed != 0 {
			t.Fatalf("threads=%d: expected successful=2 failed=0, got %+v", threads, result)
		}
		requireBalance(t, result.FinalStates, a, 1, 950)
		requireBalance(t, result.FinalStates, b, 1, 1050)
	}
}

// Scenario 3: contended hot account.
func TestScenario_ContendedHotAccount(t *testing.T) {
	a := addrN(1)
	initial := map[Address]AccountState{a: balanceState(0, 1000)}

	const n = 100
	txs := make([]Transaction, n)
	recipients := make([]Address, n)
	for i := 0; i < n; i++ {
		recipients[i] = addrN(byte(100 + i))
		initial[recipients[i]] = balanceState(0, 1000)
		txs[i] = Transaction{From: a, To: recipients[i], Value: u256(1), Nonce: uint64(i)}
	}

	for _, threads := range []int{1, 4} {
		result := runBatch(t, txs, initial, threads)
		if result.Successful != n || result.Failed != 0 {
			t.Fatalf("threads=%d: expected successful=%d failed=0, got %+v", threads, n, result)
		}
		requireBalance(t, result.FinalStates, a, n, 900)
		for i := 0; i < n; i++ {
			requireBalance(t, result.FinalStates, recipients[i], 0, 1001)
		}
		if threads > 1 && result.TotalExecutions <= n {
			t.Errorf("threads=%d: expected re-executions under contention, got total_executions=%d for n=%d",
				threads, result.TotalExecutions, n)
		}
	}
}

// Scenario 4: permanent failure (bad signature) alongside a valid transfer.
func TestScenario_PermanentFailure(t *testing.T) {
	a, b := addrN(1), addrN(2)
	initial := map[Address]AccountState{
		a: balanceState(0, 1000),
		b: balanceState(0, 1000),
	}
	txs := []Transaction{
		{From: a, To: b, Value: u256(999), Nonce: 0}, // will be rejected by Verify
		{From: a, To: b, Value: u256(10), Nonce: 0},
	}

	cfg := DefaultConfig()
	cfg.VerifySignatures = true
	cfg.Verify = func(tx Transaction) bool {
		return tx.Value.Cmp(uint256.NewInt(999)) != 0
	}

	result, err := ExecuteBatch(txs, initial, cfg)
	if err != nil {
		t.Fatalf("ExecuteBatch failed: %v", err)
	}
	if result.Successful != 1 || result.Failed != 1 {
		t.Fatalf("expected successful=1 failed=1, got %+v", result)
	}
	requireBalance(t, result.FinalStates, a, 1, 990)
	requireBalance(t, result.FinalStates, b, 0, 1010)
}

// Scenario 5: dependency retry that resolves into a permanent nonce
// mismatch once the producing transaction has committed.
func TestScenario_DependencyThenPermanent(t *testing.T) {
	a, b, c := addrN(1), addrN(2), addrN(3)
	initial := map[Address]AccountState{
		a: balanceState(0, 1000),
		b: balanceState(0, 1000),
		c: balanceState(0, 1000),
	}
	txs := []Transaction{
		{From: a, To: b, Value: u256(10), Nonce: 2}, // A's real nonce reaches 1, never 2
		{From: a, To: c, Value: u256(5), Nonce: 0},
	}

	for _, threads := range []int{1, 4} {
		result := runBatch(t, txs, initial, threads)
		if result.Successful != 1 || result.Failed != 1 {
			t.Fatalf("threads=%d: expected successful=1 failed=1, got %+v", threads, result)
		}
		requireBalance(t, result.FinalStates, a, 1, 995)
		requireBalance(t, result.FinalStates, c, 0, 1005)
	}
}

// Scenario 6: self-transfer nets to a pure nonce bump.
func TestScenario_SelfTransfer(t *testing.T) {
	a := addrN(1)
	initial := map[Address]AccountState{a: balanceState(0, 1000)}
	txs := []Transaction{
		{From: a, To: a, Value: u256(100), Nonce: 0},
	}

	for _, threads := range []int{1, 4} {
		result := runBatch(t, txs, initial, threads)
		if result.Successful != 1 || result.Failed != 0 {
			t.Fatalf("threads=%d: expected successful=1 failed=0, got %+v", threads, result)
		}
		requireBalance(t, result.FinalStates, a, 1, 1000)
	}
}

func TestExecuteBatch_RejectsEmptyBatch(t *testing.T) {
	_, err := ExecuteBatch(nil, nil, DefaultConfig())
	if err != ErrEmptyBatch {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestExecuteBatch_RejectsInvalidConfig(t *testing.T) {
	txs := []Transaction{{From: addrN(1), To: addrN(2), Value: u256(1), Nonce: 0}}

	cfg := DefaultConfig()
	cfg.NumThreads = 0
	if _, err := ExecuteBatch(txs, nil, cfg); err != ErrInvalidConfig {
		t.Fatalf("expected ErrInvalidConfig for NumThreads=0, got %v", err)
	}

	cfg2 := DefaultConfig()
	cfg2.VerifySignatures = true
	if _, err := ExecuteBatch(txs, nil, cfg2); err != ErrInvalidConfig {
		t.Fatalf("expected ErrInvalidConfig for missing Verify, got %v", err)
	}
}

func TestExecuteBatch_MissingAddressDefaultsToZero(t *testing.T) {
	a := addrN(1)
	b := addrN(2)
	txs := []Transaction{{From: a, To: b, Value: u256(0), Nonce: 0}}

	result := runBatch(t, txs, map[Address]AccountState{a: balanceState(0, 0)}, 2)
	if result.Successful != 1 {
		t.Fatalf("expected successful=1, got %+v", result)
	}
	requireBalance(t, result.FinalStates, b, 0, 0)
}
