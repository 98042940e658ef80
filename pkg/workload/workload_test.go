package workload

import (
	"testing"

	"github.com/mnohosten/blockstm/pkg/txsign"
)

func TestGenerate_Deterministic(t *testing.T) {
	cfg := Config{NumAccounts: 20, NumTransactions: 100, TransactionsPerBlock: 25, Seed: 7, ChainID: 1}

	w1, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	w2, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(w1.Blocks) != len(w2.Blocks) {
		t.Fatalf("block count differs between runs: %d vs %d", len(w1.Blocks), len(w2.Blocks))
	}
	for bi := range w1.Blocks {
		if len(w1.Blocks[bi]) != len(w2.Blocks[bi]) {
			t.Fatalf("block %d length differs: %d vs %d", bi, len(w1.Blocks[bi]), len(w2.Blocks[bi]))
		}
		for ti := range w1.Blocks[bi] {
			a, b := w1.Blocks[bi][ti], w2.Blocks[bi][ti]
			if a.From != b.From || a.To != b.To || a.Nonce != b.Nonce || a.Value.Cmp(&b.Value) != 0 {
				t.Fatalf("block %d tx %d differs between runs", bi, ti)
			}
		}
	}
}

func TestGenerate_BlockSizing(t *testing.T) {
	cfg := Config{NumAccounts: 10, NumTransactions: 55, TransactionsPerBlock: 20, Seed: 1, ChainID: 1}
	w, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(w.Blocks) != 3 {
		t.Fatalf("expected 3 blocks (20+20+15), got %d", len(w.Blocks))
	}
	total := 0
	for _, block := range w.Blocks {
		total += len(block)
	}
	if total != cfg.NumTransactions {
		t.Fatalf("expected %d total transactions, got %d", cfg.NumTransactions, total)
	}
	if len(w.Blocks[2]) != 15 {
		t.Fatalf("expected final block to hold the 15 leftover transactions, got %d", len(w.Blocks[2]))
	}
}

func TestGenerate_FullyConflictingUsesHotAccount(t *testing.T) {
	cfg := Config{NumAccounts: 50, NumTransactions: 200, TransactionsPerBlock: 200, ConflictFactor: 1.0, Seed: 3, ChainID: 1}
	w, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	counts := w.SenderCounts()
	if len(counts) != 1 {
		t.Fatalf("expected a single sender under ConflictFactor=1.0, got %d distinct senders", len(counts))
	}
}

func TestGenerate_SignedTransactionsVerify(t *testing.T) {
	cfg := Config{NumAccounts: 5, NumTransactions: 10, TransactionsPerBlock: 10, Seed: 99, ChainID: 1, Sign: true}
	w, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	for _, block := range w.Blocks {
		for _, tx := range block {
			if tx.Digest == ([32]byte{}) {
				t.Fatalf("expected signed transaction to carry a digest")
			}
			if !txsign.Verify(tx) {
				t.Fatalf("expected signed transaction to verify")
			}
		}
	}
}

func TestGenerate_RejectsInvalidConfig(t *testing.T) {
	cases := []Config{
		{NumAccounts: 0, NumTransactions: 1, TransactionsPerBlock: 1},
		{NumAccounts: 1, NumTransactions: 0, TransactionsPerBlock: 1},
		{NumAccounts: 1, NumTransactions: 1, TransactionsPerBlock: 0},
		{NumAccounts: 1, NumTransactions: 1, TransactionsPerBlock: 1, ConflictFactor: 1.5},
	}
	for i, cfg := range cases {
		if _, err := Generate(cfg); err != ErrInvalidConfig {
			t.Errorf("case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}
