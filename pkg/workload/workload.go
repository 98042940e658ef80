// Package workload generates deterministic synthetic transaction batches
// for exercising and benchmarking pkg/engine. It is the Go counterpart of
// the Rust original's Workload/WorkloadConfig, reshaped around a seeded
// math/rand/v2 generator instead of a fixed RNG crate.
package workload

import (
	"errors"
	"math/rand/v2"

	"github.com/holiman/uint256"

	"github.com/mnohosten/blockstm/pkg/engine"
	"github.com/mnohosten/blockstm/pkg/txsign"
)

var (
	// ErrInvalidConfig is returned when a Config has a nonsensical shape.
	ErrInvalidConfig = errors.New("workload: invalid config")
)

// Config controls synthetic workload generation.
type Config struct {
	NumAccounts          int
	NumTransactions      int
	TransactionsPerBlock int
	ConflictFactor       float64 // 0 = uniform sender distribution, 1 = single hot sender
	Seed                 uint64
	ChainID              uint64
	Sign                 bool // populate Digest/Signature via pkg/txsign
}

// DefaultConfig mirrors analyze_workload.rs's example configuration.
func DefaultConfig() Config {
	return Config{
		NumAccounts:          50_000,
		NumTransactions:      10_000,
		TransactionsPerBlock: 5_000,
		ConflictFactor:       0.0,
		Seed:                 42,
		ChainID:              1,
	}
}

// Workload is a generated (initial state, batched transactions) pair ready
// to feed to engine.ExecuteBatch, one block at a time.
type Workload struct {
	Blocks  [][]engine.Transaction
	Initial map[engine.Address]engine.AccountState
}

// account is a generated signer: every account gets a deterministic
// secp256k1 key so addresses look like real chain addresses and
// transactions can be signed on request.
type account struct {
	keyPair *txsign.KeyPair
}

// Generate builds a Workload from cfg. With cfg.Seed fixed, two calls to
// Generate with an identical cfg produce byte-identical output.
func Generate(cfg Config) (Workload, error) {
	if cfg.NumAccounts <= 0 || cfg.NumTransactions <= 0 || cfg.TransactionsPerBlock <= 0 {
		return Workload{}, ErrInvalidConfig
	}
	if cfg.ConflictFactor < 0 || cfg.ConflictFactor > 1 {
		return Workload{}, ErrInvalidConfig
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	accounts := make([]account, cfg.NumAccounts)
	initial := make(map[engine.Address]engine.AccountState, cfg.NumAccounts)
	const startingBalance = 1_000_000_000

	for i := range accounts {
		kp := deterministicKeyPair(rng)
		accounts[i] = account{keyPair: kp}
		initial[kp.Address] = engine.AccountState{Nonce: 0, Balance: *uint256.NewInt(startingBalance)}
	}
	nextNonce := make([]uint64, cfg.NumAccounts)

	pickSender := func() int {
		if cfg.ConflictFactor > 0 && rng.Float64() < cfg.ConflictFactor {
			return 0 // the hot account, always index 0
		}
		return rng.IntN(cfg.NumAccounts)
	}

	txs := make([]engine.Transaction, cfg.NumTransactions)
	for i := range txs {
		from := pickSender()
		to := rng.IntN(cfg.NumAccounts)
		value := uint64(1 + rng.IntN(1000))

		tx := engine.Transaction{
			From:  accounts[from].keyPair.Address,
			To:    accounts[to].keyPair.Address,
			Value: *uint256.NewInt(value),
			Nonce: nextNonce[from],
		}
		nextNonce[from]++

		if cfg.Sign {
			txsign.SignTransaction(accounts[from].keyPair, &tx)
		}
		txs[i] = tx
	}

	var blocks [][]engine.Transaction
	for start := 0; start < len(txs); start += cfg.TransactionsPerBlock {
		end := start + cfg.TransactionsPerBlock
		if end > len(txs) {
			end = len(txs)
		}
		blocks = append(blocks, txs[start:end])
	}

	return Workload{Blocks: blocks, Initial: initial}, nil
}

// deterministicKeyPair derives a secp256k1 key pair from the generator's
// own bit stream rather than crypto/rand, so the whole Workload stays
// reproducible from Config.Seed alone.
func deterministicKeyPair(rng *rand.Rand) *txsign.KeyPair {
	var seed [32]byte
	for {
		for i := 0; i < 32; i += 8 {
			v := rng.Uint64()
			seed[i] = byte(v)
			seed[i+1] = byte(v >> 8)
			seed[i+2] = byte(v >> 16)
			seed[i+3] = byte(v >> 24)
			seed[i+4] = byte(v >> 32)
			seed[i+5] = byte(v >> 40)
			seed[i+6] = byte(v >> 48)
			seed[i+7] = byte(v >> 56)
		}
		kp, ok := txsign.KeyPairFromSeed(seed)
		if ok {
			return kp
		}
		// Astronomically unlikely (seed reduces to zero modulo the curve
		// order): draw again.
	}
}

// SenderCounts tallies how many transactions each address sent across
// every block, the same aggregate analyze_workload.rs computes.
func (w Workload) SenderCounts() map[engine.Address]int {
	counts := make(map[engine.Address]int)
	for _, block := range w.Blocks {
		for _, tx := range block {
			counts[tx.From]++
		}
	}
	return counts
}
