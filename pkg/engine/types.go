// Package engine implements a Block-STM style optimistic-concurrency
// transaction execution engine: transactions are run speculatively in
// parallel against a multi-version store, conflicts are detected through
// push-based invalidation, and the scheduler commits results in the batch's
// canonical order.
package engine

import (
	"runtime"
	"time"

	"github.com/holiman/uint256"
)

// TxnIndex is a transaction's position in the batch, 0-based and canonical.
type TxnIndex int

// Incarnation counts how many times a TxnIndex has been (re-)scheduled for
// execution. Starts at 0 and increments on every abort.
type Incarnation int

// Version identifies a specific execution's writes: the pair (TxnIndex,
// Incarnation) that produced them.
type Version struct {
	TxnIndex    TxnIndex
	Incarnation Incarnation
}

// Address is an opaque, fixed-width, hashable, totally-ordered account
// identifier.
type Address [20]byte

// AccountState is an immutable value: every update produces a new one
// rather than mutating in place.
type AccountState struct {
	Nonce   uint64
	Balance uint256.Int
}

// ZeroAccountState is the state assumed for any address absent from the
// initial snapshot.
var ZeroAccountState = AccountState{Nonce: 0}

// Transaction is the fixed value-transfer model the engine applies. From,
// To, Value, and Nonce drive execution; Digest and Signature are opaque to
// the core and only meaningful to an externally supplied VerifyFunc.
type Transaction struct {
	From      Address
	To        Address
	Value     uint256.Int
	Nonce     uint64
	Digest    [32]byte
	Signature [65]byte
}

// VerifyFunc is a pure signature-validity predicate, supplied by the
// embedder and invoked only when Config.VerifySignatures is true. The core
// does not mandate a curve or scheme.
type VerifyFunc func(tx Transaction) bool

// AddressState pairs an address with the account state it ended the batch
// in. Returned by ExecuteBatch as the final state projection.
type AddressState struct {
	Address Address
	State   AccountState
}

// Config configures a single ExecuteBatch call.
type Config struct {
	// NumThreads is the number of worker goroutines polling the scheduler.
	// Must be >= 1.
	NumThreads int

	// VerifySignatures gates whether Verify is called before a
	// transaction's sender/receiver are touched at all.
	VerifySignatures bool

	// Verify is the embedder-supplied signature predicate. Required when
	// VerifySignatures is true, ignored otherwise.
	Verify VerifyFunc

	// OnCommitProgress, if set, is invoked from the committing goroutine
	// every 1000 commits (mirroring the reference scheduler's progress
	// logging). It must return quickly — it runs under the scheduler's
	// commit lock.
	OnCommitProgress func(committed, total int)

	// BackoffBase is the initial sleep duration a worker uses when the
	// scheduler reports Wait. Defaults to 10 microseconds.
	BackoffBase time.Duration

	// BackoffCap bounds the exponential back-off. Defaults to 1 millisecond.
	BackoffCap time.Duration

	// OnCommitEvent, if set, is invoked once per transaction the instant it
	// commits (not just every 1000th). Diagnostic only — pkg/exectrace uses
	// it to record an execution trace; the core never depends on it.
	OnCommitEvent func(CommitEvent)
}

// CommitEvent describes a single transaction's commit, for diagnostic
// tracing (see pkg/exectrace). Not part of the engine's result value —
// delivered only through Config.OnCommitEvent.
type CommitEvent struct {
	Idx         TxnIndex
	Incarnation Incarnation
	Successful  bool
	Committed   int
	Total       int
}

// DefaultConfig returns a Config with one worker per CPU, signature
// verification disabled, and the reference back-off parameters.
func DefaultConfig() Config {
	return Config{
		NumThreads:       runtime.NumCPU(),
		VerifySignatures: false,
		BackoffBase:      10 * time.Microsecond,
		BackoffCap:       1 * time.Millisecond,
	}
}

// BatchResult is the outcome of a single ExecuteBatch call.
type BatchResult struct {
	Successful      int
	Failed          int
	TotalExecutions int
	FinalStates     []AddressState
	Duration        time.Duration
}
