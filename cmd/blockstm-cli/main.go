// Command blockstm-cli runs a batch of transactions through pkg/engine,
// either loaded from a JSON workload file or synthesized by pkg/workload,
// prints a summary, and optionally serves pkg/httpapi afterwards for
// submitting further batches. It is the embedder the core engine deliberately has none of.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnohosten/blockstm/pkg/engine"
	"github.com/mnohosten/blockstm/pkg/exectrace"
	"github.com/mnohosten/blockstm/pkg/httpapi"
	"github.com/mnohosten/blockstm/pkg/metrics"
	"github.com/mnohosten/blockstm/pkg/txsign"
	"github.com/mnohosten/blockstm/pkg/workload"
)

func main() {
	// Workload generation flags.
	numAccounts := flag.Int("accounts", 1000, "number of synthetic accounts to generate")
	numTransactions := flag.Int("transactions", 10000, "number of synthetic transactions to generate")
	txPerBlock := flag.Int("block-size", 5000, "transactions per generated block")
	conflictFactor := flag.Float64("conflict-factor", 0.0, "fraction of transactions routed through a single hot sender")
	seed := flag.Uint64("seed", 42, "workload RNG seed")
	chainID := flag.Uint64("chain-id", 1, "chain ID recorded for the generated workload")
	workloadFile := flag.String("workload-file", "", "load a workload from this JSON file instead of generating one")

	// Engine flags.
	numThreads := flag.Int("threads", 0, "worker goroutines (default: number of CPUs)")
	verifySignatures := flag.Bool("verify-signatures", false, "verify transaction signatures before applying them")

	// Diagnostics flags.
	tracePath := flag.String("trace-out", "", "write a zstd-compressed per-commit trace to this file")
	progressEvery := flag.Bool("progress", false, "log progress every 1000 commits")

	// HTTP API flags.
	serveHTTP := flag.Bool("serve", false, "serve pkg/httpapi for submitting further batches after this run")
	host := flag.String("host", "localhost", "httpapi host")
	port := flag.Int("port", 8080, "httpapi port")

	flag.Parse()

	var blocks [][]engine.Transaction
	var initial map[engine.Address]engine.AccountState

	if *workloadFile != "" {
		w, err := loadWorkload(*workloadFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load workload: %v\n", err)
			os.Exit(1)
		}
		blocks, initial = w.Blocks, w.Initial
	} else {
		w, err := workload.Generate(workload.Config{
			NumAccounts:          *numAccounts,
			NumTransactions:      *numTransactions,
			TransactionsPerBlock: *txPerBlock,
			ConflictFactor:       *conflictFactor,
			Seed:                 *seed,
			ChainID:              *chainID,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate workload: %v\n", err)
			os.Exit(1)
		}
		blocks, initial = w.Blocks, w.Initial
	}

	cfg := engine.DefaultConfig()
	if *numThreads > 0 {
		cfg.NumThreads = *numThreads
	}
	cfg.VerifySignatures = *verifySignatures
	if *verifySignatures {
		cfg.Verify = txsign.Verify
	}

	if *progressEvery {
		cfg.OnCommitProgress = func(committed, total int) {
			fmt.Printf("progress: %d/%d committed\n", committed, total)
		}
	}

	var recorder *exectrace.Recorder
	if *tracePath != "" {
		f, err := os.Create(*tracePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create trace file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()

		recorder, err = exectrace.NewRecorder(f, 3)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create trace recorder: %v\n", err)
			os.Exit(1)
		}
		cfg.OnCommitEvent = recorder.Hook()
	}

	fmt.Printf("running %d block(s) across %d account(s), %d worker thread(s)\n", len(blocks), len(initial), cfg.NumThreads)

	resources := metrics.NewResourceTracker(nil)
	defer resources.Close()

	var totalSuccessful, totalFailed, totalExecutions int
	state := initial
	start := time.Now()
	for i, block := range blocks {
		result, err := engine.ExecuteBatch(block, state, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "block %d: execution failed: %v\n", i, err)
			os.Exit(1)
		}
		state = applyFinalStates(state, result.FinalStates)
		totalSuccessful += result.Successful
		totalFailed += result.Failed
		totalExecutions += result.TotalExecutions
		fmt.Printf("block %d: %d successful, %d failed, %d executions, %s\n",
			i, result.Successful, result.Failed, result.TotalExecutions, result.Duration)
	}

	if recorder != nil {
		if err := recorder.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close trace recorder: %v\n", err)
		}
	}

	fmt.Printf("\ntotal: %d successful, %d failed, %d executions in %s\n",
		totalSuccessful, totalFailed, totalExecutions, time.Since(start))

	stats := resources.GetStats()
	fmt.Printf("resources: %.1f MB heap, %d goroutines, %d GC runs\n",
		stats.HeapInUseMB, stats.NumGoroutines, stats.GCRuns)

	if *serveHTTP {
		apiCfg := httpapi.DefaultConfig()
		apiCfg.Host = *host
		apiCfg.Port = *port
		srv := httpapi.New(apiCfg, cfg)

		ctx, cancel := context.WithCancel(context.Background())
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()

		fmt.Printf("serving httpapi on http://%s:%d (submit further batches at POST /batches)\n", apiCfg.Host, apiCfg.Port)
		if err := srv.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "httpapi server error: %v\n", err)
			os.Exit(1)
		}
	}
}

// applyFinalStates folds one block's committed account states back into
// the running snapshot fed to the next block.
func applyFinalStates(state map[engine.Address]engine.AccountState, finalStates []engine.AddressState) map[engine.Address]engine.AccountState {
	next := make(map[engine.Address]engine.AccountState, len(state))
	for addr, s := range state {
		next[addr] = s
	}
	for _, s := range finalStates {
		next[s.Address] = s.State
	}
	return next
}

// fileWorkload is the on-disk JSON shape of a workload.Workload: fixed
// byte arrays and 256-bit values as hex/decimal text, the same convention
// pkg/httpapi's wire.go uses at the HTTP boundary.
type fileWorkload struct {
	Blocks  [][]fileTransaction  `json:"blocks"`
	Initial map[string]string    `json:"initial"`
}

type fileTransaction struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
	Nonce uint64 `json:"nonce"`
}

func loadWorkload(path string) (workload.Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return workload.Workload{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var fw fileWorkload
	if err := json.Unmarshal(data, &fw); err != nil {
		return workload.Workload{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	return decodeFileWorkload(fw)
}
