package engine

import (
	"sync"
	"time"
)

// ExecuteBatch runs transactions against initialState using W worker
// goroutines, producing a result equivalent to strict serial execution in
// the batch's order. initialState is read-only: addresses absent from it
// are assumed to start at {nonce: 0, balance: 0}.
func ExecuteBatch(transactions []Transaction, initialState map[Address]AccountState, cfg Config) (BatchResult, error) {
	if len(transactions) == 0 {
		return BatchResult{}, ErrEmptyBatch
	}
	if cfg.NumThreads < 1 {
		return BatchResult{}, ErrInvalidConfig
	}
	if cfg.VerifySignatures && cfg.Verify == nil {
		return BatchResult{}, ErrInvalidConfig
	}

	start := time.Now()

	mvs := NewMultiVersionStore()
	scheduler := NewScheduler(len(transactions), mvs, cfg.OnCommitProgress)
	if cfg.OnCommitEvent != nil {
		scheduler.SetCommitEventHook(cfg.OnCommitEvent)
	}

	var wg sync.WaitGroup
	wg.Add(cfg.NumThreads)
	for i := 0; i < cfg.NumThreads; i++ {
		w := &worker{
			id:           i,
			scheduler:    scheduler,
			mvs:          mvs,
			transactions: transactions,
			initial:      initialState,
			cfg:          cfg,
		}
		go func() {
			defer wg.Done()
			w.run()
		}()
	}
	wg.Wait()

	stats := scheduler.Stats()

	return BatchResult{
		Successful:      int(stats.Successful),
		Failed:          int(stats.Failed),
		TotalExecutions: int(stats.TotalExecutions),
		FinalStates:     mvs.CommittedStates(),
		Duration:        time.Since(start),
	}, nil
}
