package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/mnohosten/blockstm/pkg/engine"
	"github.com/mnohosten/blockstm/pkg/workload"
)

func parseAddress(s string) (engine.Address, error) {
	var addr engine.Address
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(b) != len(addr) {
		return addr, fmt.Errorf("invalid address %q: expected %d bytes, got %d", s, len(addr), len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

func parseValue(s string) (uint256.Int, error) {
	var v uint256.Int
	if s == "" {
		return v, nil
	}
	if err := v.SetFromDecimal(s); err != nil {
		return v, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return v, nil
}

// decodeFileWorkload converts a JSON-loaded fileWorkload into an
// engine-ready workload.Workload.
func decodeFileWorkload(fw fileWorkload) (workload.Workload, error) {
	initial := make(map[engine.Address]engine.AccountState, len(fw.Initial))
	for addrHex, balanceDec := range fw.Initial {
		addr, err := parseAddress(addrHex)
		if err != nil {
			return workload.Workload{}, fmt.Errorf("initial state: %w", err)
		}
		balance, err := parseValue(balanceDec)
		if err != nil {
			return workload.Workload{}, fmt.Errorf("initial state: %w", err)
		}
		initial[addr] = engine.AccountState{Balance: balance}
	}

	blocks := make([][]engine.Transaction, len(fw.Blocks))
	for bi, block := range fw.Blocks {
		txs := make([]engine.Transaction, len(block))
		for ti, ft := range block {
			from, err := parseAddress(ft.From)
			if err != nil {
				return workload.Workload{}, fmt.Errorf("block %d transaction %d: %w", bi, ti, err)
			}
			to, err := parseAddress(ft.To)
			if err != nil {
				return workload.Workload{}, fmt.Errorf("block %d transaction %d: %w", bi, ti, err)
			}
			value, err := parseValue(ft.Value)
			if err != nil {
				return workload.Workload{}, fmt.Errorf("block %d transaction %d: %w", bi, ti, err)
			}
			txs[ti] = engine.Transaction{From: from, To: to, Value: value, Nonce: ft.Nonce}
		}
		blocks[bi] = txs
	}

	return workload.Workload{Blocks: blocks, Initial: initial}, nil
}
