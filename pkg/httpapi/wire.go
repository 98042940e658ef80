package httpapi

import (
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/mnohosten/blockstm/pkg/engine"
)

// wireTransaction is the over-the-wire shape of engine.Transaction: fixed
// byte arrays become hex strings and the 256-bit value becomes a decimal
// string, the same "opaque binary fields as hex/decimal text" convention
// the teacher's pkg/document handlers use for BSON-ish document fields.
type wireTransaction struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
	Nonce uint64 `json:"nonce"`
}

// submitBatchRequest is the POST /batches request body.
type submitBatchRequest struct {
	Transactions     []wireTransaction  `json:"transactions"`
	Initial          map[string]string  `json:"initial"` // address hex -> balance decimal
	NumThreads       int                `json:"numThreads,omitempty"`
	VerifySignatures bool               `json:"verifySignatures,omitempty"`
}

func parseAddress(s string) (engine.Address, error) {
	var addr engine.Address
	b, err := hex.DecodeString(trimHexPrefix(s))
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

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// toBatch converts the request's wire transactions into engine
// transactions and the initial account snapshot into engine state.
func (req submitBatchRequest) toBatch() ([]engine.Transaction, map[engine.Address]engine.AccountState, error) {
	txs := make([]engine.Transaction, len(req.Transactions))
	for i, wt := range req.Transactions {
		from, err := parseAddress(wt.From)
		if err != nil {
			return nil, nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		to, err := parseAddress(wt.To)
		if err != nil {
			return nil, nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		value, err := parseValue(wt.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		txs[i] = engine.Transaction{From: from, To: to, Value: value, Nonce: wt.Nonce}
	}

	initial := make(map[engine.Address]engine.AccountState, len(req.Initial))
	for addrHex, balanceDec := range req.Initial {
		addr, err := parseAddress(addrHex)
		if err != nil {
			return nil, nil, fmt.Errorf("initial state: %w", err)
		}
		balance, err := parseValue(balanceDec)
		if err != nil {
			return nil, nil, fmt.Errorf("initial state: %w", err)
		}
		initial[addr] = engine.AccountState{Balance: balance}
	}

	return txs, initial, nil
}

// wireAddressState is the over-the-wire shape of engine.AddressState.
type wireAddressState struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
	Balance string `json:"balance"`
}

func toWireAddressStates(states []engine.AddressState) []wireAddressState {
	out := make([]wireAddressState, len(states))
	for i, s := range states {
		out[i] = wireAddressState{
			Address: "0x" + hex.EncodeToString(s.Address[:]),
			Nonce:   s.State.Nonce,
			Balance: s.State.Balance.Dec(),
		}
	}
	return out
}

// batchResultResponse is the JSON shape returned for a finished batch.
type batchResultResponse struct {
	Successful      int                `json:"successful"`
	Failed          int                `json:"failed"`
	TotalExecutions int                `json:"totalExecutions"`
	FinalStates     []wireAddressState `json:"finalStates"`
	DurationMs      int64              `json:"durationMs"`
}

func toBatchResultResponse(r engine.BatchResult) batchResultResponse {
	return batchResultResponse{
		Successful:      r.Successful,
		Failed:          r.Failed,
		TotalExecutions: r.TotalExecutions,
		FinalStates:     toWireAddressStates(r.FinalStates),
		DurationMs:      r.Duration.Milliseconds(),
	}
}
