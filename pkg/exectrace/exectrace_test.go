package exectrace

import (
	"bytes"
	"testing"

	"github.com/mnohosten/blockstm/pkg/engine"
)

func TestRecorder_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf, 3)
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}

	events := []engine.CommitEvent{
		{Idx: 0, Incarnation: 0, Successful: true, Committed: 1, Total: 3},
		{Idx: 1, Incarnation: 1, Successful: false, Committed: 2, Total: 3},
		{Idx: 2, Incarnation: 0, Successful: true, Committed: 3, Total: 3},
	}
	for _, ev := range events {
		rec.Record(ev)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reader, err := NewReader()
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	records, err := reader.ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	if len(records) != len(events) {
		t.Fatalf("expected %d records, got %d", len(events), len(records))
	}
	for i, ev := range events {
		got := records[i]
		if got.Idx != int(ev.Idx) || got.Incarnation != int(ev.Incarnation) || got.Successful != ev.Successful ||
			got.Committed != ev.Committed || got.Total != ev.Total {
			t.Errorf("record %d: expected %+v, got %+v", i, ev, got)
		}
	}
}

func TestRecorder_HookIntegratesWithEngineConfig(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf, 1)
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}

	var cfg engine.Config
	cfg.OnCommitEvent = rec.Hook()
	if cfg.OnCommitEvent == nil {
		t.Fatal("expected Hook() to produce a non-nil callback")
	}
	cfg.OnCommitEvent(engine.CommitEvent{Idx: 0, Successful: true, Committed: 1, Total: 1})
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reader, err := NewReader()
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	records, err := reader.ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}
