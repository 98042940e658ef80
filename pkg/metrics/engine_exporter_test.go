package metrics

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mnohosten/blockstm/pkg/engine"
)

func TestEngineExporter_WriteMetrics(t *testing.T) {
	exp := NewEngineExporter(func() engine.SchedulerStats {
		return engine.SchedulerStats{
			Pending:           0,
			Executing:         0,
			Executed:          0,
			Committed:         10,
			TotalIncarnations: 15,
			TotalExecutions:   15,
			Successful:        8,
			Failed:            2,
		}
	})

	var buf bytes.Buffer
	if err := exp.WriteMetrics(&buf); err != nil {
		t.Fatalf("WriteMetrics failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"blockstm_txn_committed 10",
		"blockstm_txn_successful_total 8",
		"blockstm_txn_failed_total 2",
		"blockstm_txn_aborts_total 5",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestEngineExporter_SetNamespace(t *testing.T) {
	exp := NewEngineExporter(func() engine.SchedulerStats { return engine.SchedulerStats{} })
	exp.SetNamespace("custom")

	var buf bytes.Buffer
	if err := exp.WriteMetrics(&buf); err != nil {
		t.Fatalf("WriteMetrics failed: %v", err)
	}
	if !strings.Contains(buf.String(), "custom_txn_pending") {
		t.Errorf("expected custom namespace prefix, got:\n%s", buf.String())
	}
}
