package metrics

import (
	"fmt"
	"io"

	"github.com/mnohosten/blockstm/pkg/engine"
)

// EngineExporter exports a running engine.Scheduler's Stats() in
// Prometheus text format: a # HELP and # TYPE line per metric, each name
// prefixed with the exporter's namespace.
type EngineExporter struct {
	stats     func() engine.SchedulerStats
	namespace string
}

// NewEngineExporter wires an exporter to a stats accessor — typically
// scheduler.Stats bound to a running batch, or a closure over the most
// recent BatchResult for a finished one.
func NewEngineExporter(stats func() engine.SchedulerStats) *EngineExporter {
	return &EngineExporter{stats: stats, namespace: "blockstm"}
}

// SetNamespace sets the metric namespace prefix.
func (ee *EngineExporter) SetNamespace(namespace string) {
	ee.namespace = namespace
}

// WriteMetrics writes the current scheduler snapshot in Prometheus text
// format to w.
func (ee *EngineExporter) WriteMetrics(w io.Writer) error {
	s := ee.stats()

	if err := ee.writeGauge(w, "txn_pending", "Transactions currently pending", float64(s.Pending)); err != nil {
		return err
	}
	if err := ee.writeGauge(w, "txn_executing", "Transactions currently executing", float64(s.Executing)); err != nil {
		return err
	}
	if err := ee.writeGauge(w, "txn_executed", "Transactions executed but not yet committed", float64(s.Executed)); err != nil {
		return err
	}
	if err := ee.writeGauge(w, "txn_committed", "Transactions committed", float64(s.Committed)); err != nil {
		return err
	}
	if err := ee.writeCounter(w, "txn_total_incarnations", "Total number of (re-)scheduled incarnations", uint64(s.TotalIncarnations)); err != nil {
		return err
	}
	if err := ee.writeCounter(w, "txn_total_executions", "Total number of Execute calls, including aborted ones", uint64(s.TotalExecutions)); err != nil {
		return err
	}
	if err := ee.writeCounter(w, "txn_successful_total", "Transactions committed with effect", uint64(s.Successful)); err != nil {
		return err
	}
	if err := ee.writeCounter(w, "txn_failed_total", "Transactions committed with no effect (permanent failure or no-op)", uint64(s.Failed)); err != nil {
		return err
	}

	aborts := uint64(s.TotalExecutions) - uint64(s.Pending+s.Executing+s.Executed+s.Committed)
	if err := ee.writeCounter(w, "txn_aborts_total", "Approximate number of aborted executions (total executions minus live statuses)", aborts); err != nil {
		return err
	}

	return nil
}

func (ee *EngineExporter) writeCounter(w io.Writer, name, help string, value uint64) error {
	metricName := ee.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n",
		metricName, help, metricName, metricName, value)
	return err
}

func (ee *EngineExporter) writeGauge(w io.Writer, name, help string, value float64) error {
	metricName := ee.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n",
		metricName, help, metricName, metricName, value)
	return err
}
