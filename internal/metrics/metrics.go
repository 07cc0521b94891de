// Package metrics provides Prometheus-compatible counters for taskpilot runs.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds runtime metrics for taskpilot
type Metrics struct {
	// Model executor
	ModelAttempts  atomic.Int64
	ModelFailures  atomic.Int64
	QuotaFallbacks atomic.Int64
	ModelExhausted atomic.Int64
	InputTokens    atomic.Int64
	OutputTokens   atomic.Int64

	// Usage ledger
	LedgerWrites   atomic.Int64
	LedgerConflict atomic.Int64
	LedgerCorrupt  atomic.Int64
	MirrorFailures atomic.Int64

	// Task selector
	Selections       atomic.Int64
	SelectionsEmpty  atomic.Int64
	StatusPromotions atomic.Int64

	// Triage sync
	TriageSteps        atomic.Int64
	TriageStepFailures atomic.Int64

	// Audit graph
	GraphWrites      atomic.Int64
	GraphWriteErrors atomic.Int64

	// Timing (last model call duration in ms)
	LastAttemptDurationMs atomic.Int64

	startTime time.Time
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// Global returns the global metrics instance
func Global() *Metrics {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// New returns a zeroed instance, mostly for tests.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordAttempt records one model call
func (m *Metrics) RecordAttempt(success bool, durationMs int64) {
	m.ModelAttempts.Add(1)
	if !success {
		m.ModelFailures.Add(1)
	}
	m.LastAttemptDurationMs.Store(durationMs)
}

// RecordQuotaFallback records a move to the next model after a quota error
func (m *Metrics) RecordQuotaFallback() {
	m.QuotaFallbacks.Add(1)
}

// RecordExhausted records a run where every model failed
func (m *Metrics) RecordExhausted() {
	m.ModelExhausted.Add(1)
}

// RecordTokens adds provider-reported usage
func (m *Metrics) RecordTokens(in, out int) {
	m.InputTokens.Add(int64(in))
	m.OutputTokens.Add(int64(out))
}

// RecordLedgerWrite records a ledger persist attempt
func (m *Metrics) RecordLedgerWrite(conflict bool) {
	m.LedgerWrites.Add(1)
	if conflict {
		m.LedgerConflict.Add(1)
	}
}

// RecordLedgerCorrupt records an unparsable ledger comment
func (m *Metrics) RecordLedgerCorrupt() {
	m.LedgerCorrupt.Add(1)
}

// RecordMirrorFailure records a failed cost mirror
func (m *Metrics) RecordMirrorFailure() {
	m.MirrorFailures.Add(1)
}

// RecordSelection records a selector run
func (m *Metrics) RecordSelection(found, promoted bool) {
	m.Selections.Add(1)
	if !found {
		m.SelectionsEmpty.Add(1)
	}
	if promoted {
		m.StatusPromotions.Add(1)
	}
}

// RecordTriageStep records one triage step
func (m *Metrics) RecordTriageStep(success bool) {
	m.TriageSteps.Add(1)
	if !success {
		m.TriageStepFailures.Add(1)
	}
}

// RecordGraphWrite records a graph write attempt
func (m *Metrics) RecordGraphWrite(success bool) {
	m.GraphWrites.Add(1)
	if !success {
		m.GraphWriteErrors.Add(1)
	}
}

type metricLine struct {
	name  string
	help  string
	kind  string
	value int64
}

func (m *Metrics) lines() []metricLine {
	return []metricLine{
		{"taskpilot_model_attempts_total", "Total model calls", "counter", m.ModelAttempts.Load()},
		{"taskpilot_model_failures_total", "Total failed model calls", "counter", m.ModelFailures.Load()},
		{"taskpilot_quota_fallbacks_total", "Total fallbacks caused by quota errors", "counter", m.QuotaFallbacks.Load()},
		{"taskpilot_model_exhausted_total", "Total runs where every model failed", "counter", m.ModelExhausted.Load()},
		{"taskpilot_input_tokens_total", "Total prompt tokens reported by providers", "counter", m.InputTokens.Load()},
		{"taskpilot_output_tokens_total", "Total candidate tokens reported by providers", "counter", m.OutputTokens.Load()},
		{"taskpilot_ledger_writes_total", "Total ledger persist attempts", "counter", m.LedgerWrites.Load()},
		{"taskpilot_ledger_conflicts_total", "Total ledger writes rejected by a concurrent update", "counter", m.LedgerConflict.Load()},
		{"taskpilot_ledger_corrupt_total", "Total unparsable ledger comments", "counter", m.LedgerCorrupt.Load()},
		{"taskpilot_mirror_failures_total", "Total failed cost mirrors", "counter", m.MirrorFailures.Load()},
		{"taskpilot_selections_total", "Total selector runs", "counter", m.Selections.Load()},
		{"taskpilot_selections_empty_total", "Total selector runs without an eligible item", "counter", m.SelectionsEmpty.Load()},
		{"taskpilot_status_promotions_total", "Total items moved to In Progress", "counter", m.StatusPromotions.Load()},
		{"taskpilot_triage_steps_total", "Total triage steps", "counter", m.TriageSteps.Load()},
		{"taskpilot_triage_step_failures_total", "Total failed triage steps", "counter", m.TriageStepFailures.Load()},
		{"taskpilot_graph_writes_total", "Total audit graph writes", "counter", m.GraphWrites.Load()},
		{"taskpilot_graph_write_errors_total", "Total audit graph write failures", "counter", m.GraphWriteErrors.Load()},
		{"taskpilot_last_attempt_duration_ms", "Last model call duration", "gauge", m.LastAttemptDurationMs.Load()},
	}
}

// WriteTo renders every metric in Prometheus text format.
func (m *Metrics) WriteTo(w io.Writer) (int64, error) {
	var total int64
	write := func(format string, args ...any) error {
		n, err := fmt.Fprintf(w, format, args...)
		total += int64(n)
		return err
	}

	uptime := time.Since(m.startTime).Seconds()
	if err := write("# HELP taskpilot_uptime_seconds Time since taskpilot started\n# TYPE taskpilot_uptime_seconds gauge\ntaskpilot_uptime_seconds %.2f\n", uptime); err != nil {
		return total, err
	}
	for _, l := range m.lines() {
		if err := write("\n# HELP %s %s\n# TYPE %s %s\n%s %d\n", l.name, l.help, l.name, l.kind, l.name, l.value); err != nil {
			return total, err
		}
	}
	return total, nil
}

// Handler returns an HTTP handler for /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m.WriteTo(w)
	}
}

// WriteTextfile writes a node-exporter textfile atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".taskpilot-metrics-*")
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := m.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write metrics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
