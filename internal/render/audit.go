package render

import (
	"github.com/joss/taskpilot/internal/audit"
)

// AuditEvents renders a list of audit events.
func (r *Renderer) AuditEvents(events []audit.AuditEvent) {
	if len(events) == 0 {
		r.Empty("No audit events found")
		return
	}

	r.header("Audit log (%d events)", len(events))

	for _, e := range events {
		line := e.StartedAt.Format("2006-01-02 15:04:05") + " " + string(e.Category) + "/" + e.Operation
		if e.Issue > 0 {
			r.Println("%s %s #%d (%s)", StatusIcon(string(e.Status)), line, e.Issue, FormatDuration(e.Duration))
		} else {
			r.Println("%s %s (%s)", StatusIcon(string(e.Status)), line, FormatDuration(e.Duration))
		}
		if e.ErrorMessage != "" && e.Status == audit.StatusError {
			r.Nested("%s", Truncate(e.ErrorMessage, 70))
		}
	}
}

// AuditStats renders per-category statistics.
func (r *Renderer) AuditStats(stats []audit.Stats) {
	if len(stats) == 0 {
		r.Empty("No audit events found")
		return
	}
	r.header("Audit statistics")
	for _, s := range stats {
		r.Item("%-10s %5d total  %4d errors  avg %.0fms", string(s.Category)+":", s.Total, s.Errors, s.AvgDurationMs)
	}
}
