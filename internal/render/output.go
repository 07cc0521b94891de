package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/joss/taskpilot/internal/executor"
	"github.com/joss/taskpilot/internal/ledger"
	"github.com/joss/taskpilot/internal/pricing"
	"github.com/joss/taskpilot/internal/selector"
	"github.com/joss/taskpilot/internal/tokens"
	"github.com/joss/taskpilot/internal/triage"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Renderer formats domain results for humans. With pretty off the output
// is plain text suitable for logs.
type Renderer struct {
	*Writer
	pretty bool
}

// New creates a new renderer.
func New(w io.Writer, pretty bool) *Renderer {
	return &Renderer{Writer: NewWriter(w), pretty: pretty}
}

func (r *Renderer) header(format string, args ...any) {
	s := title(fmt.Sprintf(format, args...))
	if r.pretty {
		r.Println("%s", headerStyle.Render(s))
		r.Println("%s", mutedStyle.Render(strings.Repeat("─", lipgloss.Width(s))))
		return
	}
	r.Println("%s", s)
}

func (r *Renderer) ok(b bool) string {
	if !r.pretty {
		return BoolIcon(b)
	}
	if b {
		return color.GreenString(BoolIcon(b))
	}
	return color.RedString(BoolIcon(b))
}

// Selection renders the dispatched unit.
func (r *Renderer) Selection(sel *selector.Selection) {
	if sel == nil {
		r.Empty("No eligible work item")
		return
	}
	r.header("Selected #%d", sel.Item.Number)
	r.Item("Title:     %s", sel.Item.Title)
	priority := string(sel.Item.Priority)
	if priority == "" {
		priority = "-"
	}
	r.Item("Priority:  %s", priority)
	if sel.IsSubIssue && sel.Parent != nil {
		r.Item("Parent:    #%d %s", sel.Parent.Number, Truncate(sel.Parent.Title, 50))
	}
	r.Item("Promoted:  %s", r.ok(sel.StatusUpdated))
}

// Result renders an executor result.
func (r *Renderer) Result(res *executor.Result) {
	r.header("Model %s", res.ModelUsed)
	r.Item("Tokens:    %d in / %d out", res.InputTokens, res.OutputTokens)
	r.Item("Attempts:  %d", res.Attempts)
	r.Line()
	if len(res.Data) > 0 {
		r.Println("%s", string(res.Data))
		return
	}
	r.Println("%s", res.RawText)
}

// Ledger renders the usage of one issue.
func (r *Renderer) Ledger(number int, l *ledger.Ledger) {
	r.header("Usage for #%d", number)
	if len(l.Operations) == 0 {
		r.Empty("No operations recorded")
		return
	}
	for _, op := range l.Operations {
		r.Item("%-16s %-24s %8d in %8d out  %s",
			Truncate(op.Operation, 16), op.Model, op.InputTokens, op.OutputTokens, FormatUSD(op.Cost))
	}
	r.Line()
	r.Item("Total: %d in / %d out, %s", l.TotalInputTokens, l.TotalOutputTokens, FormatUSD(l.TotalCost))
}

// Models renders the price table and chains.
func (r *Renderer) Models(t *pricing.Table) {
	r.header("Models")
	for _, m := range t.Models() {
		r.Item("%-32s %-10s in %s/M  out %s/M", m.ID, m.Tier, FormatUSD(m.InputPerMillion), FormatUSD(m.OutputPerMillion))
	}
	r.Line()
	r.header("Tiers")
	for _, tier := range t.Tiers() {
		chain, err := t.Chain(tier)
		if err != nil {
			continue
		}
		ids := make([]string, 0, len(chain))
		for _, m := range chain {
			ids = append(ids, m.ID)
		}
		r.Item("%-8s %s", tier, strings.Join(ids, " → "))
	}
}

// Cost renders one priced call.
func (r *Renderer) Cost(model string, in, out int, c pricing.Cost) {
	r.header("Cost on %s", model)
	r.Item("Input:   %8d tokens  %s", in, FormatUSD(c.InputCost))
	r.Item("Output:  %8d tokens  %s", out, FormatUSD(c.OutputCost))
	r.Item("Total:   %s", FormatUSD(c.TotalCost))
}

// Estimate renders a prompt size estimate and, when known, its input cost.
func (r *Renderer) Estimate(e tokens.Estimate, model string, c *pricing.Cost) {
	r.header("Prompt estimate")
	r.Item("Heuristic:  %d tokens", e.Heuristic)
	if e.Exact {
		r.Item("Encoder:    %d tokens", e.Counted)
	} else {
		r.Item("Encoder:    unavailable")
	}
	if c != nil {
		r.Item("Input cost: %s on %s", FormatUSD(c.InputCost), model)
	}
}

// TriageReports renders per-step outcomes.
func (r *Renderer) TriageReports(reports []*triage.Report) {
	for _, rep := range reports {
		r.header("Triage #%d", rep.IssueNumber)
		for _, s := range rep.Steps {
			switch {
			case s.Skipped:
				r.Item("%s %-9s skipped (%s)", StatusIcon("noop"), s.Name, s.Reason)
			case s.Err != nil:
				r.Item("%s %-9s %s", r.ok(false), s.Name, Truncate(s.Err.Error(), 70))
			default:
				r.Item("%s %s", r.ok(true), s.Name)
			}
		}
		r.Line()
	}
}

// Imported renders a local import summary.
func (r *Renderer) Imported(path string, items, issues int) {
	r.Println("%s imported %d items and %d issues into %s", r.ok(true), items, issues, path)
}
