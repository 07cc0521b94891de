// Package ledger keeps an append-only record of model usage per work item,
// persisted as a single machine-owned issue comment.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCorruptLedger means a ledger comment exists but its payload cannot be read.
var ErrCorruptLedger = errors.New("corrupt ledger payload")

// OperationRecord is one priced model call.
type OperationRecord struct {
	ID           string    `json:"id"`
	Operation    string    `json:"operation"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	Cost         float64   `json:"cost"`
	Timestamp    time.Time `json:"timestamp"`
}

// Ledger totals are always the sum over Operations.
type Ledger struct {
	TotalInputTokens  int               `json:"totalInputTokens"`
	TotalOutputTokens int               `json:"totalOutputTokens"`
	TotalCost         float64           `json:"totalCost"`
	Operations        []OperationRecord `json:"operations"`
}

// Append adds rec and recomputes the totals.
func (l *Ledger) Append(rec OperationRecord) {
	l.Operations = append(l.Operations, rec)
	l.recompute()
}

func (l *Ledger) recompute() {
	l.TotalInputTokens, l.TotalOutputTokens, l.TotalCost = 0, 0, 0
	for _, op := range l.Operations {
		l.TotalInputTokens += op.InputTokens
		l.TotalOutputTokens += op.OutputTokens
		l.TotalCost += op.Cost
	}
}

// Key is the structured identity of the ledger comment for an issue.
func Key(number int) string {
	return fmt.Sprintf("taskpilot:ledger:%d", number)
}

const (
	dataOpen  = "<!-- taskpilot:ledger-data "
	dataClose = " -->"
)

// Render produces the comment body: a readable table followed by the ledger
// JSON inside an HTML comment. encoding/json escapes '<' and '>', so the
// payload can never terminate the comment early.
func Render(l *Ledger) string {
	var sb strings.Builder

	sb.WriteString("### Model usage\n\n")
	if len(l.Operations) == 0 {
		sb.WriteString("_No operations recorded._\n")
	} else {
		sb.WriteString("| # | Operation | Model | Input | Output | Cost (USD) | When (UTC) |\n")
		sb.WriteString("|---|---|---|---:|---:|---:|---|\n")
		for i, op := range l.Operations {
			fmt.Fprintf(&sb, "| %d | %s | `%s` | %d | %d | $%.6f | %s |\n",
				i+1, escapeCell(op.Operation), op.Model, op.InputTokens, op.OutputTokens, op.Cost,
				op.Timestamp.UTC().Format("2006-01-02 15:04"))
		}
	}
	fmt.Fprintf(&sb, "\n**Total:** %d input tokens, %d output tokens, $%.6f\n",
		l.TotalInputTokens, l.TotalOutputTokens, l.TotalCost)

	data, err := json.Marshal(l)
	if err != nil {
		// Ledger holds only plain values; Marshal cannot fail.
		panic(fmt.Sprintf("marshal ledger: %v", err))
	}
	sb.WriteString("\n")
	sb.WriteString(dataOpen)
	sb.Write(data)
	sb.WriteString(dataClose)
	sb.WriteString("\n")
	return sb.String()
}

// Parse reads the ledger payload out of a comment body. Totals are
// recomputed rather than trusted. Only an unreadable payload is corrupt.
func Parse(body string) (*Ledger, error) {
	start := strings.Index(body, dataOpen)
	if start < 0 {
		return nil, fmt.Errorf("%w: data marker missing", ErrCorruptLedger)
	}
	rest := body[start+len(dataOpen):]
	end := strings.Index(rest, dataClose)
	if end < 0 {
		return nil, fmt.Errorf("%w: data marker not closed", ErrCorruptLedger)
	}

	var l Ledger
	if err := json.Unmarshal([]byte(rest[:end]), &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptLedger, err)
	}
	// Hand-edited entries such as refunds may be negative; they are kept
	// and summed like any other operation.
	l.recompute()
	return &l, nil
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
