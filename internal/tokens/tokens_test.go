package tokens

import (
	"strings"
	"testing"
)

func TestCount(t *testing.T) {
	tests := []struct {
		name string
		text string
		min  int // minimum expected tokens
		max  int // maximum expected tokens
	}{
		{"empty", "", 0, 0},
		{"hello", "hello", 1, 2},
		{"sentence", "The quick brown fox jumps over the lazy dog.", 8, 12},
		{"code", "func main() { fmt.Println(\"hello\") }", 8, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Count(tt.text)
			if got < tt.min || got > tt.max {
				t.Errorf("Count(%q) = %d, want between %d and %d", tt.text, got, tt.min, tt.max)
			}
		})
	}
}

func TestEstimatePrompt(t *testing.T) {
	text := strings.Repeat("select the next backlog item ", 20)
	est := EstimatePrompt(text)

	if est.Heuristic != (len(text)+3)/4 {
		t.Errorf("Heuristic = %d, want %d", est.Heuristic, (len(text)+3)/4)
	}
	if est.Counted <= 0 {
		t.Errorf("Counted = %d, want > 0", est.Counted)
	}
	if !est.Exact && est.Counted != est.Heuristic {
		t.Errorf("fallback count %d should equal heuristic %d", est.Counted, est.Heuristic)
	}
}

func TestFits(t *testing.T) {
	if !Fits("hello", 10) {
		t.Error("Fits should be true for a tiny prompt")
	}
	if Fits(strings.Repeat("word ", 1000), 5) {
		t.Error("Fits should be false for a large prompt")
	}
}
