// Package logging provides structured JSON logging for taskpilot components.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event represents a structured log event
type Event struct {
	Timestamp string                 `json:"ts"`
	Level     Level                  `json:"level"`
	Component string                 `json:"component"`
	Event     string                 `json:"event"`
	Run       string                 `json:"run,omitempty"`
	Issue     int                    `json:"issue,omitempty"`
	Duration  int64                  `json:"duration_ms,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Logger provides structured logging
type Logger struct {
	component string
	run       string
	issue     int
	debug     bool
	out       io.Writer
	mu        *sync.Mutex
}

// New creates a new logger for a component
func New(component string) *Logger {
	return &Logger{
		component: component,
		run:       os.Getenv("TASKPILOT_RUN_ID"),
		debug:     os.Getenv("TASKPILOT_DEBUG") == "1",
		out:       os.Stderr,
		mu:        &sync.Mutex{},
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard(component string) *Logger {
	return New(component).WithOutput(io.Discard)
}

func (l *Logger) clone() *Logger {
	c := *l
	return &c
}

// WithRun sets the run context
func (l *Logger) WithRun(run string) *Logger {
	c := l.clone()
	c.run = run
	return c
}

// WithIssue sets the work item context
func (l *Logger) WithIssue(number int) *Logger {
	c := l.clone()
	c.issue = number
	return c
}

// WithComponent returns a logger for a sub-component sharing the same sink.
func (l *Logger) WithComponent(component string) *Logger {
	c := l.clone()
	c.component = component
	return c
}

// WithOutput redirects the logger
func (l *Logger) WithOutput(w io.Writer) *Logger {
	c := l.clone()
	c.out = w
	c.mu = &sync.Mutex{}
	return c
}

// WithDebug toggles debug events
func (l *Logger) WithDebug(on bool) *Logger {
	c := l.clone()
	c.debug = on
	return c
}

// log emits a structured log event
func (l *Logger) log(level Level, event string, extra map[string]interface{}, err error, d time.Duration) {
	if level == LevelDebug && !l.debug {
		return
	}

	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Component: l.component,
		Event:     event,
		Run:       l.run,
		Issue:     l.issue,
		Duration:  d.Milliseconds(),
		Extra:     extra,
	}

	if err != nil {
		e.Error = err.Error()
	}

	data, _ := json.Marshal(e)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]interface{}) {
	l.log(LevelDebug, event, extra, nil, 0)
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]interface{}) {
	l.log(LevelInfo, event, extra, nil, 0)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]interface{}, err error) {
	l.log(LevelWarn, event, extra, err, 0)
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]interface{}, err error) {
	l.log(LevelError, event, extra, err, 0)
}

// TimedEvent logs an event with duration
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]interface{}) {
	l.log(LevelInfo, event, extra, nil, time.Since(start))
}
