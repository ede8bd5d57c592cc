// Package eventlog maintains the append-only JSONL audit trail for a run.
// Every pipeline step, provider attempt, budget tick, and tier change lands
// here; provenance is reconstructible by walking parent step IDs.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileName is the log file inside a run directory.
const FileName = "events.jsonl"

// Type enumerates the audit event kinds.
type Type string

const (
	NodeEnter         Type = "node_enter"
	NodeExit          Type = "node_exit"
	ErrorEvent        Type = "error"
	BudgetTick        Type = "budget_tick"
	TierChange        Type = "tier_change"
	CheckpointWritten Type = "checkpoint_written"
)

// Event is one JSONL entry.
type Event struct {
	TS       time.Time              `json:"ts"`
	StepID   string                 `json:"step_id"`
	ParentID string                 `json:"parent_id,omitempty"`
	Event    Type                   `json:"event"`
	Node     string                 `json:"node"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

// Log appends events for a single run. Appends flush to the OS before
// returning; durability comes from the checkpoint fsync, not from here.
type Log struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	path   string
	lastTS time.Time
	now    func() time.Time
}

// Open creates or reopens the run's event log in append mode.
func Open(runDir string) (*Log, error) {
	path := filepath.Join(runDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &Log{f: f, w: bufio.NewWriter(f), path: path, now: time.Now}, nil
}

// NewStepID mints a step identifier in the form "<node>-<8 hex>".
func NewStepID(node string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return node + "-" + id[:8]
}

// Append stamps and writes one event. A zero StepID is filled from the node
// name; timestamps are forced monotone non-decreasing within the log.
func (l *Log) Append(ev Event) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return Event{}, fmt.Errorf("event log closed")
	}
	if ev.StepID == "" {
		ev.StepID = NewStepID(ev.Node)
	}
	ts := l.now().UTC()
	if ts.Before(l.lastTS) {
		ts = l.lastTS
	}
	l.lastTS = ts
	ev.TS = ts

	line, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("encode event: %w", err)
	}
	if _, err := l.w.Write(line); err != nil {
		return Event{}, fmt.Errorf("write event: %w", err)
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return Event{}, fmt.Errorf("write event: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return Event{}, fmt.Errorf("flush event: %w", err)
	}
	return ev, nil
}

// Path returns the backing file path.
func (l *Log) Path() string { return l.path }

// Close flushes and closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		l.f = nil
		return err
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Replay reads back every event in append order. Truncated trailing lines
// (a crash mid-append) are skipped rather than failing the whole replay.
func Replay(runDir string) ([]Event, error) {
	path := filepath.Join(runDir, FileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("scan event log: %w", err)
	}
	return events, nil
}

// ProvenanceChain walks parent links from the given step back to the root,
// returning the chain root-first.
func ProvenanceChain(events []Event, stepID string) []Event {
	byID := make(map[string]Event, len(events))
	for _, ev := range events {
		if _, ok := byID[ev.StepID]; !ok {
			byID[ev.StepID] = ev
		}
	}
	var chain []Event
	seen := make(map[string]struct{})
	cur := stepID
	for cur != "" {
		ev, ok := byID[cur]
		if !ok {
			break
		}
		if _, cycle := seen[cur]; cycle {
			break
		}
		seen[cur] = struct{}{}
		chain = append(chain, ev)
		cur = ev.ParentID
	}
	// reverse to root-first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}
