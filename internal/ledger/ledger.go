// Package ledger accumulates per-record outcomes for a single run and
// writes the summary artifacts exactly once at process termination.
package ledger

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vertex-labs/crmsync/internal/model"
	"github.com/vertex-labs/crmsync/internal/ratelimit"
)

// ErrorEntry is one failed, skipped or data-quality outcome, with enough
// identity (natural keys plus warehouse id) for manual remediation.
type ErrorEntry struct {
	Timestamp time.Time       `json:"ts"`
	FactID    string          `json:"fact_id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	ContactID string          `json:"contact_id"`
	Kind      model.ErrorKind `json:"kind"`
	Status    int             `json:"status,omitempty"`
	Message   string          `json:"message"`
}

// Outcome is the terminal result of one record's pipeline. Exactly one
// Outcome is recorded per record.
type Outcome struct {
	FactID    string
	Name      string
	Email     string
	ContactID string
	Kind      model.OutcomeKind
	ErrKind   model.ErrorKind
	Status    int
	Err       error
}

// Options configures ledger output.
type Options struct {
	// OutDir receives the summary artifacts. Default "sync-output".
	OutDir string
	// Label selects artifact file names, e.g. "contact-sync". Default "sync".
	Label string
	// ProgressEvery logs a structured progress line every N records.
	// Default 100.
	ProgressEvery int
	// StatusOut receives the live single-line status (carriage-return
	// anchored). Nil disables it.
	StatusOut io.Writer
	// Quota supplies remote quota telemetry for progress lines; optional.
	Quota *ratelimit.State
}

// Ledger tracks the counters, errors and cursor for one run. Counter
// updates are atomic: tasks complete out of order and several may be
// between suspension points at once.
type Ledger struct {
	runID   string
	started time.Time
	opts    Options

	processed atomic.Int64
	ok        atomic.Int64
	fail      atomic.Int64
	dup       atomic.Int64

	mu            sync.Mutex
	errors        []ErrorEntry
	inserted      []string
	updated       []string
	lastProcessed string
	cursor        string
	lastStatusLen int

	flushOnce sync.Once
}

// New creates a Ledger for a fresh run.
func New(opts Options) *Ledger {
	if opts.OutDir == "" {
		opts.OutDir = "sync-output"
	}
	if opts.Label == "" {
		opts.Label = "sync"
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 100
	}
	return &Ledger{
		runID:   uuid.New().String(),
		started: time.Now(),
		opts:    opts,
	}
}

// RunID returns the run's unique identifier.
func (l *Ledger) RunID() string { return l.runID }

// RecordOutcome updates the counters and, for failures and duplicates,
// appends an ErrorEntry. Call exactly once per record.
func (l *Ledger) RecordOutcome(o Outcome) {
	l.processed.Add(1)
	switch o.Kind {
	case model.OutcomeOK:
		l.ok.Add(1)
	case model.OutcomeDuplicate:
		l.dup.Add(1)
		l.appendError(o, "skipped duplicate")
	case model.OutcomeFailed:
		l.fail.Add(1)
		l.appendError(o, "")
	}

	l.mu.Lock()
	l.lastProcessed = fmt.Sprintf("Name: %s, ContactID: %s, Email: %s", o.Name, o.ContactID, o.Email)
	l.mu.Unlock()

	n := l.processed.Load()
	l.renderStatus()
	if n%int64(l.opts.ProgressEvery) == 0 {
		l.logProgress(n)
	}
}

// RecordDataQuality appends a non-fatal data-quality entry (e.g. an
// unparsable email). It does not touch the outcome counters; the record
// itself may still succeed.
func (l *Ledger) RecordDataQuality(factID, name, email string, kind model.ErrorKind, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, ErrorEntry{
		Timestamp: time.Now(),
		FactID:    factID,
		Name:      name,
		Email:     email,
		Kind:      kind,
		Message:   truncateMessage(msg),
	})
}

// NoteInserted records a warehouse row created by the pull pipeline.
func (l *Ledger) NoteInserted(factID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inserted = append(l.inserted, factID)
}

// NoteUpdated records a warehouse row updated by the pull pipeline.
func (l *Ledger) NoteUpdated(factID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updated = append(l.updated, factID)
}

// SetCursor stores the resumption cursor (offset or opaque token) to be
// reported in the summary.
func (l *Ledger) SetCursor(cursor string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cursor = cursor
}

func (l *Ledger) appendError(o Outcome, fallbackMsg string) {
	msg := fallbackMsg
	if o.Err != nil {
		msg = o.Err.Error()
	}
	kind := o.ErrKind
	if kind == "" {
		kind = model.ErrKindAPI
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, ErrorEntry{
		Timestamp: time.Now(),
		FactID:    o.FactID,
		Name:      o.Name,
		Email:     o.Email,
		ContactID: o.ContactID,
		Kind:      kind,
		Status:    o.Status,
		Message:   truncateMessage(msg),
	})
}

// Totals returns (processed, ok, fail, dup).
func (l *Ledger) Totals() (int64, int64, int64, int64) {
	return l.processed.Load(), l.ok.Load(), l.fail.Load(), l.dup.Load()
}

// Errors returns a copy of the error entries recorded so far.
func (l *Ledger) Errors() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ErrorEntry, len(l.errors))
	copy(out, l.errors)
	return out
}

func (l *Ledger) renderStatus() {
	if l.opts.StatusOut == nil {
		return
	}
	processed, ok, fail, dup := l.Totals()

	l.mu.Lock()
	last := l.lastProcessed
	if len(last) > 80 {
		last = last[:80]
	}
	if last == "" {
		last = "N/A"
	}
	line := fmt.Sprintf("Processed: %d | ok=%d fail=%d dup=%d | Last: %s", processed, ok, fail, dup, last)
	pad := ""
	if l.lastStatusLen > len(line) {
		pad = strings.Repeat(" ", l.lastStatusLen-len(line))
	}
	l.lastStatusLen = len(line)
	fmt.Fprintf(l.opts.StatusOut, "\r%s%s", line, pad)
	l.mu.Unlock()
}

func (l *Ledger) logProgress(n int64) {
	_, ok, fail, dup := l.Totals()
	fields := []zap.Field{
		zap.Int64("processed", n),
		zap.Int64("ok", ok),
		zap.Int64("fail", fail),
		zap.Int64("dup", dup),
	}
	if l.opts.Quota != nil {
		q := l.opts.Quota.Snapshot()
		if q.Seen {
			fields = append(fields,
				zap.Int("window_remaining", q.WindowRemaining),
				zap.Int("daily_remaining", q.DailyRemaining),
				zap.Int("daily_limit", q.DailyLimit),
			)
		}
	}
	zap.L().Info("progress", fields...)
}

func truncateMessage(msg string) string {
	one := strings.Join(strings.Fields(msg), " ")
	if len(one) > 180 {
		return one[:180] + "…"
	}
	return one
}
