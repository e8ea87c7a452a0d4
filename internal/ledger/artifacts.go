package ledger

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Summary is the machine-readable run summary written at flush.
type Summary struct {
	RunID         string       `json:"run_id"`
	Timestamp     time.Time    `json:"timestamp"`
	ExitCode      int          `json:"exit_code"`
	ExecutionSecs float64      `json:"execution_time_secs"`
	Processed     int64        `json:"processed"`
	OK            int64        `json:"ok"`
	Failed        int64        `json:"failed"`
	Duplicate     int64        `json:"duplicate"`
	Cursor        string       `json:"cursor,omitempty"`
	LastProcessed string       `json:"last_processed,omitempty"`
	InsertedIDs   []string     `json:"inserted_fact_ids,omitempty"`
	UpdatedIDs    []string     `json:"updated_fact_ids,omitempty"`
	Errors        []ErrorEntry `json:"errors"`
}

// Summarize assembles the current Summary without flushing.
func (l *Ledger) Summarize(exitCode int) Summary {
	processed, ok, fail, dup := l.Totals()

	l.mu.Lock()
	defer l.mu.Unlock()
	return Summary{
		RunID:         l.runID,
		Timestamp:     time.Now(),
		ExitCode:      exitCode,
		ExecutionSecs: time.Since(l.started).Seconds(),
		Processed:     processed,
		OK:            ok,
		Failed:        fail,
		Duplicate:     dup,
		Cursor:        l.cursor,
		LastProcessed: l.lastProcessed,
		InsertedIDs:   append([]string(nil), l.inserted...),
		UpdatedIDs:    append([]string(nil), l.updated...),
		Errors:        append([]ErrorEntry(nil), l.errors...),
	}
}

// Flush writes the three summary artifacts (text, JSON, errors CSV) to the
// output directory. It runs exactly once no matter how many exit paths
// reach it; subsequent calls are no-ops.
func (l *Ledger) Flush(exitCode int) {
	l.flushOnce.Do(func() {
		if l.opts.StatusOut != nil {
			// Drop the live status line so it does not bleed into the summary.
			fmt.Fprintln(l.opts.StatusOut)
		}
		if err := l.writeArtifacts(exitCode); err != nil {
			zap.L().Error("writing summary artifacts", zap.Error(err))
		}
	})
}

func (l *Ledger) writeArtifacts(exitCode int) error {
	if err := os.MkdirAll(l.opts.OutDir, 0o755); err != nil {
		return eris.Wrapf(err, "ledger: create output dir %s", l.opts.OutDir)
	}

	sum := l.Summarize(exitCode)
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(sum.Timestamp.UTC().Format(time.RFC3339))

	txtPath := filepath.Join(l.opts.OutDir, fmt.Sprintf("%s-summary-%s.txt", l.opts.Label, stamp))
	jsonPath := filepath.Join(l.opts.OutDir, fmt.Sprintf("%s-data-%s.json", l.opts.Label, stamp))
	csvPath := filepath.Join(l.opts.OutDir, fmt.Sprintf("%s-errors-%s.csv", l.opts.Label, stamp))

	if err := os.WriteFile(txtPath, []byte(sum.Text()), 0o644); err != nil {
		return eris.Wrap(err, "ledger: write text summary")
	}

	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return eris.Wrap(err, "ledger: marshal summary")
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return eris.Wrap(err, "ledger: write json summary")
	}

	if err := writeErrorCSV(csvPath, sum.Errors); err != nil {
		return err
	}

	zap.L().Info("summary artifacts written",
		zap.String("text", txtPath),
		zap.String("json", jsonPath),
		zap.String("csv", csvPath),
		zap.Int("errors", len(sum.Errors)),
	)
	return nil
}

// Text renders the human-readable summary block.
func (s Summary) Text() string {
	var b strings.Builder
	b.WriteString("=== SYNC SUMMARY ===\n")
	fmt.Fprintf(&b, "Run ID: %s\n", s.RunID)
	fmt.Fprintf(&b, "Timestamp: %s\n", s.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Exit Code: %d\n", s.ExitCode)
	fmt.Fprintf(&b, "Execution Time: %.1f seconds\n", s.ExecutionSecs)
	fmt.Fprintf(&b, "Processed: %d (ok=%d fail=%d dup=%d)\n", s.Processed, s.OK, s.Failed, s.Duplicate)
	if s.Cursor != "" {
		fmt.Fprintf(&b, "Resume Cursor: %s\n", s.Cursor)
	}
	if s.LastProcessed != "" {
		fmt.Fprintf(&b, "Last Processed: %s\n", s.LastProcessed)
	}
	if len(s.InsertedIDs) > 0 {
		fmt.Fprintf(&b, "Inserted Fact IDs: %s\n", strings.Join(s.InsertedIDs, ", "))
	}
	if len(s.UpdatedIDs) > 0 {
		fmt.Fprintf(&b, "Updated Fact IDs: %s\n", strings.Join(s.UpdatedIDs, ", "))
	}
	fmt.Fprintf(&b, "\nERRORS (%d):\n", len(s.Errors))
	for i, e := range s.Errors {
		fmt.Fprintf(&b, "%d. [%s] Name: %s, Email: %s, ContactID: %s, FactID: %s, Reason: %s\n",
			i+1, e.Kind, e.Name, e.Email, e.ContactID, e.FactID, e.Message)
	}
	b.WriteString("====================\n")
	return b.String()
}

func writeErrorCSV(path string, entries []ErrorEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "ledger: create error csv")
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write([]string{"ts", "fact_id", "name", "email", "contact_id", "kind", "status", "message"}); err != nil {
		return eris.Wrap(err, "ledger: write csv header")
	}
	for _, e := range entries {
		status := ""
		if e.Status != 0 {
			status = strconv.Itoa(e.Status)
		}
		row := []string{
			e.Timestamp.Format(time.RFC3339),
			e.FactID, e.Name, e.Email, e.ContactID,
			string(e.Kind), status, e.Message,
		}
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "ledger: write csv row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "ledger: flush csv")
}
