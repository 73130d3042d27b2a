// Package writer applies interpreted updates to task records.
package writer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"statusline/internal/domain"
	"statusline/internal/metrics"
	"statusline/internal/repo"
)

// WriteError reports a failed store write.
type WriteError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

func New(r repo.Repo) Writer {
	return Writer{Repo: r, Now: time.Now}
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Apply changes only the fields set on m and always stamps last_update.
func (w Writer) Apply(ctx context.Context, taskID string, m domain.Mutation) error {
	f := repo.TaskFields{
		Status:         m.Status,
		Progress:       m.Progress,
		NeedsAttention: m.NeedsAttention,
		LastUpdate:     w.now().UTC().Format(time.RFC3339),
	}
	if m.Blocker != nil {
		b := domain.TruncateText(*m.Blocker, domain.MaxTextLength)
		f.Blocker = &b
	}
	err := w.Repo.UpdateTaskFields(ctx, taskID, f)
	metrics.IncrementStoreWrite("apply", err)
	if err != nil {
		return &WriteError{Op: "apply", TaskID: taskID, Err: err}
	}
	return nil
}

// AppendLog adds line to the task's update log, dropping the oldest text once
// the log exceeds domain.MaxTextLength. Not atomic with Apply.
func (w Writer) AppendLog(ctx context.Context, taskID, line string) error {
	t, err := w.Repo.GetTask(ctx, taskID)
	if err != nil {
		metrics.IncrementStoreWrite("append_log", err)
		return &WriteError{Op: "append log", TaskID: taskID, Err: err}
	}
	next := JoinLog(t.UpdateLog, line, domain.MaxTextLength)
	err = w.Repo.SetUpdateLog(ctx, taskID, next)
	metrics.IncrementStoreWrite("append_log", err)
	if err != nil {
		return &WriteError{Op: "append log", TaskID: taskID, Err: err}
	}
	return nil
}

// JoinLog appends line to current and keeps the newest max runes. When the cut
// lands inside an older line, the rest of that line is dropped too. The newest
// line is never trimmed at its head, even if it spans several lines itself.
func JoinLog(current, line string, max int) string {
	next := strings.TrimSpace(current + "\n" + line)
	r := []rune(next)
	if len(r) <= max {
		return next
	}
	cut := len(r) - max
	boundary := len(r) - len([]rune(strings.TrimSpace(line)))
	if cut >= boundary || r[cut-1] == '\n' {
		return string(r[cut:])
	}
	for i := cut; i < boundary; i++ {
		if r[i] == '\n' {
			return string(r[i+1:])
		}
	}
	return string(r[boundary:])
}
