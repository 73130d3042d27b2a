package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"statusline/internal/domain"
)

const taskColumns = `id,title,status,progress,due_date,owner_id,week_key,blocker,needs_attention,update_log,last_update,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var status, due, blocker, lastUpdate sql.NullString
	var progress sql.NullInt64
	var attention int
	err := row.Scan(&t.ID, &t.Title, &status, &progress, &due, &t.OwnerID, &t.WeekKey, &blocker, &attention, &t.UpdateLog, &lastUpdate, &t.CreatedAt)
	if err != nil {
		return t, err
	}
	if status.Valid {
		t.Status = status.String
	}
	if progress.Valid {
		p := int(progress.Int64)
		t.Progress = &p
	}
	if due.Valid {
		t.DueDate = &due.String
	}
	if blocker.Valid {
		t.Blocker = &blocker.String
	}
	if lastUpdate.Valid {
		t.LastUpdate = &lastUpdate.String
	}
	t.NeedsAttention = attention != 0
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	if t.ID == "" {
		return errors.New("task id required")
	}
	if t.OwnerID == "" || t.WeekKey == "" {
		return errors.New("task owner and week are required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Status), nullableIntPtr(t.Progress), nullableStringPtr(t.DueDate), t.OwnerID, t.WeekKey,
		nullableStringPtr(t.Blocker), boolInt(t.NeedsAttention), t.UpdateLog, nullableStringPtr(t.LastUpdate), t.CreatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

type TaskFilters struct {
	OwnerID string
	WeekKey string
	Limit   int
}

// ListTasks returns tasks sorted by due date ascending; undated tasks sort last.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.WeekKey != "" {
		clauses = append(clauses, "week_key=?")
		args = append(args, f.WeekKey)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY due_date IS NULL, due_date ASC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TaskFields is a partial update; nil fields are left as stored.
type TaskFields struct {
	Status         *string
	Progress       *int
	Blocker        *string
	NeedsAttention *bool
	LastUpdate     string
}

func (r Repo) UpdateTaskFields(ctx context.Context, id string, f TaskFields) error {
	var (
		fields []string
		args   []any
	)
	if f.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, nullableStringPtr(f.Status))
	}
	if f.Progress != nil {
		fields = append(fields, "progress=?")
		args = append(args, *f.Progress)
	}
	if f.Blocker != nil {
		fields = append(fields, "blocker=?")
		args = append(args, *f.Blocker)
	}
	if f.NeedsAttention != nil {
		fields = append(fields, "needs_attention=?")
		args = append(args, boolInt(*f.NeedsAttention))
	}
	if f.LastUpdate != "" {
		fields = append(fields, "last_update=?")
		args = append(args, f.LastUpdate)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetUpdateLog(ctx context.Context, id, text string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET update_log=? WHERE id=?`, text, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
