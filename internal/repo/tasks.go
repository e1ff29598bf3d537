package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
)

const taskColumns = `t.id,t.title,t.description,t.status,t.priority,
t.author_id,a.username,t.executor_id,e.username,t.created_at,t.updated_at`

const taskFrom = `FROM tasks t
JOIN users a ON a.id=t.author_id
LEFT JOIN users e ON e.id=t.executor_id`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var executorID sql.NullInt64
	var executor sql.NullString
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&t.AuthorID, &t.Author, &executorID, &executor, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if executorID.Valid {
		t.ExecutorID = &executorID.Int64
	}
	if executor.Valid {
		t.Executor = &executor.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(title,description,status,priority,author_id,executor_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		t.Title, t.Description, t.Status, t.Priority, t.AuthorID, nullableInt64Ptr(t.ExecutorID), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx,
		`SELECT `+taskColumns+` `+taskFrom+` WHERE t.id=?`, id))
}

// EnsureTaskExists fails with ErrNotFound when the task is absent.
func (r Repo) EnsureTaskExists(ctx context.Context, id int64) error {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id=? LIMIT 1`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

// UpdateTaskTx writes all mutable task fields in the caller's transaction.
func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?,description=?,status=?,priority=?,executor_id=?,updated_at=? WHERE id=?`,
		t.Title, t.Description, t.Status, t.Priority, nullableInt64Ptr(t.ExecutorID), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes the task; its comments go with it via cascade.
func (r Repo) DeleteTask(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListTasksByAuthor(ctx context.Context, username string, page *domain.Page) ([]domain.Task, error) {
	return r.listTasks(ctx, `WHERE a.username=?`, username, page)
}

func (r Repo) ListTasksByExecutor(ctx context.Context, username string, page *domain.Page) ([]domain.Task, error) {
	return r.listTasks(ctx, `WHERE e.username=?`, username, page)
}

func (r Repo) listTasks(ctx context.Context, where string, username string, page *domain.Page) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` ` + taskFrom + ` ` + where + ` ORDER BY t.id`
	args := []any{username}
	if page != nil {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, page.Size, page.Number*page.Size)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
