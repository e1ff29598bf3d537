package repo

import (
	"context"

	"taskline/internal/domain"
)

func (r Repo) InsertComment(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO comments(task_id,author_id,text,created_at) VALUES (?,?,?,?)`,
		c.TaskID, c.AuthorID, c.Text, c.CreatedAt)
	if err != nil {
		return domain.Comment{}, err
	}
	c.ID, err = res.LastInsertId()
	return c, err
}

func (r Repo) ListCommentsByTask(ctx context.Context, taskID int64, page *domain.Page) ([]domain.Comment, error) {
	query := `SELECT c.id,c.task_id,c.author_id,u.username,c.text,c.created_at
FROM comments c
JOIN users u ON u.id=c.author_id
WHERE c.task_id=? ORDER BY c.id`
	args := []any{taskID}
	if page != nil {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, page.Size, page.Number*page.Size)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Author, &c.Text, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
