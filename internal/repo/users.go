package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
)

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) (domain.User, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO users(username,email,password_hash,role,created_at) VALUES (?,?,?,?,?)`,
		u.Username, u.Email, u.PasswordHash, u.Role, u.CreatedAt)
	if err != nil {
		return domain.User{}, err
	}
	u.ID, err = res.LastInsertId()
	return u, err
}

func (r Repo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		`SELECT id,username,email,password_hash,role,created_at FROM users WHERE username=?`, username))
}

// EnsureUserExists fails with ErrNotFound instead of reporting false.
// Callers treat existence as exists-or-fail; keep it that way.
func (r Repo) EnsureUserExists(ctx context.Context, username string) error {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM users WHERE username=? LIMIT 1`, username).Scan(&n)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

func (r Repo) UpdateUserRole(ctx context.Context, id int64, role domain.Role) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET role=? WHERE id=?`, role, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,username,email,password_hash,role,created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
