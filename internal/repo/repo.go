package repo

import (
	"database/sql"
	"errors"
)

// Repo is the persistence layer over SQLite.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
