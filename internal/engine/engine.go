package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/repo"
	"taskline/internal/token"
)

// ErrBadCredentials covers both unknown username and wrong password so that
// login failures are indistinguishable to the caller.
var ErrBadCredentials = errors.New("bad credentials")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Tokens token.Service
	Now    func() time.Time
}

func New(db *sql.DB, tokens token.Service) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Tokens: tokens,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// RegisterOptions are parameters for creating an account.
type RegisterOptions struct {
	Username string
	Email    string
	Password string
}

// Register creates a new PLAIN user. Duplicate username or email surfaces
// as a storage constraint error for the boundary to translate.
func (e Engine) Register(ctx context.Context, opts RegisterOptions) (domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := domain.User{
		Username:     opts.Username,
		Email:        opts.Email,
		PasswordHash: string(hash),
		Role:         domain.RolePlain,
		CreatedAt:    e.timestamp(),
	}
	return e.Repo.InsertUser(ctx, u)
}

// Login verifies credentials and issues a session token.
func (e Engine) Login(ctx context.Context, username, password string) (string, error) {
	u, err := e.Repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrBadCredentials
		}
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", ErrBadCredentials
	}
	return e.Tokens.Issue(u.Username, u.Role)
}

// ChangeRole overwrites the user's role unconditionally. The ROOT_ADMIN
// route gate is the only guard; there is no last-root-admin protection.
func (e Engine) ChangeRole(ctx context.Context, username string, role domain.Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %s", role)
	}
	u, err := e.Repo.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	return e.Repo.UpdateUserRole(ctx, u.ID, role)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title       string
	Description string
	Priority    domain.TaskPriority
	Executor    *string
}

// CreateTask creates a task authored by the caller. Status always starts
// at AWAITING regardless of anything the request supplied.
func (e Engine) CreateTask(ctx context.Context, caller domain.User, opts TaskCreateOptions) (domain.Task, error) {
	if !opts.Priority.Valid() {
		return domain.Task{}, fmt.Errorf("invalid priority %s", opts.Priority)
	}
	now := e.timestamp()
	t := domain.Task{
		Title:       opts.Title,
		Description: opts.Description,
		Status:      domain.StatusAwaiting,
		Priority:    opts.Priority,
		AuthorID:    caller.ID,
		Author:      caller.Username,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Executor != nil {
		executor, err := e.Repo.GetUserByUsername(ctx, *opts.Executor)
		if err != nil {
			return domain.Task{}, err
		}
		t.ExecutorID = &executor.ID
		t.Executor = &executor.Username
	}
	id, err := e.Repo.InsertTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	t.ID = id
	return t, nil
}

// TaskUpdateOptions carries the optional fields of a change request.
// A nil field is left untouched.
type TaskUpdateOptions struct {
	ID          int64
	Title       *string
	Description *string
	Status      *domain.TaskStatus
	Priority    *domain.TaskPriority
	Executor    *string
}

// UpdateTask applies the present fields in a fixed order, re-checking
// permission per field: title, description and priority and executor
// reassignment need the admin role, status needs executor-or-admin access.
// The first denial aborts the call, so either every requested field commits
// or none does.
func (e Engine) UpdateTask(ctx context.Context, caller domain.User, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return domain.Task{}, err
	}

	if opts.Title != nil {
		if err := auth.RequireAdmin(caller); err != nil {
			return domain.Task{}, err
		}
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		if err := auth.RequireAdmin(caller); err != nil {
			return domain.Task{}, err
		}
		t.Description = *opts.Description
	}
	if opts.Status != nil {
		if err := auth.RequireTaskAccess(caller, t); err != nil {
			return domain.Task{}, err
		}
		if !opts.Status.Valid() {
			return domain.Task{}, fmt.Errorf("invalid status %s", *opts.Status)
		}
		if !t.HasExecutor() && opts.Executor == nil {
			return domain.Task{}, fmt.Errorf("can't change task status: executor required")
		}
		t.Status = *opts.Status
	}
	if opts.Priority != nil {
		if err := auth.RequireAdmin(caller); err != nil {
			return domain.Task{}, err
		}
		if !opts.Priority.Valid() {
			return domain.Task{}, fmt.Errorf("invalid priority %s", *opts.Priority)
		}
		t.Priority = *opts.Priority
	}
	if opts.Executor != nil {
		if err := auth.RequireAdmin(caller); err != nil {
			return domain.Task{}, err
		}
		executor, err := e.Repo.GetUserByUsername(ctx, *opts.Executor)
		if err != nil {
			return domain.Task{}, err
		}
		t.ExecutorID = &executor.ID
		t.Executor = &executor.Username
	}

	t.UpdatedAt = e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// DeleteTask removes the task and, through the cascade, its comments.
func (e Engine) DeleteTask(ctx context.Context, id int64) error {
	if err := e.Repo.EnsureTaskExists(ctx, id); err != nil {
		return err
	}
	return e.Repo.DeleteTask(ctx, id)
}

// TaskInfo returns a task with its full comment list. Reads are not
// ownership-filtered.
func (e Engine) TaskInfo(ctx context.Context, id int64) (domain.Task, []domain.Comment, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, nil, err
	}
	comments, err := e.Repo.ListCommentsByTask(ctx, id, nil)
	if err != nil {
		return domain.Task{}, nil, err
	}
	return t, comments, nil
}

// OwnedTasks lists tasks authored by the user; unknown users fail.
func (e Engine) OwnedTasks(ctx context.Context, username string, page *domain.Page) ([]domain.Task, error) {
	if err := e.Repo.EnsureUserExists(ctx, username); err != nil {
		return nil, err
	}
	return e.Repo.ListTasksByAuthor(ctx, username, page)
}

// WorkTasks lists tasks assigned to the user; unknown users fail.
func (e Engine) WorkTasks(ctx context.Context, username string, page *domain.Page) ([]domain.Task, error) {
	if err := e.Repo.EnsureUserExists(ctx, username); err != nil {
		return nil, err
	}
	return e.Repo.ListTasksByExecutor(ctx, username, page)
}

// CommentCreateOptions are parameters for commenting on a task.
type CommentCreateOptions struct {
	TaskID int64
	Text   string
}

// CreateComment appends a comment authored by the caller. Only the task's
// executor or an admin may comment.
func (e Engine) CreateComment(ctx context.Context, caller domain.User, opts CommentCreateOptions) (domain.Comment, error) {
	t, err := e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		return domain.Comment{}, err
	}
	if err := auth.RequireTaskAccess(caller, t); err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{
		TaskID:    t.ID,
		AuthorID:  caller.ID,
		Author:    caller.Username,
		Text:      opts.Text,
		CreatedAt: e.timestamp(),
	}
	return e.Repo.InsertComment(ctx, c)
}

// Comments lists a task's comments; the task must exist.
func (e Engine) Comments(ctx context.Context, taskID int64, page *domain.Page) ([]domain.Comment, error) {
	if err := e.Repo.EnsureTaskExists(ctx, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListCommentsByTask(ctx, taskID, page)
}
