package tasklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task view.
type Task struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	Author      string  `json:"author"`
	Executor    *string `json:"executor,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// TaskInfo is a task with its comments.
type TaskInfo struct {
	Task
	Comments []Comment `json:"comments"`
}

// Comment represents a task comment.
type Comment struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// User represents a registered account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// ChangeTaskRequest carries the optional fields of a task change.
type ChangeTaskRequest struct {
	ID          int64   `json:"id"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	Executor    *string `json:"executor,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, username, email, password string) (User, error) {
	body := map[string]any{
		"username": username,
		"email":    email,
		"password": password,
	}
	var resp User
	err := c.do(ctx, http.MethodPost, "auth/register", body, &resp)
	return resp, err
}

// Login authenticates and stores the session token on the client.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body := map[string]any{
		"username": username,
		"password": password,
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// ChangeRole sets a user's role. Requires a ROOT_ADMIN session.
func (c *Client) ChangeRole(ctx context.Context, username, role string) error {
	body := map[string]any{
		"username": username,
		"role":     role,
	}
	return c.do(ctx, http.MethodPost, "auth/changerole", body, nil)
}

// CreateTask creates a task. Requires an ADMIN session.
func (c *Client) CreateTask(ctx context.Context, title, description, priority string, executor *string) (Task, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"priority":    priority,
	}
	if executor != nil {
		body["executor"] = *executor
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/create", body, &resp)
	return resp, err
}

// ChangeTask applies a partial task update.
func (c *Client) ChangeTask(ctx context.Context, req ChangeTaskRequest) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "tasks/change", req, &resp)
	return resp, err
}

// DeleteTask removes a task and its comments.
func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("tasks/delete/%d", id), nil, nil)
}

// Task fetches one task with its comments.
func (c *Client) Task(ctx context.Context, id int64) (TaskInfo, error) {
	var resp TaskInfo
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%d/info", id), nil, &resp)
	return resp, err
}

// OwnedTasks lists tasks authored by a user.
func (c *Client) OwnedTasks(ctx context.Context, username string, page, size int) ([]Task, error) {
	return c.listTasks(ctx, "tasks/owned", username, page, size)
}

// WorkTasks lists tasks assigned to a user.
func (c *Client) WorkTasks(ctx context.Context, username string, page, size int) ([]Task, error) {
	return c.listTasks(ctx, "tasks/work", username, page, size)
}

func (c *Client) listTasks(ctx context.Context, endpoint, username string, page, size int) ([]Task, error) {
	q := url.Values{}
	q.Set("username", username)
	if page >= 0 && size > 0 {
		q.Set("page", fmt.Sprint(page))
		q.Set("size", fmt.Sprint(size))
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil, &resp)
	return resp, err
}

// CreateComment appends a comment to a task.
func (c *Client) CreateComment(ctx context.Context, taskID int64, text string) (Comment, error) {
	body := map[string]any{
		"task_id": taskID,
		"text":    text,
	}
	var resp Comment
	err := c.do(ctx, http.MethodPost, "tasks/comment", body, &resp)
	return resp, err
}

// Comments lists a task's comments.
func (c *Client) Comments(ctx context.Context, taskID int64, page, size int) ([]Comment, error) {
	q := url.Values{}
	q.Set("id", fmt.Sprint(taskID))
	if page >= 0 && size > 0 {
		q.Set("page", fmt.Sprint(page))
		q.Set("size", fmt.Sprint(size))
	}
	var resp []Comment
	err := c.do(ctx, http.MethodGet, "tasks/comments?"+q.Encode(), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
