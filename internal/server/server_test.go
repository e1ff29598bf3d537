package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/migrate"
	"taskline/internal/token"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	return newTestServerWith(t, LimiterConfig{})
}

func newTestServerWith(t *testing.T, limiter LimiterConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	tokens, err := token.NewService("0123456789abcdef0123456789abcdef", time.Hour)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	e := engine.New(conn, tokens)
	handler, err := New(Config{Engine: e, Limiter: limiter})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

// seedUser registers an account directly through the engine, promotes it
// if needed and returns a session token.
func (s *testServer) seedUser(t *testing.T, username string, role domain.Role) string {
	t.Helper()
	ctx := context.Background()
	if _, err := s.Engine.Register(ctx, engine.RegisterOptions{
		Username: username,
		Email:    username + "@example.com",
		Password: "password123",
	}); err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	if role != domain.RolePlain {
		if err := s.Engine.ChangeRole(ctx, username, role); err != nil {
			t.Fatalf("change role %s: %v", username, err)
		}
	}
	tok, err := s.Engine.Login(ctx, username, "password123")
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return tok
}

func bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createTask(t *testing.T, srv *testServer, adminTok string, executor string) TaskResponse {
	t.Helper()
	body := map[string]any{
		"title":       "Implement the widget",
		"description": "The widget needs implementing end to end",
		"priority":    "MEDIUM",
	}
	if executor != "" {
		body["executor"] = executor
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/tasks/create", body, bearer(adminTok))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return task
}

func TestRegisterFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/auth/register", map[string]any{
		"username": "alice01",
		"email":    "alice@example.com",
		"password": "password123",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", res.StatusCode, string(data))
	}
	var u UserResponse
	if err := json.Unmarshal(data, &u); err != nil {
		t.Fatalf("unmarshal user: %v", err)
	}
	if u.Role != string(domain.RolePlain) {
		t.Fatalf("expected PLAIN role, got %s", u.Role)
	}

	// same username again conflicts
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/auth/register", map[string]any{
		"username": "alice01",
		"email":    "other@example.com",
		"password": "password123",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register status %d: %s", res.StatusCode, string(data))
	}

	// validation failures surface as 400
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/auth/register", map[string]any{
		"username": "ab",
		"email":    "short@example.com",
		"password": "password123",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("short username status %d: %s", res.StatusCode, string(data))
	}
}

func TestLoginFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	srv.seedUser(t, "alice01", domain.RolePlain)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/auth/login", map[string]any{
		"username": "alice01",
		"password": "password123",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var jwt JWTResponse
	if err := json.Unmarshal(data, &jwt); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	if jwt.Token == "" {
		t.Fatalf("expected a token")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/auth/login", map[string]any{
		"username": "alice01",
		"password": "not-the-password",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status %d: %s", res.StatusCode, string(data))
	}
}

func TestCreateTaskRequiresAdmin(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	adminTok := srv.seedUser(t, "admin01", domain.RoleAdmin)
	plainTok := srv.seedUser(t, "plain01", domain.RolePlain)

	task := createTask(t, srv, adminTok, "plain01")
	if task.Status != string(domain.StatusAwaiting) {
		t.Fatalf("new task status %s", task.Status)
	}
	if task.Executor == nil || *task.Executor != "plain01" {
		t.Fatalf("executor not set: %+v", task.Executor)
	}
	if task.Author != "admin01" {
		t.Fatalf("author %s", task.Author)
	}

	body := map[string]any{
		"title":       "Implement the widget",
		"description": "The widget needs implementing end to end",
		"priority":    "LOW",
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/tasks/create", body, bearer(plainTok))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("plain create status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/tasks/create", body, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous create status %d: %s", res.StatusCode, string(data))
	}
}

func TestChangeTaskPermissions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	adminTok := srv.seedUser(t, "admin01", domain.RoleAdmin)
	execTok := srv.seedUser(t, "worker1", domain.RolePlain)
	task := createTask(t, srv, adminTok, "worker1")

	// the executor may move status
	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/tasks/change", map[string]any{
		"id":     task.ID,
		"status": "IN_PROCESS",
	}, bearer(execTok))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("executor status change %d: %s", res.StatusCode, string(data))
	}
	var updated TaskResponse
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if updated.Status != string(domain.StatusInProcess) {
		t.Fatalf("status %s", updated.Status)
	}

	// a title change in the same request denies the whole update
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/tasks/change", map[string]any{
		"id":     task.ID,
		"title":  "Executor retitles it",
		"status": "DONE",
	}, bearer(execTok))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("mixed change status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+fmt.Sprintf("/tasks/%d/info", task.ID), nil, bearer(execTok))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("info status %d: %s", res.StatusCode, string(data))
	}
	var info TaskInfoResponse
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("unmarshal info: %v", err)
	}
	if info.Status != string(domain.StatusInProcess) || info.Title != task.Title {
		t.Fatalf("denied update leaked fields: %+v", info.TaskResponse)
	}

	// unknown task id
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/tasks/change", map[string]any{
		"id":     9999,
		"status": "DONE",
	}, bearer(adminTok))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing task status %d: %s", res.StatusCode, string(data))
	}
}

func TestDeleteTask(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	adminTok := srv.seedUser(t, "admin01", domain.RoleAdmin)
	plainTok := srv.seedUser(t, "plain01", domain.RolePlain)
	task := createTask(t, srv, adminTok, "plain01")

	res, data := doJSON(t, client, http.MethodDelete, srv.URL+fmt.Sprintf("/tasks/delete/%d", task.ID), nil, bearer(plainTok))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("plain delete status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+fmt.Sprintf("/tasks/delete/%d", task.ID), nil, bearer(adminTok))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+fmt.Sprintf("/tasks/delete/%d", task.ID), nil, bearer(adminTok))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status %d: %s", res.StatusCode, string(data))
	}
}

func TestTaskListings(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	adminTok := srv.seedUser(t, "admin01", domain.RoleAdmin)
	srv.seedUser(t, "worker1", domain.RolePlain)
	createTask(t, srv, adminTok, "worker1")
	createTask(t, srv, adminTok, "")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/tasks/owned?username=admin01", nil, bearer(adminTok))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("owned status %d: %s", res.StatusCode, string(data))
	}
	var owned []TaskResponse
	if err := json.Unmarshal(data, &owned); err != nil {
		t.Fatalf("unmarshal owned: %v", err)
	}
	if len(owned) != 2 {
		t.Fatalf("expected 2 owned tasks, got %d", len(owned))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks/work?username=worker1", nil, bearer(adminTok))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("work status %d: %s", res.StatusCode, string(data))
	}
	var work []TaskResponse
	if err := json.Unmarshal(data, &work); err != nil {
		t.Fatalf("unmarshal work: %v", err)
	}
	if len(work) != 1 {
		t.Fatalf("expected 1 work task, got %d", len(work))
	}

	// a page of one
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks/owned?username=admin01&page=0&size=1", nil, bearer(adminTok))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("paged owned status %d: %s", res.StatusCode, string(data))
	}
	var paged []TaskResponse
	_ = json.Unmarshal(data, &paged)
	if len(paged) != 1 {
		t.Fatalf("expected page of 1, got %d", len(paged))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks/owned?username=nobody1", nil, bearer(adminTok))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown user status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks/owned?username=admin01", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous owned status %d: %s", res.StatusCode, string(data))
	}
}

func TestComments(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	adminTok := srv.seedUser(t, "admin01", domain.RoleAdmin)
	execTok := srv.seedUser(t, "worker1", domain.RolePlain)
	otherTok := srv.seedUser(t, "stranger", domain.RolePlain)
	task := createTask(t, srv, adminTok, "worker1")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/tasks/comment", map[string]any{
		"task_id": task.ID,
		"text":    "started on it",
	}, bearer(execTok))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("executor comment status %d: %s", res.StatusCode, string(data))
	}
	var c CommentResponse
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal comment: %v", err)
	}
	if c.Author != "worker1" {
		t.Fatalf("comment author %s", c.Author)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/tasks/comment", map[string]any{
		"task_id": task.ID,
		"text":    "drive-by remark",
	}, bearer(otherTok))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger comment status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+fmt.Sprintf("/tasks/comments?id=%d", task.ID), nil, bearer(adminTok))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list comments status %d: %s", res.StatusCode, string(data))
	}
	var comments []CommentResponse
	if err := json.Unmarshal(data, &comments); err != nil {
		t.Fatalf("unmarshal comments: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(comments))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks/comments?id=9999", nil, bearer(adminTok))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing task comments status %d: %s", res.StatusCode, string(data))
	}
}

func TestChangeRoleGate(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	rootTok := srv.seedUser(t, "rooty1", domain.RoleRootAdmin)
	adminTok := srv.seedUser(t, "admin01", domain.RoleAdmin)
	srv.seedUser(t, "plain01", domain.RolePlain)

	// only ROOT_ADMIN may change roles; ADMIN is denied
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/auth/changerole", map[string]any{
		"username": "plain01",
		"role":     "ADMIN",
	}, bearer(adminTok))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("admin changerole status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/auth/changerole", map[string]any{
		"username": "plain01",
		"role":     "ADMIN",
	}, bearer(rootTok))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("root changerole status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/auth/changerole", map[string]any{
		"username": "nobody1",
		"role":     "ADMIN",
	}, bearer(rootTok))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown user changerole status %d: %s", res.StatusCode, string(data))
	}
}

func TestExpiredTokenIsAnonymous(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	srv.seedUser(t, "admin01", domain.RoleAdmin)

	// issue a token that is already expired
	expired := srv.Engine.Tokens
	expired.Now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err := expired.Issue("admin01", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/tasks/create", map[string]any{
		"title":       "Implement the widget",
		"description": "The widget needs implementing end to end",
		"priority":    "LOW",
	}, bearer(tok))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expired token status %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRateLimit(t *testing.T) {
	// near-zero refill so the test only sees the burst allowance
	srv, cleanup := newTestServerWith(t, LimiterConfig{Enabled: true, RPS: 0.01, Burst: 2})
	defer cleanup()
	client := srv.Client()
	body := map[string]any{"username": "alice01", "password": "password123"}

	var res *http.Response
	var data []byte
	for i := 0; i < 3; i++ {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/auth/login", body, nil)
	}
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status %d after burst exhausted: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal 429 body: %v: %s", err, string(data))
	}
	if envelope.Error.Code != "rate_limited" {
		t.Fatalf("error code %q", envelope.Error.Code)
	}

	// paths outside /auth are not throttled
	for i := 0; i < 5; i++ {
		res, data = doJSON(t, client, http.MethodGet, srv.URL+"/health", nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("health status %d: %s", res.StatusCode, string(data))
		}
	}
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	var body map[string]string
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("health body %v", body)
	}
}
