package domain

// Role is a user's access level. Role checks are exact matches:
// ROOT_ADMIN is not a superset of ADMIN for task mutation.
type Role string

const (
	RolePlain     Role = "PLAIN"
	RoleAdmin     Role = "ADMIN"
	RoleRootAdmin Role = "ROOT_ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RolePlain, RoleAdmin, RoleRootAdmin:
		return true
	}
	return false
}

type TaskStatus string

const (
	StatusAwaiting  TaskStatus = "AWAITING"
	StatusInProcess TaskStatus = "IN_PROCESS"
	StatusDone      TaskStatus = "DONE"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusAwaiting, StatusInProcess, StatusDone:
		return true
	}
	return false
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "LOW"
	PriorityMedium TaskPriority = "MEDIUM"
	PriorityHigh   TaskPriority = "HIGH"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role" enum:"PLAIN,ADMIN,ROOT_ADMIN"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// Task author is immutable after creation; executor is the optionally
// assigned user and may be reassigned by an admin.
type Task struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      TaskStatus   `json:"status" enum:"AWAITING,IN_PROCESS,DONE"`
	Priority    TaskPriority `json:"priority" enum:"LOW,MEDIUM,HIGH"`
	AuthorID    int64        `json:"author_id"`
	Author      string       `json:"author"`
	ExecutorID  *int64       `json:"executor_id,omitempty"`
	Executor    *string      `json:"executor,omitempty"`
	CreatedAt   string       `json:"created_at" format:"date-time"`
	UpdatedAt   string       `json:"updated_at" format:"date-time"`
}

// HasExecutor reports whether the task is currently assigned.
func (t Task) HasExecutor() bool { return t.ExecutorID != nil }

// Comment belongs to its task; deleting the task deletes the comment.
type Comment struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id"`
	AuthorID  int64  `json:"author_id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Page is a zero-based page request. A nil *Page means "everything".
type Page struct {
	Number int
	Size   int
}
