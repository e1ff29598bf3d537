package server

import (
	"taskline/internal/domain"
)

// Request payloads

type RegisterRequest struct {
	Username string `json:"username" minLength:"5" maxLength:"20" example:"user01"`
	Email    string `json:"email" minLength:"5" maxLength:"60" format:"email" example:"user01@example.com"`
	Password string `json:"password" minLength:"8" maxLength:"30" example:"PasD35szsXX"`
}

type LoginRequest struct {
	Username string `json:"username" minLength:"5" maxLength:"20"`
	Password string `json:"password" minLength:"8" maxLength:"30"`
}

type ChangeRoleRequest struct {
	Username string `json:"username" minLength:"5" maxLength:"20"`
	Role     string `json:"role" enum:"PLAIN,ADMIN,ROOT_ADMIN"`
}

type CreateTaskRequest struct {
	Title       string  `json:"title" minLength:"10" maxLength:"60"`
	Description string  `json:"description" minLength:"10" maxLength:"400"`
	Priority    string  `json:"priority" enum:"LOW,MEDIUM,HIGH"`
	Executor    *string `json:"executor,omitempty" minLength:"5" maxLength:"20"`
}

type ChangeTaskRequest struct {
	ID          int64   `json:"id" minimum:"1"`
	Title       *string `json:"title,omitempty" minLength:"10" maxLength:"60"`
	Description *string `json:"description,omitempty" minLength:"10" maxLength:"400"`
	Status      *string `json:"status,omitempty" enum:"AWAITING,IN_PROCESS,DONE"`
	Priority    *string `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH"`
	Executor    *string `json:"executor,omitempty" minLength:"5" maxLength:"20"`
}

type CreateCommentRequest struct {
	TaskID int64  `json:"task_id" minimum:"1"`
	Text   string `json:"text" minLength:"10" maxLength:"40"`
}

// Response payloads

type JWTResponse struct {
	Token string `json:"token"`
}

type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role" enum:"PLAIN,ADMIN,ROOT_ADMIN"`
}

type TaskResponse struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      string  `json:"status" enum:"AWAITING,IN_PROCESS,DONE"`
	Priority    string  `json:"priority" enum:"LOW,MEDIUM,HIGH"`
	Author      string  `json:"author"`
	Executor    *string `json:"executor,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type CommentResponse struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// TaskInfoResponse is the task view with its full comment list.
type TaskInfoResponse struct {
	TaskResponse
	Comments []CommentResponse `json:"comments"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		Author:      t.Author,
		Executor:    t.Executor,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse{
		ID:        c.ID,
		TaskID:    c.TaskID,
		Author:    c.Author,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	}
}

func mapComments(items []domain.Comment) []CommentResponse {
	res := make([]CommentResponse, 0, len(items))
	for _, c := range items {
		res = append(res, commentResponse(c))
	}
	return res
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     string(u.Role),
	}
}
