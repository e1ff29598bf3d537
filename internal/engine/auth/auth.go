// Package auth holds the fail-closed permission checks for task mutation.
// Checks return a ForbiddenError instead of false so that a missed denial
// cannot silently fall through in the calling workflow.
package auth

import (
	"fmt"

	"taskline/internal/domain"
)

// ForbiddenError indicates the caller lacks permission for the mutation.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Reason)
}

// RequireAdmin passes only for the exact ADMIN role. ROOT_ADMIN does not
// inherit task-mutation rights.
func RequireAdmin(caller domain.User) error {
	if caller.Role == domain.RoleAdmin {
		return nil
	}
	return ForbiddenError{Reason: "admin role required"}
}

// RequireTaskAccess passes for the task's assigned executor or an admin.
func RequireTaskAccess(caller domain.User, task domain.Task) error {
	if task.Executor != nil && *task.Executor == caller.Username {
		return nil
	}
	return RequireAdmin(caller)
}
