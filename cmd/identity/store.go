package identity

import (
	"context"
	"time"
)

// Store is the user persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	// GetUserByEmail matches the trimmed email exactly (case-sensitive).
	GetUserByEmail(ctx context.Context, email string) (User, error)
	// ListUsers returns every user, newest first.
	ListUsers(ctx context.Context) ([]User, error)
	CountByRole(ctx context.Context) (RoleCounts, error)
	UpdateUser(ctx context.Context, id string, patch UserPatch, now time.Time) (User, error)
	// BumpTokenVersion atomically increments the counter and returns the new value.
	BumpTokenVersion(ctx context.Context, id string, now time.Time) (int, error)
}
