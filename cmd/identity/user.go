package identity

import (
	"fmt"
	"strings"
	"time"
)

// Role is the account role used by authorization checks.
type Role string

const (
	RolePlayer  Role = "PLAYER"
	RoleAdmin   Role = "ADMIN"
	RoleTeacher Role = "TEACHER"
)

// Roles lists every valid role.
var Roles = []Role{RolePlayer, RoleAdmin, RoleTeacher}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePlayer, RoleAdmin, RoleTeacher:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// User is the account record.
//
// TokenVersion starts at 0 and only ever grows: every issued token embeds it and a token whose
// version differs from the stored one is rejected.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	IsActive     bool
	TokenVersion int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateUserInput describes a new account. PasswordHash must already be hashed.
type CreateUserInput struct {
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Now          time.Time
}

func (in CreateUserInput) normalized(op string) (CreateUserInput, error) {
	in.Name = NormalizeName(in.Name)
	in.Email = NormalizeEmail(in.Email)
	if in.Name == "" {
		return in, invalid(op, "missing name")
	}
	if in.Email == "" {
		return in, invalid(op, "missing email")
	}
	if in.PasswordHash == "" {
		return in, invalid(op, "missing password hash")
	}
	if in.Role == "" {
		in.Role = RolePlayer
	}
	if !in.Role.Valid() {
		return in, invalid(op, "invalid role")
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}

// UserPatch is a partial admin update. Nil fields are left unchanged.
type UserPatch struct {
	Name     *string
	Role     *Role
	IsActive *bool
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.Name == nil && p.Role == nil && p.IsActive == nil
}

func (p UserPatch) validate(op string) error {
	if p.Name != nil && NormalizeName(*p.Name) == "" {
		return invalid(op, "empty name")
	}
	if p.Role != nil && !p.Role.Valid() {
		return invalid(op, "invalid role")
	}
	return nil
}

func (p UserPatch) apply(u *User, now time.Time) {
	if p.Name != nil {
		u.Name = NormalizeName(*p.Name)
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.IsActive != nil {
		u.IsActive = *p.IsActive
	}
	u.UpdatedAt = now
}

// RoleCounts backs the admin statistics view.
type RoleCounts struct {
	Total    int
	Players  int
	Teachers int
	Admins   int
}

func (c *RoleCounts) add(r Role, n int) {
	c.Total += n
	switch r {
	case RolePlayer:
		c.Players += n
	case RoleTeacher:
		c.Teachers += n
	case RoleAdmin:
		c.Admins += n
	}
}
