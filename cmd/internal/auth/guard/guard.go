// Package guard enforces role checks on top of the request auth context.
package guard

import (
	"context"
	"slices"

	"schooltower/cmd/identity"
	"schooltower/cmd/internal/auth/authctx"
	"schooltower/cmd/internal/auth/autherr"
)

const (
	MsgNotAuthenticated = "Não autenticado"
	MsgForbidden        = "Acesso negado. Você não tem permissão para acessar este recurso."
)

// RequireRole returns the caller when they are authenticated, active and hold one of roles.
func RequireRole(ctx context.Context, roles ...identity.Role) (identity.User, error) {
	u, ok := authctx.UserFrom(ctx)
	if !ok {
		return identity.User{}, autherr.Unauthenticated(MsgNotAuthenticated, nil)
	}
	if !u.IsActive || !slices.Contains(roles, u.Role) {
		required := make([]string, len(roles))
		for i, r := range roles {
			required[i] = string(r)
		}
		return identity.User{}, autherr.Forbidden(MsgForbidden, map[string]any{
			"requiredRoles": required,
			"userRole":      string(u.Role),
		})
	}
	return u, nil
}

func RequireAdmin(ctx context.Context) (identity.User, error) {
	return RequireRole(ctx, identity.RoleAdmin)
}

func RequirePlayer(ctx context.Context) (identity.User, error) {
	return RequireRole(ctx, identity.RolePlayer)
}

func RequireTeacher(ctx context.Context) (identity.User, error) {
	return RequireRole(ctx, identity.RoleTeacher)
}

// RequireAnyRole only requires an active authenticated caller.
func RequireAnyRole(ctx context.Context) (identity.User, error) {
	return RequireRole(ctx, identity.Roles...)
}
