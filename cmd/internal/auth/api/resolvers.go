package authapi

import (
	"context"
	"strconv"
	"time"

	graphql "github.com/graph-gophers/graphql-go"

	"schooltower/cmd/identity"
	"schooltower/cmd/internal/auth/authctx"
	"schooltower/cmd/internal/auth/autherr"
	"schooltower/cmd/internal/auth/guard"
	"schooltower/cmd/internal/auth/session"
	"schooltower/cmd/internal/events"
)

const (
	msgRefreshMissing = "Refresh token não encontrado"
	msgNothingToApply = "Nenhuma alteração informada"
	msgInvalidRole    = "Papel inválido"
	msgNameRequired   = "Nome é obrigatório"
)

type rootResolver struct {
	h *Handler
}

// ---- queries ----

func (r *rootResolver) Me(ctx context.Context) (*userResolver, error) {
	u, ok := authctx.UserFrom(ctx)
	if !ok {
		return nil, autherr.Unauthenticated(guard.MsgNotAuthenticated, nil)
	}
	return &userResolver{u: u}, nil
}

func (r *rootResolver) AllUsers(ctx context.Context) ([]*userResolver, error) {
	if _, err := guard.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	users, err := r.h.users.ListUsers(ctx)
	if err != nil {
		return nil, r.h.fail(ctx, "allUsers", err)
	}
	out := make([]*userResolver, 0, len(users))
	for _, u := range users {
		out = append(out, &userResolver{u: u})
	}
	return out, nil
}

func (r *rootResolver) SystemStats(ctx context.Context) (*statsResolver, error) {
	if _, err := guard.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	counts, err := r.h.users.CountByRole(ctx)
	if err != nil {
		return nil, r.h.fail(ctx, "systemStats", err)
	}
	return &statsResolver{c: counts}, nil
}

// ---- mutations ----

type registerArgs struct {
	Input struct {
		Name     string
		Email    string
		Password string
	}
}

func (r *rootResolver) Register(ctx context.Context, args registerArgs) (*authPayloadResolver, error) {
	res, err := r.h.sessions.Register(ctx, session.RegisterInput{
		Name:     args.Input.Name,
		Email:    args.Input.Email,
		Password: args.Input.Password,
	}, metaFrom(ctx))
	if err != nil {
		return nil, r.h.fail(ctx, "register", err)
	}
	return r.issued(ctx, res), nil
}

type loginArgs struct {
	Input struct {
		Email    string
		Password string
	}
}

func (r *rootResolver) Login(ctx context.Context, args loginArgs) (*authPayloadResolver, error) {
	res, err := r.h.sessions.Login(ctx, session.LoginInput{
		Email:    args.Input.Email,
		Password: args.Input.Password,
	}, metaFrom(ctx))
	if err != nil {
		return nil, r.h.fail(ctx, "login", err)
	}
	return r.issued(ctx, res), nil
}

func (r *rootResolver) RefreshToken(ctx context.Context) (*authPayloadResolver, error) {
	rc := authctx.FromContext(ctx)
	var raw string
	if rc != nil {
		raw, _ = refreshTokenFromCookie(rc.Request)
	}
	if raw == "" {
		return nil, autherr.Unauthenticated(msgRefreshMissing, nil)
	}

	res, err := r.h.sessions.RefreshTokens(ctx, raw, metaFrom(ctx))
	if err != nil {
		// A rejected refresh token is dead either way; drop it from the browser.
		if autherr.CodeOf(err) == autherr.CodeUnauthenticated && rc != nil {
			r.h.clearRefreshCookie(rc.Writer)
		}
		return nil, r.h.fail(ctx, "refreshToken", err)
	}
	return r.issued(ctx, res), nil
}

func (r *rootResolver) Logout(ctx context.Context) (bool, error) {
	rc := authctx.FromContext(ctx)
	var raw string
	if rc != nil {
		raw, _ = refreshTokenFromCookie(rc.Request)
	}

	if err := r.h.sessions.Logout(ctx, raw, metaFrom(ctx)); err != nil {
		return false, r.h.fail(ctx, "logout", err)
	}
	if rc != nil {
		r.h.clearRefreshCookie(rc.Writer)
	}
	return true, nil
}

func (r *rootResolver) LogoutAll(ctx context.Context) (bool, error) {
	u, ok := authctx.UserFrom(ctx)
	if !ok {
		return false, autherr.Unauthenticated(guard.MsgNotAuthenticated, nil)
	}

	if err := r.h.sessions.LogoutAll(ctx, u.ID, metaFrom(ctx)); err != nil {
		return false, r.h.fail(ctx, "logoutAll", err)
	}
	if rc := authctx.FromContext(ctx); rc != nil {
		r.h.clearRefreshCookie(rc.Writer)
	}
	return true, nil
}

type updateUserArgs struct {
	ID    graphql.ID
	Input struct {
		Name     *string
		Role     *string
		IsActive *bool
	}
}

func (r *rootResolver) UpdateUser(ctx context.Context, args updateUserArgs) (*userResolver, error) {
	admin, err := guard.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	patch := identity.UserPatch{Name: args.Input.Name, IsActive: args.Input.IsActive}
	if args.Input.Role != nil {
		role, err := identity.ParseRole(*args.Input.Role)
		if err != nil {
			return nil, autherr.BadInput(msgInvalidRole, "role", err)
		}
		patch.Role = &role
	}
	if patch.Empty() {
		return nil, autherr.BadInput(msgNothingToApply, "input", nil)
	}

	now := r.h.now()
	id := string(args.ID)
	updated, err := r.h.users.UpdateUser(ctx, id, patch, now)
	switch {
	case err == nil:
	case identity.IsNotFound(err):
		return nil, autherr.BadInput(session.MsgUserNotFound, "id", err)
	case identity.IsInvalidInput(err):
		return nil, autherr.BadInput(msgNameRequired, "name", err)
	default:
		return nil, r.h.fail(ctx, "updateUser", err)
	}

	meta := metaFrom(ctx)
	// A deactivated account loses every session it holds.
	if patch.IsActive != nil && !*patch.IsActive {
		if err := r.h.sessions.LogoutAll(ctx, id, meta); err != nil {
			return nil, r.h.fail(ctx, "updateUser", err)
		}
	}

	ev := events.Event{
		Type:       events.UserStatusChanged,
		UserID:     id,
		OccurredAt: now,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		Meta: map[string]string{
			"by":       admin.ID,
			"role":     string(updated.Role),
			"isActive": strconv.FormatBool(updated.IsActive),
		},
	}
	if err := r.h.events.Publish(ctx, ev); err != nil {
		r.h.log.WarnContext(ctx, "auth.event.publish_fail", "type", string(ev.Type), "err", err)
	}

	return &userResolver{u: updated}, nil
}

func (r *rootResolver) issued(ctx context.Context, res session.Result) *authPayloadResolver {
	if rc := authctx.FromContext(ctx); rc != nil {
		r.h.setRefreshCookie(rc.Writer, res.RefreshToken, res.RefreshExpiresAt)
	}
	return &authPayloadResolver{token: res.AccessToken, user: res.User}
}

// ---- object resolvers ----

type userResolver struct {
	u identity.User
}

func (r *userResolver) ID() graphql.ID    { return graphql.ID(r.u.ID) }
func (r *userResolver) Name() string      { return r.u.Name }
func (r *userResolver) Email() string     { return r.u.Email }
func (r *userResolver) Role() string      { return string(r.u.Role) }
func (r *userResolver) IsActive() bool    { return r.u.IsActive }
func (r *userResolver) CreatedAt() string { return r.u.CreatedAt.UTC().Format(time.RFC3339) }

type authPayloadResolver struct {
	token string
	user  identity.User
}

func (r *authPayloadResolver) AccessToken() string { return r.token }
func (r *authPayloadResolver) User() *userResolver { return &userResolver{u: r.user} }

type statsResolver struct {
	c identity.RoleCounts
}

func (r *statsResolver) TotalUsers() int32   { return int32(r.c.Total) }
func (r *statsResolver) PlayerCount() int32  { return int32(r.c.Players) }
func (r *statsResolver) TeacherCount() int32 { return int32(r.c.Teachers) }
func (r *statsResolver) AdminCount() int32   { return int32(r.c.Admins) }
