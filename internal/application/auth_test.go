package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KipK/ha-entity-explorer/internal/domain"
)

func TestBootstrapAdminOnlyWhenEmpty(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	svc := NewAuthService(repo, NewLoginGuard(&memoryBans{}, nil, nil), nil)

	enabled, err := svc.AuthEnabled(ctx)
	if err != nil || enabled {
		t.Fatalf("expected auth disabled on empty store, got %v %v", enabled, err)
	}
	if err := svc.BootstrapAdmin(ctx, "Admin", "secret"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := svc.BootstrapAdmin(ctx, "other", "secret"); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	count, _ := repo.CountUsers(ctx)
	if count != 1 {
		t.Fatalf("expected one user, got %d", count)
	}
	if _, err := repo.GetUserByUsername(ctx, "admin"); err != nil {
		t.Fatalf("expected lower-cased username: %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	svc := NewAuthService(repo, NewLoginGuard(&memoryBans{}, nil, nil), nil)
	if _, err := svc.CreateUser(ctx, "admin", "secret"); err != nil {
		t.Fatalf("create user: %v", err)
	}

	outcome, user, token, err := svc.LoginWithSession(ctx, "1.2.3.4", "admin", "secret", time.Hour)
	if err != nil || outcome != domain.LoginSuccess || token == "" {
		t.Fatalf("login: %v %v %q", outcome, err, token)
	}

	identity, err := svc.AuthenticateSession(ctx, token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity.User.ID != user.ID {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if _, err := svc.AuthenticateSession(ctx, "nope"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	if err := svc.LogoutSession(ctx, token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.AuthenticateSession(ctx, token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized after logout, got %v", err)
	}
}

func TestExpiredSessionIsRejected(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	svc := NewAuthService(repo, NewLoginGuard(&memoryBans{}, nil, nil), nil)
	if _, err := svc.CreateUser(ctx, "admin", "secret"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	_, _, token, err := svc.LoginWithSession(ctx, "1.2.3.4", "admin", "secret", time.Minute)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := svc.AuthenticateSession(ctx, token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected expired session to be unauthorized, got %v", err)
	}
	if len(repo.sessions) != 0 {
		t.Fatalf("expected expired session to be removed")
	}
}

func TestFailedLoginIsAudited(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	svc := NewAuthService(repo, NewLoginGuard(&memoryBans{}, nil, nil), nil)

	outcome, _, token, err := svc.LoginWithSession(ctx, "1.2.3.4", "ghost", "x", 0)
	if err != nil || outcome != domain.LoginBadCredentials || token != "" {
		t.Fatalf("unexpected result %v %q %v", outcome, token, err)
	}
	actions := repo.actions()
	if len(actions) != 1 || actions[0] != "auth.login.failed" {
		t.Fatalf("unexpected audit actions %v", actions)
	}
}
