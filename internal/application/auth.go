package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KipK/ha-entity-explorer/internal/domain"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const SessionTTL = 12 * time.Hour

var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService verifies operator credentials behind the LoginGuard and manages
// cookie sessions and the audit trail.
type AuthService struct {
	repo  domain.AuthRepository
	guard *LoginGuard
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewAuthService(repo domain.AuthRepository, guard *LoginGuard, log logrus.FieldLogger) *AuthService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuthService{repo: repo, guard: guard, log: log, now: time.Now}
}

func (s *AuthService) Guard() *LoginGuard { return s.guard }

// AuthEnabled is false while no operator account exists; every route is then
// open.
func (s *AuthService) AuthEnabled(ctx context.Context) (bool, error) {
	count, err := s.repo.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *AuthService) BootstrapAdmin(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		return errors.New("bootstrap admin username and password are required")
	}

	count, err := s.repo.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	u, err := s.CreateUser(ctx, username, password)
	if err != nil {
		return err
	}
	s.WriteAudit(ctx, &u.ID, "auth.bootstrap_admin", "", "initial admin created")
	return nil
}

// CheckLogin runs one login attempt from addr. A banned address is rejected
// before the credentials are looked at.
func (s *AuthService) CheckLogin(ctx context.Context, addr, username, password string) (domain.LoginOutcome, domain.User, error) {
	banned, err := s.guard.IsBanned(ctx, addr)
	if err != nil {
		return "", domain.User{}, err
	}
	if banned {
		s.log.WithField("remote_addr", addr).Warn("login attempt from banned address")
		return domain.LoginBanned, domain.User{}, nil
	}

	u, err := s.authenticateUsernamePassword(ctx, username, password)
	if err != nil {
		nowBanned, gerr := s.guard.RecordFailure(ctx, addr)
		if gerr != nil {
			return "", domain.User{}, gerr
		}
		s.WriteAudit(ctx, nil, "auth.login.failed", addr, fmt.Sprintf("username=%s", strings.TrimSpace(username)))
		if nowBanned {
			s.WriteAudit(ctx, nil, "auth.ban", addr, "too many failed login attempts")
			return domain.LoginBanned, domain.User{}, nil
		}
		return domain.LoginBadCredentials, domain.User{}, nil
	}

	s.guard.RecordSuccess(addr)
	return domain.LoginSuccess, u, nil
}

// LoginWithSession checks the login and, on success, issues a session token.
// The plain token is only returned here; the store keeps its hash.
func (s *AuthService) LoginWithSession(ctx context.Context, addr, username, password string, ttl time.Duration) (domain.LoginOutcome, domain.User, string, error) {
	outcome, u, err := s.CheckLogin(ctx, addr, username, password)
	if err != nil || outcome != domain.LoginSuccess {
		return outcome, domain.User{}, "", err
	}
	if ttl <= 0 {
		ttl = SessionTTL
	}

	plain, hash, err := newTokenPair()
	if err != nil {
		return "", domain.User{}, "", err
	}
	_, err = s.repo.CreateSession(ctx, domain.AuthSession{
		UserID:     u.ID,
		TokenHash:  hash,
		RemoteAddr: addr,
		ExpiresAt:  s.now().UTC().Add(ttl),
	})
	if err != nil {
		return "", domain.User{}, "", err
	}

	s.WriteAudit(ctx, &u.ID, "auth.login.session", addr, "session login")
	return outcome, u, plain, nil
}

func (s *AuthService) AuthenticateSession(ctx context.Context, token string) (domain.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	hash := hashToken(token)
	session, err := s.repo.GetSessionByTokenHash(ctx, hash)
	if err != nil {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	if session.ExpiresAt.Before(s.now().UTC()) {
		_ = s.repo.DeleteSessionByTokenHash(ctx, hash)
		return domain.Identity{}, fmt.Errorf("%w: session expired", domain.ErrUnauthorized)
	}

	u, err := s.repo.GetUserByID(ctx, session.UserID)
	if err != nil {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	return domain.Identity{User: u}, nil
}

func (s *AuthService) LogoutSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	return s.repo.DeleteSessionByTokenHash(ctx, hashToken(token))
}

func (s *AuthService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx, s.now().UTC())
}

func (s *AuthService) WriteAudit(ctx context.Context, actorUserID *uint, action, remoteAddr, metadata string) {
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorUserID: actorUserID,
		Action:      action,
		RemoteAddr:  remoteAddr,
		Metadata:    metadata,
	})
	if err != nil {
		s.log.WithError(err).WithField("action", action).Warn("audit write failed")
	}
}

func (s *AuthService) CreateUser(ctx context.Context, username, password string) (domain.User, error) {
	username = normalizeUsername(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.User{}, errors.New("username and password are required")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return domain.User{}, err
	}
	return s.repo.CreateUser(ctx, domain.User{Username: username, PasswordHash: hash})
}

func (s *AuthService) SetPassword(ctx context.Context, username, password string) error {
	if strings.TrimSpace(password) == "" {
		return errors.New("password is required")
	}
	u, err := s.repo.GetUserByUsername(ctx, normalizeUsername(username))
	if err != nil {
		return err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	return s.repo.UpdateUserPassword(ctx, u.ID, hash)
}

func (s *AuthService) DeleteUser(ctx context.Context, username string) error {
	u, err := s.repo.GetUserByUsername(ctx, normalizeUsername(username))
	if err != nil {
		return err
	}
	return s.repo.DeleteUser(ctx, u.ID)
}

func (s *AuthService) ListUsers(ctx context.Context, query string, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}
	return s.repo.ListUsers(ctx, query, limit)
}

func (s *AuthService) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *AuthService) authenticateUsernamePassword(ctx context.Context, username, password string) (domain.User, error) {
	u, err := s.repo.GetUserByUsername(ctx, normalizeUsername(username))
	if err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func newTokenPair() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plain := base64.RawURLEncoding.EncodeToString(raw)
	return plain, hashToken(plain), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", sum[:])
}
