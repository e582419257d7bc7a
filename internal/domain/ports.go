package domain

import (
	"context"
	"time"
)

type StateSource interface {
	States(ctx context.Context) ([]StateEntry, error)
}

type HistorySource interface {
	History(ctx context.Context, entityID string, start, end time.Time, minimal bool) ([]HistoryEntry, error)
}

type RemoteAPI interface {
	StateSource
	HistorySource
	State(ctx context.Context, entityID string) (*StateEntry, error)
	Ping(ctx context.Context) error
}

// BanStore is the durable set of banned source addresses.
//
// Update runs fn against the current set and persists the returned set as a
// single atomic read-modify-write; a concurrent writer can never make a
// committed ban disappear.
type BanStore interface {
	List(ctx context.Context) ([]string, error)
	Update(ctx context.Context, fn func(current []string) ([]string, error)) error
}

type AuthRepository interface {
	CreateUser(ctx context.Context, value User) (User, error)
	CountUsers(ctx context.Context) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByID(ctx context.Context, id uint) (User, error)
	ListUsers(ctx context.Context, query string, limit int) ([]User, error)
	UpdateUserPassword(ctx context.Context, id uint, passwordHash string) error
	DeleteUser(ctx context.Context, id uint) error
	CreateSession(ctx context.Context, value AuthSession) (AuthSession, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (AuthSession, error)
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	CreateAuditLog(ctx context.Context, value AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]AuditRecord, error)
}
