package domain

import (
	"strings"
	"time"
)

// StateEntry is one entity state as reported by the remote platform.
type StateEntry struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed,omitempty"`
	LastUpdated string         `json:"last_updated,omitempty"`
}

// HistoryEntry is one raw history row. State is nil when the remote omitted it.
type HistoryEntry struct {
	EntityID    string         `json:"entity_id,omitempty"`
	State       *string        `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged string         `json:"last_changed,omitempty"`
	LastUpdated string         `json:"last_updated,omitempty"`
}

// Timestamp returns last_changed, falling back to last_updated.
func (e HistoryEntry) Timestamp() string {
	if e.LastChanged != "" {
		return e.LastChanged
	}
	return e.LastUpdated
}

type EntitySummary struct {
	EntityID     string `json:"entity_id"`
	FriendlyName string `json:"friendly_name"`
	Domain       string `json:"domain"`
	State        string `json:"state"`
	Icon         string `json:"icon"`
}

type HistoryWindow struct {
	EntityID string
	Start    time.Time
	End      time.Time
}

func (w HistoryWindow) Validate() error {
	if w.EntityID == "" {
		return MalformedInput("entity id is required")
	}
	if !w.Start.Before(w.End) {
		return MalformedInput("start must be before end")
	}
	return nil
}

type AvailableRange struct {
	EntityID string     `json:"entity_id"`
	Earliest *time.Time `json:"earliest"`
	Latest   time.Time  `json:"latest"`
}

type AttributePoint struct {
	Timestamp string `json:"timestamp"`
	Value     any    `json:"value"`
}

type LoginOutcome string

const (
	LoginSuccess        LoginOutcome = "success"
	LoginBadCredentials LoginOutcome = "bad-credentials"
	LoginBanned         LoginOutcome = "banned"
)

type User struct {
	ID           uint      `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type AuthSession struct {
	ID         uint
	UserID     uint
	TokenHash  string
	RemoteAddr string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

type AuditLog struct {
	ID          uint
	ActorUserID *uint
	Action      string
	RemoteAddr  string
	Metadata    string
	CreatedAt   time.Time
}

type AuditRecord struct {
	ID            uint      `json:"id"`
	ActorUserID   *uint     `json:"actor_user_id"`
	ActorUsername string    `json:"actor_username"`
	Action        string    `json:"action"`
	RemoteAddr    string    `json:"remote_addr"`
	Metadata      string    `json:"metadata"`
	CreatedAt     time.Time `json:"created_at"`
}

type Identity struct {
	User User
}

// DomainOf returns the part of an entity id before the first dot.
func DomainOf(entityID string) string {
	domain, _, found := strings.Cut(entityID, ".")
	if !found {
		return ""
	}
	return domain
}
