package sqlite

import "time"

type UserModel struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"not null;uniqueIndex"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (UserModel) TableName() string { return "users" }

type SessionModel struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     uint   `gorm:"not null;index"`
	TokenHash  string `gorm:"not null;uniqueIndex"`
	RemoteAddr string `gorm:"not null;default:''"`
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

func (SessionModel) TableName() string { return "sessions" }

type AuditLogModel struct {
	ID          uint `gorm:"primaryKey"`
	ActorUserID *uint
	Action      string `gorm:"not null;index"`
	RemoteAddr  string `gorm:"not null;default:''"`
	Metadata    string
	CreatedAt   time.Time
}

func (AuditLogModel) TableName() string { return "audit_logs" }

type BanModel struct {
	Address   string `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (BanModel) TableName() string { return "ip_bans" }
