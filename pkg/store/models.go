package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models. Table names follow the original meeting database schema.

type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Name         string    `gorm:"not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

func (UserModel) TableName() string { return "users" }

type SessionModel struct {
	ID              string         `gorm:"primaryKey"`
	OwnerID         *string        `gorm:"index"`
	Title           string         `gorm:"not null"`
	RecordedAt      time.Time      `gorm:"not null;index"`
	DurationSeconds int
	Transcript      string         `gorm:"type:longtext"`
	Summary         string         `gorm:"type:text"`
	Classification  string         `gorm:"size:100"`
	Visuals         datatypes.JSON `gorm:"type:json"`
	CreatedAt       time.Time      `gorm:"not null"`
	UpdatedAt       time.Time
}

func (SessionModel) TableName() string { return "sessions" }

type ChatMessageModel struct {
	ID        string    `gorm:"primaryKey"`
	OwnerID   *string   `gorm:"index"`
	SessionID *string   `gorm:"index"`
	Role      string    `gorm:"size:20;not null"`
	Message   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (ChatMessageModel) TableName() string { return "chat_history" }
