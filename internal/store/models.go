// Package store persists users and messages for the chat relay using GORM
// over SQLite. Messages form an append-only log: records are inserted with a
// store-assigned timestamp and never mutated afterwards.
package store

import "time"

// User is a registered identity. Users created lazily on first room join
// carry an empty password hash and cannot log in until they register.
type User struct {
	ID           uint      `gorm:"primarykey" json:"-"`
	Username     string    `gorm:"size:80;uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"size:128" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the table name for the User model.
func (User) TableName() string {
	return "users"
}

// Message is one persisted chat record. Recipient is a username for direct
// messages and a room code for room broadcasts.
type Message struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	Sender    string    `gorm:"size:80;not null;index" json:"sender"`
	Recipient string    `gorm:"size:80;not null;index" json:"recipient"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Timestamp time.Time `gorm:"index;autoCreateTime" json:"timestamp"`
}

// TableName returns the table name for the Message model.
func (Message) TableName() string {
	return "messages"
}
