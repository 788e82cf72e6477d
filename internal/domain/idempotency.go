// Package domain defines the core persistence models for the application.
package domain

import "time"

// Idempotency records the outcome of a previously processed message post,
// keyed by (user_id, chat_local_id, key). It lets the non-streaming send
// path replay the originally produced assistant message on client retry
// instead of re-running generation.
type Idempotency struct {
	ID          string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID      string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_chat_key,priority:1"`
	ChatLocalID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_chat_key,priority:2"`
	Key         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_chat_key,priority:3"`
	MessageID   uint      `gorm:"type:INTEGER NOT NULL"`
	Status      int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt   time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt   time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
