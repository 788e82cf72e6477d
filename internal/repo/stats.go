// Package repo implements the local store, backed by GORM. This file provides
// small aggregate queries used for conditional responses (ETag generation)
// in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/nkoutris/go-chat-sync/internal/domain"
)

// ChatsStats returns the number of chats visible to ownerID and the greatest
// UpdatedAt among them. When there are no rows, count is 0 and maxUpdatedAt
// is nil.
func ChatsStats(ctx context.Context, db *gorm.DB, ownerID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Chat{}).Where("owner_id = ? OR owner_id = ''", ownerID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get the latest updated_at (avoid MAX() -> TEXT in SQLite).
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// MessagesStats returns the number of messages in a chat and the greatest
// CreatedAt among them. When the chat is empty, count is 0 and maxCreatedAt
// is nil.
func MessagesStats(ctx context.Context, db *gorm.DB, chatLocalID uint) (count int64, maxCreatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("chat_local_id = ?", chatLocalID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
