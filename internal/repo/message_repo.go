// Package repo implements the local store, backed by GORM. This file provides
// repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/nkoutris/go-chat-sync/internal/domain"
)

// CreateMessage inserts a new message row. When CreatedAt is zero it is set
// to the current UTC time; mirrored cloud messages keep their server
// timestamp so ordering survives the round trip.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Kind == "" {
		m.Kind = domain.KindText
	}
	return wrapStorageErr(db.WithContext(ctx).Create(m).Error)
}

// ListMessages returns a chat's messages ordered deterministically
// (CreatedAt ASC, LocalID ASC). Equal timestamps fall back to insertion
// order rather than upsetting the sort.
func ListMessages(ctx context.Context, db *gorm.DB, chatLocalID uint) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_local_id = ?", chatLocalID).
		Order("created_at ASC, local_id ASC").
		Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, chatLocalID uint) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE chat_local_id = ?", chatLocalID).
		Scan(&total).Error
	return total, err
}

// GetMessage fetches a message by local id.
func GetMessage(ctx context.Context, db *gorm.DB, localID uint) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).First(&m, "local_id = ?", localID).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// HasMessageRemoteID reports whether a cloud message is already mirrored
// into the chat. Merge logic keys on RemoteID only.
func HasMessageRemoteID(ctx context.Context, db *gorm.DB, chatLocalID uint, remoteID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("chat_local_id = ? AND remote_id = ?", chatLocalID, remoteID).
		Count(&n).Error
	return n > 0, err
}

// SetMessageRemoteID backfills the cloud identity on a local message after a
// successful cloud write.
func SetMessageRemoteID(ctx context.Context, db *gorm.DB, localID uint, remoteID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("local_id = ?", localID).
		Update("remote_id", remoteID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
