// Package repo implements the local store, backed by GORM. This file provides
// repository helpers for the Idempotency model used to implement safe-retry
// semantics for the non-streaming message post path.
package repo

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nkoutris/go-chat-sync/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (user_id, chat_local_id, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID string, chatLocalID uint, key string, now time.Time) (*domain.Idempotency, error) {
	if chatLocalID == 0 {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND chat_local_id = ? AND key = ? AND expires_at > ?",
			userID, strconv.FormatUint(uint64(chatLocalID), 10), key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique
// violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID string, chatLocalID uint, key string, messageID uint, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:          uuid.NewString(),
		UserID:      userID,
		ChatLocalID: strconv.FormatUint(uint64(chatLocalID), 10),
		Key:         key,
		MessageID:   messageID,
		Status:      status,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}
