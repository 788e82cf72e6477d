// Package repo implements the local store, backed by GORM. This file provides
// repository functions for the Chat model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no reconciliation logic, only CRUD
// persistence and query composition. Storage targets for each mutation are
// decided one layer up (services.SyncService).
//
// Error semantics:
//   - When a chat is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - When SQLite reports an exhausted volume, the error is wrapped so
//     callers can detect it with errors.Is(err, ErrStorageFull).
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/nkoutris/go-chat-sync/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service
// layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrStorageFull marks local writes rejected because the device storage
// quota is exhausted.
var ErrStorageFull = errors.New("local storage full")

// wrapStorageErr converts SQLite disk-full failures into ErrStorageFull
// wrappers and passes every other error through untouched.
func wrapStorageErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "database or disk is full") {
		return fmt.Errorf("%w: %v", ErrStorageFull, err)
	}
	return err
}

// CreateChat inserts a new unsynced chat row. A freshly created chat has no
// RemoteID; attaching one is the sync layer's job after a successful cloud
// write. OwnerID may be empty for guest-created chats.
func CreateChat(ctx context.Context, db *gorm.DB, ownerID, title string) (*domain.Chat, error) {
	now := time.Now().UTC()
	c := &domain.Chat{
		OwnerID:   ownerID,
		Title:     title,
		Synced:    false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, wrapStorageErr(err)
	}
	return c, nil
}

// InsertChat inserts a fully populated chat row, used when mirroring a cloud
// chat that has no local counterpart yet. The caller supplies RemoteID,
// Synced, timestamps, and flags.
func InsertChat(ctx context.Context, db *gorm.DB, c *domain.Chat) error {
	return wrapStorageErr(db.WithContext(ctx).Create(c).Error)
}

// GetChat fetches a chat by its local id, or ErrNotFound.
func GetChat(ctx context.Context, db *gorm.DB, localID uint) (*domain.Chat, error) {
	var c domain.Chat
	if err := db.WithContext(ctx).First(&c, "local_id = ?", localID).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChatByRemoteID fetches a chat by its cloud identity, or ErrNotFound.
// This is the only lookup merge logic is allowed to use once a RemoteID
// exists.
func GetChatByRemoteID(ctx context.Context, db *gorm.DB, remoteID string) (*domain.Chat, error) {
	var c domain.Chat
	if err := db.WithContext(ctx).First(&c, "remote_id = ?", remoteID).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChats returns the device's chats visible to ownerID, newest first.
// Guest rows (empty owner) are always included: they belong to whoever is
// using the device until a login adopts them.
func ListChats(ctx context.Context, db *gorm.DB, ownerID string) ([]domain.Chat, error) {
	var out []domain.Chat
	err := db.WithContext(ctx).
		Where("owner_id = ? OR owner_id = ''", ownerID).
		Order("created_at desc, local_id desc").
		Find(&out).Error
	return out, err
}

// ListUnsyncedChats returns chats that have never reached the cloud store,
// oldest first so the guest-to-authenticated merge preserves creation order.
func ListUnsyncedChats(ctx context.Context, db *gorm.DB) ([]domain.Chat, error) {
	var out []domain.Chat
	err := db.WithContext(ctx).
		Where("synced = ? AND remote_id IS NULL", false).
		Order("created_at asc, local_id asc").
		Find(&out).Error
	return out, err
}

// UpdateChat applies a field patch to a chat and bumps UpdatedAt. It returns
// ErrNotFound when no row matches.
func UpdateChat(ctx context.Context, db *gorm.DB, localID uint, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	patch["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("local_id = ?", localID).
		Updates(patch)
	if res.Error != nil {
		return wrapStorageErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AttachRemoteID records the server-assigned identity on a local chat and
// marks it synced. Both fields change together so a chat is never observed
// synced without a RemoteID.
func AttachRemoteID(ctx context.Context, db *gorm.DB, localID uint, ownerID, remoteID string) error {
	return UpdateChat(ctx, db, localID, map[string]any{
		"remote_id": remoteID,
		"synced":    true,
		"owner_id":  ownerID,
	})
}

// MarkUnsynced flags a chat whose latest cloud write failed. The RemoteID,
// if any, is kept: the cloud counterpart still exists, it is merely stale.
func MarkUnsynced(ctx context.Context, db *gorm.DB, localID uint) error {
	return UpdateChat(ctx, db, localID, map[string]any{"synced": false})
}

// DeleteChatCascade removes a chat and all of its messages. The message
// delete runs first so a mid-sequence failure cannot leave orphaned local
// messages behind a missing chat.
func DeleteChatCascade(ctx context.Context, db *gorm.DB, localID uint) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_local_id = ?", localID).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("local_id = ?", localID).Delete(&domain.Chat{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// TouchMessageCount bumps the denormalized message counter and UpdatedAt.
func TouchMessageCount(ctx context.Context, db *gorm.DB, localID uint, delta int) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("local_id = ?", localID).
		Updates(map[string]any{
			"message_count": gorm.Expr("message_count + ?", delta),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
