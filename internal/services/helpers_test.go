package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nkoutris/go-chat-sync/internal/cloud"
	"github.com/nkoutris/go-chat-sync/internal/domain"
)

// newServiceDB opens a throwaway on-disk SQLite database with the full
// schema migrated.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "svc.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Chat{}, &domain.Message{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// fakeCloud is an in-memory CloudStore with per-call failure switches.
type fakeCloud struct {
	chats    map[string]*cloud.ChatDoc
	messages map[string][]*cloud.MessageDoc // chatID -> docs
	seq      int

	failCreateChat bool
	failListChats  bool
	failUpdateChat bool
	failDeleteChat bool
	failCreateMsg  bool
	failListMsgs   bool
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{chats: map[string]*cloud.ChatDoc{}, messages: map[string][]*cloud.MessageDoc{}}
}

var errCloudDown = errors.New("cloud unavailable")

func (f *fakeCloud) nextID() string {
	f.seq++
	return fmt.Sprintf("doc-%d", f.seq)
}

func (f *fakeCloud) CreateChat(_ context.Context, userID string, d cloud.ChatDoc) (*cloud.ChatDoc, error) {
	if f.failCreateChat {
		return nil, errCloudDown
	}
	d.ID = f.nextID()
	d.UserID = userID
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	f.chats[d.ID] = &d
	cp := d
	return &cp, nil
}

func (f *fakeCloud) ListChats(_ context.Context, userID string, _ int) ([]cloud.ChatDoc, error) {
	if f.failListChats {
		return nil, errCloudDown
	}
	var out []cloud.ChatDoc
	for _, c := range f.chats {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCloud) GetChat(_ context.Context, remoteID string) (*cloud.ChatDoc, error) {
	c, ok := f.chats[remoteID]
	if !ok {
		return nil, cloud.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCloud) UpdateChat(_ context.Context, remoteID string, patch map[string]any) (*cloud.ChatDoc, error) {
	if f.failUpdateChat {
		return nil, errCloudDown
	}
	c, ok := f.chats[remoteID]
	if !ok {
		return nil, cloud.ErrNotFound
	}
	for k, v := range patch {
		switch k {
		case "title":
			c.Title = v.(string)
		case "isArchived":
			c.IsArchived = v.(bool)
		case "isPinned":
			c.IsPinned = v.(bool)
		case "messageCount":
			switch n := v.(type) {
			case int:
				c.MessageCount = n
			case int64:
				c.MessageCount = int(n)
			}
		case "shareId":
			c.ShareID, _ = v.(string)
		case "sharedBy":
			c.SharedBy, _ = v.(string)
		case "sharedAt":
			if ts, ok := v.(time.Time); ok {
				c.SharedAt = &ts
			} else {
				c.SharedAt = nil
			}
		}
	}
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	return &cp, nil
}

func (f *fakeCloud) DeleteChat(_ context.Context, remoteID string) error {
	if f.failDeleteChat {
		return errCloudDown
	}
	if _, ok := f.chats[remoteID]; !ok {
		return cloud.ErrNotFound
	}
	delete(f.chats, remoteID)
	delete(f.messages, remoteID)
	return nil
}

func (f *fakeCloud) CreateMessage(_ context.Context, userID string, d cloud.MessageDoc) (*cloud.MessageDoc, error) {
	if f.failCreateMsg {
		return nil, errCloudDown
	}
	d.ID = f.nextID()
	d.UserID = userID
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	f.messages[d.ChatID] = append(f.messages[d.ChatID], &d)
	cp := d
	return &cp, nil
}

func (f *fakeCloud) ListMessages(_ context.Context, chatID string) ([]cloud.MessageDoc, error) {
	if f.failListMsgs {
		return nil, errCloudDown
	}
	var out []cloud.MessageDoc
	for _, m := range f.messages[chatID] {
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeCloud) FindChatByShareID(_ context.Context, shareID string) (*cloud.ChatDoc, error) {
	for _, c := range f.chats {
		if c.ShareID == shareID && shareID != "" {
			cp := *c
			return &cp, nil
		}
	}
	return nil, cloud.ErrNotFound
}

// newSyncHarness wires a SyncService over a fresh database and fake cloud.
func newSyncHarness(t *testing.T) (*SyncService, *fakeCloud, *fakeBlobStore) {
	t.Helper()
	db := newServiceDB(t)
	fc := newFakeCloud()
	blobs := newFakeBlobStore()
	svc := NewSyncService(db, fc, &MetadataService{Store: blobs})
	return svc, fc, blobs
}

func authSession(userID string) *domain.Session { return &domain.Session{UserID: userID} }
