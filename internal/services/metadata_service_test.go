package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nkoutris/go-chat-sync/internal/domain"
)

// fakeBlobStore is an in-memory SummaryStore.
type fakeBlobStore struct {
	blobs   map[string]string
	getErr  error
	putErr  error
	putHits int
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: map[string]string{}}
}

func (f *fakeBlobStore) GetSummariesBlob(_ context.Context, userID string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	return f.blobs[userID], nil
}

func (f *fakeBlobStore) PutSummariesBlob(_ context.Context, userID, blob string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.putHits++
	f.blobs[userID] = blob
	return nil
}

func TestMetadataCreateThenUpdateConverges(t *testing.T) {
	store := newFakeBlobStore()
	svc := &MetadataService{Store: store}
	ctx := context.Background()

	if err := svc.ApplyCreate(ctx, "u1", domain.ChatSummary{RemoteID: "r1", Title: "First"}); err != nil {
		t.Fatalf("ApplyCreate: %v", err)
	}
	if err := svc.ApplyUpdate(ctx, "u1", domain.ChatSummary{RemoteID: "r1", Title: "Renamed", UpdatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}

	list, err := svc.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(list))
	}
	if list[0].Title != "Renamed" {
		t.Fatalf("title = %q; want Renamed", list[0].Title)
	}

	if err := svc.ApplyDelete(ctx, "u1", "r1"); err != nil {
		t.Fatalf("ApplyDelete: %v", err)
	}
	list, _ = svc.List(ctx, "u1")
	if len(list) != 0 {
		t.Fatalf("expected empty list after delete, got %d entries", len(list))
	}
}

func TestMetadataCreatesAreNewestFirst(t *testing.T) {
	store := newFakeBlobStore()
	svc := &MetadataService{Store: store}
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := svc.ApplyCreate(ctx, "u1", domain.ChatSummary{RemoteID: id, Title: id}); err != nil {
			t.Fatalf("ApplyCreate(%s): %v", id, err)
		}
	}

	list, err := svc.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"c", "b", "a"}
	for i, w := range want {
		if list[i].RemoteID != w {
			t.Fatalf("position %d = %q; want %q", i, list[i].RemoteID, w)
		}
	}
}

func TestMetadataUpdateMissIsDropped(t *testing.T) {
	store := newFakeBlobStore()
	svc := &MetadataService{Store: store}
	ctx := context.Background()

	if err := svc.ApplyUpdate(ctx, "u1", domain.ChatSummary{RemoteID: "ghost", Title: "X"}); err != nil {
		t.Fatalf("update miss should not error, got %v", err)
	}
	if store.putHits != 0 {
		t.Fatalf("update miss must not write, got %d writes", store.putHits)
	}
	list, _ := svc.List(ctx, "u1")
	if len(list) != 0 {
		t.Fatalf("update miss must not insert, got %d entries", len(list))
	}
}

func TestMetadataSequentialChatsBothPresent(t *testing.T) {
	store := newFakeBlobStore()
	svc := &MetadataService{Store: store}
	ctx := context.Background()

	if err := svc.ApplyCreate(ctx, "u1", domain.ChatSummary{RemoteID: "r1", Title: "One"}); err != nil {
		t.Fatalf("create r1: %v", err)
	}
	if err := svc.ApplyCreate(ctx, "u1", domain.ChatSummary{RemoteID: "r2", Title: "Two"}); err != nil {
		t.Fatalf("create r2: %v", err)
	}
	if err := svc.ApplyUpdate(ctx, "u1", domain.ChatSummary{RemoteID: "r1", MessageCount: 4}); err != nil {
		t.Fatalf("update r1: %v", err)
	}
	if err := svc.ApplyUpdate(ctx, "u1", domain.ChatSummary{RemoteID: "r2", MessageCount: 2}); err != nil {
		t.Fatalf("update r2: %v", err)
	}

	list, err := svc.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected both chats present, got %d", len(list))
	}
	counts := map[string]int{}
	for _, e := range list {
		counts[e.RemoteID] = e.MessageCount
	}
	if counts["r1"] != 4 || counts["r2"] != 2 {
		t.Fatalf("message counts = %v", counts)
	}
}

func TestMetadataStoreErrorsPropagate(t *testing.T) {
	store := newFakeBlobStore()
	store.getErr = errors.New("boom")
	svc := &MetadataService{Store: store}

	if err := svc.ApplyCreate(context.Background(), "u1", domain.ChatSummary{RemoteID: "r1"}); err == nil {
		t.Fatal("expected read error to propagate")
	}
}

func TestMetadataUsersAreIsolated(t *testing.T) {
	store := newFakeBlobStore()
	svc := &MetadataService{Store: store}
	ctx := context.Background()

	if err := svc.ApplyCreate(ctx, "u1", domain.ChatSummary{RemoteID: "r1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	list, err := svc.List(ctx, "u2")
	if err != nil {
		t.Fatalf("List(u2): %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("u2 must not see u1 entries, got %d", len(list))
	}
}
