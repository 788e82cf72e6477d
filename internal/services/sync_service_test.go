package services

import (
	"context"
	"errors"
	"testing"

	"github.com/nkoutris/go-chat-sync/internal/cloud"
	"github.com/nkoutris/go-chat-sync/internal/domain"
	"github.com/nkoutris/go-chat-sync/internal/repo"
)

func TestCreateChatGuestStaysLocal(t *testing.T) {
	svc, fc, _ := newSyncHarness(t)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, nil, "  hello   world  ")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if c.Title != "hello world" {
		t.Fatalf("title = %q; want normalized", c.Title)
	}
	if c.Synced || c.RemoteID != nil {
		t.Fatal("guest chat must not be synced")
	}
	if len(fc.chats) != 0 {
		t.Fatal("guest create must not touch the cloud")
	}
}

func TestCreateChatAuthenticatedMirrorsToCloud(t *testing.T) {
	svc, fc, _ := newSyncHarness(t)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, authSession("u1"), "Trip planning")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if !c.Synced || c.RemoteID == nil {
		t.Fatal("authenticated create must attach a remote id")
	}
	if _, ok := fc.chats[*c.RemoteID]; !ok {
		t.Fatal("cloud document missing")
	}

	// Metadata document got the new entry.
	list, err := svc.Meta.List(ctx, "u1")
	if err != nil {
		t.Fatalf("meta list: %v", err)
	}
	if len(list) != 1 || list[0].RemoteID != *c.RemoteID {
		t.Fatalf("metadata entries = %+v", list)
	}
}

func TestCreateChatCloudFailureKeepsLocalCopy(t *testing.T) {
	svc, fc, _ := newSyncHarness(t)
	fc.failCreateChat = true
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, authSession("u1"), "Offline chat")
	if err != nil {
		t.Fatalf("cloud failure must not fail the create: %v", err)
	}
	if c.Synced || c.RemoteID != nil {
		t.Fatal("chat must stay unsynced after a failed cloud write")
	}

	got, err := svc.GetChat(ctx, c.LocalID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if got.Title != "Offline chat" {
		t.Fatalf("local row missing, got %+v", got)
	}
}

func TestListChatsPullsDownMissingCloudChats(t *testing.T) {
	svc, fc, _ := newSyncHarness(t)
	ctx := context.Background()
	sess := authSession("u1")

	// A chat created on another device exists only in the cloud.
	remote, err := fc.CreateChat(ctx, "u1", cloudChatDoc("Other device"))
	if err != nil {
		t.Fatalf("seed cloud: %v", err)
	}

	chats, err := svc.ListChats(ctx, sess)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("expected the cloud chat mirrored locally, got %d", len(chats))
	}
	if chats[0].RemoteID == nil || *chats[0].RemoteID != remote.ID {
		t.Fatal("mirrored chat not keyed by remote id")
	}

	// Listing again must not duplicate the mirror.
	chats, err = svc.ListChats(ctx, sess)
	if err != nil {
		t.Fatalf("second ListChats: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("mirror duplicated: %d chats", len(chats))
	}
}

func TestListChatsCloudDownServesLocal(t *testing.T) {
	svc, fc, _ := newSyncHarness(t)
	ctx := context.Background()
	sess := authSession("u1")

	if _, err := svc.CreateChat(ctx, sess, "Survivor"); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	fc.failListChats = true

	chats, err := svc.ListChats(ctx, sess)
	if err != nil {
		t.Fatalf("ListChats with cloud down: %v", err)
	}
	if len(chats) != 1 || chats[0].Title != "Survivor" {
		t.Fatalf("local list not served, got %+v", chats)
	}
}

func TestUpdateTitleRenamesBothStores(t *testing.T) {
	svc, fc, _ := newSyncHarness(t)
	ctx := context.Background()
	sess := authSession("u1")

	c, err := svc.CreateChat(ctx, sess, "Before")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if err := svc.UpdateTitle(ctx, sess, c.LocalID, "After"); err != nil {
		t.Fatalf("UpdateTitle: %v", err)
	}

	got, _ := svc.GetChat(ctx, c.LocalID)
	if got.Title != "After" {
		t.Fatalf("local title = %q", got.Title)
	}
	if fc.chats[*c.RemoteID].Title != "After" {
		t.Fatalf("cloud title = %q", fc.chats[*c.RemoteID].Title)
	}
}

func TestUpdateTitleCloudFailureMarksUnsynced(t *testing.T) {
	svc, fc, _ := newSyncHarness(t)
	ctx := context.Background()
	sess := authSession("u1")

	c, err := svc.CreateChat(ctx, sess, "Before")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	fc.failUpdateChat = true

	if err := svc.UpdateTitle(ctx, sess, c.LocalID, "After"); err != nil {
		t.Fatalf("cloud failure must not fail the rename: %v", err)
	}
	got, _ := svc.GetChat(ctx, c.LocalID)
	if got.Title != "After" {
		t.Fatal("local rename must stand")
	}
	if got.Synced {
		t.Fatal("chat must be flagged unsynced after a failed cloud update")
	}
}

func TestUpdateTitleUnknownChat(t *testing.T) {
	svc, _, _ := newSyncHarness(t)
	err := svc.UpdateTitle(context.Background(), nil, 999, "X")
	if !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("err = %v; want ErrChatNotFound", err)
	}
}

func TestArchiveAndPinFlags(t *testing.T) {
	svc, fc, _ := newSyncHarness(t)
	ctx := context.Background()
	sess := authSession("u1")

	c, err := svc.CreateChat(ctx, sess, "Flags")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if err := svc.SetArchived(ctx, sess, c.LocalID, true); err != nil {
		t.Fatalf("SetArchived: %v", err)
	}
	if err := svc.SetPinned(ctx, sess, c.LocalID, true); err != nil {
		t.Fatalf("SetPinned: %v", err)
	}

	got, _ := svc.GetChat(ctx, c.LocalID)
	if !got.IsArchived || !got.IsPinned {
		t.Fatalf("local flags = %+v", got)
	}
	doc := fc.chats[*c.RemoteID]
	if !doc.IsArchived || !doc.IsPinned {
		t.Fatalf("cloud flags = %+v", doc)
	}
}

func TestDeleteChatLocalAlwaysWins(t *testing.T) {
	svc, fc, _ := newSyncHarness(t)
	ctx := context.Background()
	sess := authSession("u1")

	c, err := svc.CreateChat(ctx, sess, "Doomed")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	remoteID := *c.RemoteID
	fc.failDeleteChat = true

	if err := svc.DeleteChat(ctx, sess, c.LocalID); err != nil {
		t.Fatalf("cloud failure must not block the local delete: %v", err)
	}
	if _, err := svc.GetChat(ctx, c.LocalID); !errors.Is(err, ErrChatNotFound) {
		t.Fatal("local row must be gone")
	}
	if _, ok := fc.chats[remoteID]; !ok {
		t.Fatal("cloud document should remain orphaned when its delete failed")
	}
}

func TestDeleteChatRemovesMetadataEntry(t *testing.T) {
	svc, _, _ := newSyncHarness(t)
	ctx := context.Background()
	sess := authSession("u1")

	c, err := svc.CreateChat(ctx, sess, "Tracked")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if err := svc.DeleteChat(ctx, sess, c.LocalID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	list, _ := svc.Meta.List(ctx, "u1")
	if len(list) != 0 {
		t.Fatalf("metadata entry should be gone, got %+v", list)
	}
}

func TestSaveMessageMirrorsAndBackfillsRemoteID(t *testing.T) {
	svc, fc, _ := newSyncHarness(t)
	ctx := context.Background()
	sess := authSession("u1")

	c, err := svc.CreateChat(ctx, sess, "Msgs")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	m, err := svc.SaveMessage(ctx, sess, c.LocalID, &domain.Message{Role: domain.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if m.RemoteID == nil {
		t.Fatal("remote id not backfilled")
	}
	if len(fc.messages[*c.RemoteID]) != 1 {
		t.Fatal("cloud message missing")
	}
	got, _ := svc.GetChat(ctx, c.LocalID)
	if got.MessageCount != 1 {
		t.Fatalf("message count = %d; want 1", got.MessageCount)
	}
	if fc.chats[*c.RemoteID].MessageCount != 1 {
		t.Fatalf("cloud message count = %d; want 1", fc.chats[*c.RemoteID].MessageCount)
	}
}

func TestSaveMessageCloudFailureKeepsLocalInsert(t *testing.T) {
	svc, fc, _ := newSyncHarness(t)
	ctx := context.Background()
	sess := authSession("u1")

	c, err := svc.CreateChat(ctx, sess, "Msgs")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	fc.failCreateMsg = true

	m, err := svc.SaveMessage(ctx, sess, c.LocalID, &domain.Message{Role: domain.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("cloud failure must not fail the save: %v", err)
	}
	if m.RemoteID != nil {
		t.Fatal("no remote id expected on a failed mirror")
	}
	msgs, err := svc.GetMessages(ctx, nil, c.LocalID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Fatalf("local message missing, got %+v", msgs)
	}
	got, _ := svc.GetChat(ctx, c.LocalID)
	if got.Synced {
		t.Fatal("chat must be flagged unsynced")
	}
}

func TestGetMessagesMergesCloudByRemoteID(t *testing.T) {
	svc, fc, _ := newSyncHarness(t)
	ctx := context.Background()
	sess := authSession("u1")

	c, err := svc.CreateChat(ctx, sess, "Merge")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if _, err := svc.SaveMessage(ctx, sess, c.LocalID, &domain.Message{Role: domain.RoleUser, Content: "local one"}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	// A message written by another device exists only in the cloud.
	if _, err := fc.CreateMessage(ctx, "u1", cloudMsgDoc(*c.RemoteID, "remote one")); err != nil {
		t.Fatalf("seed cloud message: %v", err)
	}

	msgs, err := svc.GetMessages(ctx, sess, c.LocalID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected merged list of 2, got %d", len(msgs))
	}

	// Re-reading must be stable: the merge key prevents duplicates.
	again, err := svc.GetMessages(ctx, sess, c.LocalID)
	if err != nil {
		t.Fatalf("second GetMessages: %v", err)
	}
	if len(again) != len(msgs) {
		t.Fatalf("repeat read changed the list: %d vs %d", len(again), len(msgs))
	}
}

func TestShareChatLifecycle(t *testing.T) {
	svc, fc, _ := newSyncHarness(t)
	ctx := context.Background()
	sess := authSession("u1")

	c, err := svc.CreateChat(ctx, sess, "Shared")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if _, err := svc.SaveMessage(ctx, sess, c.LocalID, &domain.Message{Role: domain.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	shareID, err := svc.ShareChat(ctx, sess, c.LocalID)
	if err != nil {
		t.Fatalf("ShareChat: %v", err)
	}
	if shareID == "" {
		t.Fatal("empty share id")
	}
	if fc.chats[*c.RemoteID].ShareID != shareID {
		t.Fatal("share id not pushed to the cloud")
	}

	// Anyone holding the token can read, no session required.
	doc, msgs, err := svc.GetSharedChat(ctx, shareID)
	if err != nil {
		t.Fatalf("GetSharedChat: %v", err)
	}
	if doc.Title != "Shared" || len(msgs) != 1 {
		t.Fatalf("shared view = %+v / %d msgs", doc, len(msgs))
	}

	if err := svc.UnshareChat(ctx, sess, c.LocalID); err != nil {
		t.Fatalf("UnshareChat: %v", err)
	}
	if _, _, err := svc.GetSharedChat(ctx, shareID); !errors.Is(err, ErrNotShared) {
		t.Fatalf("revoked token must resolve to ErrNotShared, got %v", err)
	}
}

func TestShareChatRequiresSync(t *testing.T) {
	svc, fc, _ := newSyncHarness(t)
	ctx := context.Background()

	fc.failCreateChat = true
	c, err := svc.CreateChat(ctx, authSession("u1"), "Unsynced")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	if _, err := svc.ShareChat(ctx, authSession("u1"), c.LocalID); !errors.Is(err, ErrNotSynced) {
		t.Fatalf("err = %v; want ErrNotSynced", err)
	}
	if _, err := svc.ShareChat(ctx, nil, c.LocalID); !errors.Is(err, ErrGuestOnly) {
		t.Fatalf("guest share err = %v; want ErrGuestOnly", err)
	}
}

func TestAdoptGuestChats(t *testing.T) {
	svc, fc, _ := newSyncHarness(t)
	ctx := context.Background()

	// Two chats created before sign-in, one with history.
	g1, err := svc.CreateChat(ctx, nil, "Guest one")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if _, err := svc.SaveMessage(ctx, nil, g1.LocalID, &domain.Message{Role: domain.RoleUser, Content: "q"}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := svc.SaveMessage(ctx, nil, g1.LocalID, &domain.Message{Role: domain.RoleAssistant, Content: "a"}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := svc.CreateChat(ctx, nil, "Guest two"); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	sess := authSession("u1")
	adopted, err := svc.AdoptGuestChats(ctx, sess)
	if err != nil {
		t.Fatalf("AdoptGuestChats: %v", err)
	}
	if adopted != 2 {
		t.Fatalf("adopted = %d; want 2", adopted)
	}

	got, _ := svc.GetChat(ctx, g1.LocalID)
	if !got.Synced || got.RemoteID == nil || got.OwnerID != "u1" {
		t.Fatalf("adopted chat not synced: %+v", got)
	}
	if len(fc.messages[*got.RemoteID]) != 2 {
		t.Fatalf("cloud messages = %d; want 2", len(fc.messages[*got.RemoteID]))
	}
	if fc.chats[*got.RemoteID].MessageCount != 2 {
		t.Fatalf("cloud count = %d; want 2", fc.chats[*got.RemoteID].MessageCount)
	}

	// Nothing left to adopt.
	left, err := repo.ListUnsyncedChats(ctx, svc.DB)
	if err != nil {
		t.Fatalf("ListUnsyncedChats: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("unsynced leftovers: %d", len(left))
	}
}

func TestAdoptGuestChatsSkipsFailuresForRetry(t *testing.T) {
	svc, fc, _ := newSyncHarness(t)
	ctx := context.Background()

	if _, err := svc.CreateChat(ctx, nil, "Stubborn"); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	fc.failCreateChat = true

	adopted, err := svc.AdoptGuestChats(ctx, authSession("u1"))
	if err != nil {
		t.Fatalf("AdoptGuestChats: %v", err)
	}
	if adopted != 0 {
		t.Fatalf("adopted = %d; want 0", adopted)
	}

	left, _ := repo.ListUnsyncedChats(ctx, svc.DB)
	if len(left) != 1 {
		t.Fatal("failed chat must stay unsynced for a later attempt")
	}
}

// cloudChatDoc builds a minimal cloud chat for seeding the fake.
func cloudChatDoc(title string) cloud.ChatDoc {
	return cloud.ChatDoc{Title: title}
}

// cloudMsgDoc builds a minimal cloud message for seeding the fake.
func cloudMsgDoc(chatID, content string) cloud.MessageDoc {
	return cloud.MessageDoc{ChatID: chatID, Role: domain.RoleUser, Kind: domain.KindText, Content: content}
}
