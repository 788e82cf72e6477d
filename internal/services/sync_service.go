// Package services: SyncService.
//
// This file implements the reconciliation layer: the single entry point
// that decides, per mutation, whether to write to the local store only, the
// cloud store only, or both, and how the two stay convergent when a guest
// signs in.
//
// Policy, in one place:
//   - Writes go local-first for immediate feedback; the cloud write follows
//     when a session is present.
//   - The cloud is the source of truth for chat *existence*; the local
//     store is the read path. Listing pulls missing cloud chats down, then
//     serves everything from SQLite.
//   - Once a chat has a RemoteID, that id is its cross-device identity and
//     the only merge key. Local ids never leave the device.
//   - Cloud failures are logged and swallowed whenever the local row
//     already satisfies the user-visible operation; nothing is retried
//     automatically.
//   - Delete is local-always-wins: the local row goes away even when the
//     cloud delete fails, which can strand cloud documents. Accepted.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/nkoutris/go-chat-sync/internal/cloud"
	"github.com/nkoutris/go-chat-sync/internal/domain"
	"github.com/nkoutris/go-chat-sync/internal/repo"
)

// CloudStore is the document-database contract required by SyncService.
// Implemented by cloud.Client; tests substitute fakes and failure
// injectors.
type CloudStore interface {
	CreateChat(ctx context.Context, userID string, d cloud.ChatDoc) (*cloud.ChatDoc, error)
	ListChats(ctx context.Context, userID string, limit int) ([]cloud.ChatDoc, error)
	GetChat(ctx context.Context, remoteID string) (*cloud.ChatDoc, error)
	UpdateChat(ctx context.Context, remoteID string, patch map[string]any) (*cloud.ChatDoc, error)
	DeleteChat(ctx context.Context, remoteID string) error
	CreateMessage(ctx context.Context, userID string, d cloud.MessageDoc) (*cloud.MessageDoc, error)
	ListMessages(ctx context.Context, chatID string) ([]cloud.MessageDoc, error)
	FindChatByShareID(ctx context.Context, shareID string) (*cloud.ChatDoc, error)
}

// SyncService reconciles the local store with the cloud store.
type SyncService struct {
	DB    *gorm.DB
	Cloud CloudStore
	Meta  *MetadataService

	// ListLimit caps how many cloud chats a listing pulls down.
	ListLimit int
}

// NewSyncService constructs a SyncService with defaults.
func NewSyncService(db *gorm.DB, cs CloudStore, meta *MetadataService) *SyncService {
	return &SyncService{DB: db, Cloud: cs, Meta: meta, ListLimit: 100}
}

// summaryOf projects a local chat row into its metadata document entry.
func summaryOf(c *domain.Chat) domain.ChatSummary {
	sum := domain.ChatSummary{
		Title:        c.Title,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: c.MessageCount,
		IsArchived:   c.IsArchived,
		IsPinned:     c.IsPinned,
		IsBranch:     c.IsBranch,
	}
	if c.RemoteID != nil {
		sum.RemoteID = *c.RemoteID
	}
	return sum
}

// metaApply runs one metadata mutation and swallows its failure. The
// summary document is a cache; it must never fail the primary operation.
func (s *SyncService) metaApply(userID, op string, err error) {
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Str("op", op).
			Msg("metadata cache update failed; will self-heal on next mutation")
	}
}

// CreateChat writes a new chat to the local store and, for authenticated
// sessions, mirrors it to the cloud. A failed cloud write leaves the chat
// local-only and unsynced; it is not retried.
func (s *SyncService) CreateChat(ctx context.Context, sess *domain.Session, title string) (*domain.Chat, error) {
	return s.createChat(ctx, sess, title, nil)
}

// CreateBranchChat creates a chat flagged as a branch of parent. Used by
// the regenerate orchestrator.
func (s *SyncService) CreateBranchChat(ctx context.Context, sess *domain.Session, title string, parent *domain.Chat) (*domain.Chat, error) {
	return s.createChat(ctx, sess, title, parent)
}

func (s *SyncService) createChat(ctx context.Context, sess *domain.Session, title string, parent *domain.Chat) (*domain.Chat, error) {
	title = normalizeTitle(title)
	if title == "" {
		title = "New chat"
	}

	now := time.Now().UTC()
	c := &domain.Chat{
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sess.Authenticated() {
		c.OwnerID = sess.UserID
	}
	if parent != nil {
		c.IsBranch = true
		c.ParentRemoteID = parent.RemoteID
		c.ParentTitle = parent.Title
	}
	if err := repo.InsertChat(ctx, s.DB, c); err != nil {
		return nil, err
	}

	if !sess.Authenticated() {
		return c, nil
	}

	doc := cloud.ChatDoc{Title: c.Title, IsBranch: c.IsBranch, ParentChatTitle: c.ParentTitle}
	if c.ParentRemoteID != nil {
		doc.ParentChatID = *c.ParentRemoteID
	}
	created, err := s.Cloud.CreateChat(ctx, sess.UserID, doc)
	if err != nil {
		// Chat remains usable in guest-equivalent mode.
		log.Warn().Err(err).Uint("chat", c.LocalID).Msg("cloud chat create failed; keeping local-only")
		return c, nil
	}
	if err := repo.AttachRemoteID(ctx, s.DB, c.LocalID, sess.UserID, created.ID); err != nil {
		return nil, err
	}
	c.MarkSynced(created.ID)

	s.metaApply(sess.UserID, "create", s.Meta.ApplyCreate(ctx, sess.UserID, summaryOf(c)))
	return c, nil
}

// ListChats returns the full chat list, newest first. For authenticated
// sessions it first pulls down cloud chats with no local counterpart
// (matched by RemoteID), so the cloud governs existence while reads stay
// local.
func (s *SyncService) ListChats(ctx context.Context, sess *domain.Session) ([]domain.Chat, error) {
	ownerID := ""
	if sess.Authenticated() {
		ownerID = sess.UserID

		docs, err := s.Cloud.ListChats(ctx, sess.UserID, s.ListLimit)
		if err != nil {
			log.Warn().Err(err).Str("user", sess.UserID).Msg("cloud chat list failed; serving local list")
		} else {
			for i := range docs {
				if err := s.mirrorChat(ctx, sess.UserID, &docs[i]); err != nil {
					return nil, err
				}
			}
		}
	}
	return repo.ListChats(ctx, s.DB, ownerID)
}

// mirrorChat inserts a local row for a cloud chat that has none yet.
func (s *SyncService) mirrorChat(ctx context.Context, userID string, doc *cloud.ChatDoc) error {
	_, err := repo.GetChatByRemoteID(ctx, s.DB, doc.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	c := &domain.Chat{
		OwnerID:      userID,
		Title:        doc.Title,
		Synced:       true,
		MessageCount: doc.MessageCount,
		IsArchived:   doc.IsArchived,
		IsPinned:     doc.IsPinned,
		IsBranch:     doc.IsBranch,
		ParentTitle:  doc.ParentChatTitle,
		SharedAt:     doc.SharedAt,
		SharedBy:     doc.SharedBy,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
	c.RemoteID = &doc.ID
	if doc.ParentChatID != "" {
		pid := doc.ParentChatID
		c.ParentRemoteID = &pid
	}
	if doc.ShareID != "" {
		sid := doc.ShareID
		c.ShareID = &sid
	}
	return repo.InsertChat(ctx, s.DB, c)
}

// GetChat fetches one local chat row.
func (s *SyncService) GetChat(ctx context.Context, localID uint) (*domain.Chat, error) {
	c, err := repo.GetChat(ctx, s.DB, localID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	return c, err
}

// UpdateTitle renames a chat locally and pushes the rename to the cloud
// when a counterpart exists. A failed cloud write leaves the chat flagged
// unsynced; the local rename stands either way.
func (s *SyncService) UpdateTitle(ctx context.Context, sess *domain.Session, localID uint, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		title = "Untitled"
	}
	c, err := s.GetChat(ctx, localID)
	if err != nil {
		return err
	}
	if err := repo.UpdateChat(ctx, s.DB, localID, map[string]any{"title": title}); err != nil {
		return err
	}
	c.Title = title
	s.pushChatPatch(ctx, sess, c, map[string]any{"title": title})
	return nil
}

// SetArchived toggles the archive flag on both stores.
func (s *SyncService) SetArchived(ctx context.Context, sess *domain.Session, localID uint, archived bool) error {
	return s.setFlag(ctx, sess, localID, "is_archived", "isArchived", archived)
}

// SetPinned toggles the pin flag on both stores.
func (s *SyncService) SetPinned(ctx context.Context, sess *domain.Session, localID uint, pinned bool) error {
	return s.setFlag(ctx, sess, localID, "is_pinned", "isPinned", pinned)
}

func (s *SyncService) setFlag(ctx context.Context, sess *domain.Session, localID uint, localField, cloudField string, v bool) error {
	c, err := s.GetChat(ctx, localID)
	if err != nil {
		return err
	}
	if err := repo.UpdateChat(ctx, s.DB, localID, map[string]any{localField: v}); err != nil {
		return err
	}
	switch localField {
	case "is_archived":
		c.IsArchived = v
	case "is_pinned":
		c.IsPinned = v
	}
	s.pushChatPatch(ctx, sess, c, map[string]any{cloudField: v})
	return nil
}

// pushChatPatch mirrors a chat-level patch to the cloud and the metadata
// document. Cloud failures mark the row unsynced and are swallowed.
func (s *SyncService) pushChatPatch(ctx context.Context, sess *domain.Session, c *domain.Chat, patch map[string]any) {
	if !sess.Authenticated() || c.RemoteID == nil {
		return
	}
	if _, err := s.Cloud.UpdateChat(ctx, *c.RemoteID, patch); err != nil {
		log.Warn().Err(err).Uint("chat", c.LocalID).Msg("cloud chat update failed; marked unsynced")
		if merr := repo.MarkUnsynced(ctx, s.DB, c.LocalID); merr != nil {
			log.Error().Err(merr).Uint("chat", c.LocalID).Msg("failed to flag chat unsynced")
		}
		return
	}
	if !c.Synced {
		if err := repo.UpdateChat(ctx, s.DB, c.LocalID, map[string]any{"synced": true}); err != nil {
			log.Error().Err(err).Uint("chat", c.LocalID).Msg("failed to flag chat synced")
		}
	}
	c.UpdatedAt = time.Now().UTC()
	s.metaApply(sess.UserID, "update", s.Meta.ApplyUpdate(ctx, sess.UserID, summaryOf(c)))
}

// DeleteChat removes a chat. The cloud delete runs first when a counterpart
// exists; the local delete is unconditional so the UI can never get stuck
// on a chat the user removed. A failed cloud delete strands cloud
// documents; accepted and logged.
func (s *SyncService) DeleteChat(ctx context.Context, sess *domain.Session, localID uint) error {
	c, err := s.GetChat(ctx, localID)
	if err != nil {
		return err
	}

	if sess.Authenticated() && c.RemoteID != nil {
		if err := s.Cloud.DeleteChat(ctx, *c.RemoteID); err != nil {
			log.Warn().Err(err).Str("remote", *c.RemoteID).
				Msg("cloud chat delete failed; local delete proceeds, cloud documents may be orphaned")
		} else {
			s.metaApply(sess.UserID, "delete", s.Meta.ApplyDelete(ctx, sess.UserID, *c.RemoteID))
		}
	}

	return repo.DeleteChatCascade(ctx, s.DB, localID)
}

// SaveMessage appends a message to a chat. The local insert always happens;
// when the chat has a cloud counterpart the message is mirrored and its
// RemoteID backfilled. Cloud failure never rolls back the local insert.
func (s *SyncService) SaveMessage(ctx context.Context, sess *domain.Session, localID uint, m *domain.Message) (*domain.Message, error) {
	c, err := s.GetChat(ctx, localID)
	if err != nil {
		return nil, err
	}

	m.ChatLocalID = localID
	if err := repo.CreateMessage(ctx, s.DB, m); err != nil {
		return nil, err
	}
	if err := repo.TouchMessageCount(ctx, s.DB, localID, 1); err != nil {
		return nil, err
	}
	c.MessageCount++

	if sess.Authenticated() && c.RemoteID != nil {
		doc := cloud.MessageDoc{
			ChatID:             *c.RemoteID,
			Role:               m.Role,
			Kind:               m.Kind,
			Content:            m.Content,
			Model:              m.Model,
			ImageURL:           m.ImageURL,
			ImagePrompt:        m.ImagePrompt,
			ImageRevisedPrompt: m.ImageRevisedPrompt,
			ImageAt:            m.ImageAt,
		}
		created, err := s.Cloud.CreateMessage(ctx, sess.UserID, doc)
		if err != nil {
			log.Warn().Err(err).Uint("chat", localID).Msg("cloud message create failed; marked unsynced")
			if merr := repo.MarkUnsynced(ctx, s.DB, localID); merr != nil {
				log.Error().Err(merr).Uint("chat", localID).Msg("failed to flag chat unsynced")
			}
			return m, nil
		}
		if err := repo.SetMessageRemoteID(ctx, s.DB, m.LocalID, created.ID); err != nil {
			return nil, err
		}
		rid := created.ID
		m.RemoteID = &rid
		s.pushChatPatch(ctx, sess, c, map[string]any{"messageCount": c.MessageCount})
	}

	return m, nil
}

// GetMessages returns a chat's messages in timestamp order. For
// authenticated sessions with a synced chat it first pulls down any cloud
// messages missing locally (matched by RemoteID), then serves the local
// list, so two consecutive calls without intervening writes return the
// same slice.
func (s *SyncService) GetMessages(ctx context.Context, sess *domain.Session, localID uint) ([]domain.Message, error) {
	c, err := s.GetChat(ctx, localID)
	if err != nil {
		return nil, err
	}

	if sess.Authenticated() && c.RemoteID != nil {
		docs, err := s.Cloud.ListMessages(ctx, *c.RemoteID)
		if err != nil {
			log.Warn().Err(err).Uint("chat", localID).Msg("cloud message list failed; serving local messages")
		} else {
			for i := range docs {
				present, err := repo.HasMessageRemoteID(ctx, s.DB, localID, docs[i].ID)
				if err != nil {
					return nil, err
				}
				if present {
					continue
				}
				rid := docs[i].ID
				m := &domain.Message{
					ChatLocalID:        localID,
					RemoteID:           &rid,
					Role:               docs[i].Role,
					Kind:               docs[i].Kind,
					Content:            docs[i].Content,
					Model:              docs[i].Model,
					ImageURL:           docs[i].ImageURL,
					ImagePrompt:        docs[i].ImagePrompt,
					ImageRevisedPrompt: docs[i].ImageRevisedPrompt,
					ImageAt:            docs[i].ImageAt,
					CreatedAt:          docs[i].CreatedAt,
				}
				if err := repo.CreateMessage(ctx, s.DB, m); err != nil {
					return nil, err
				}
			}
		}
	}

	return repo.ListMessages(ctx, s.DB, localID)
}

// ShareChat lifts read access on a chat to anyone holding the returned
// token. Sharing requires a cloud counterpart: there is no local fallback,
// so failures surface to the caller.
func (s *SyncService) ShareChat(ctx context.Context, sess *domain.Session, localID uint) (string, error) {
	if !sess.Authenticated() {
		return "", ErrGuestOnly
	}
	c, err := s.GetChat(ctx, localID)
	if err != nil {
		return "", err
	}
	if c.RemoteID == nil {
		return "", ErrNotSynced
	}

	shareID := uuid.NewString()
	now := time.Now().UTC()
	if _, err := s.Cloud.UpdateChat(ctx, *c.RemoteID, map[string]any{
		"shareId":  shareID,
		"sharedAt": now,
		"sharedBy": sess.UserID,
	}); err != nil {
		return "", err
	}
	if err := repo.UpdateChat(ctx, s.DB, localID, map[string]any{
		"share_id":  shareID,
		"shared_at": now,
		"shared_by": sess.UserID,
	}); err != nil {
		return "", err
	}
	return shareID, nil
}

// UnshareChat revokes a share token.
func (s *SyncService) UnshareChat(ctx context.Context, sess *domain.Session, localID uint) error {
	if !sess.Authenticated() {
		return ErrGuestOnly
	}
	c, err := s.GetChat(ctx, localID)
	if err != nil {
		return err
	}
	if c.RemoteID == nil {
		return ErrNotSynced
	}
	if _, err := s.Cloud.UpdateChat(ctx, *c.RemoteID, map[string]any{
		"shareId": "", "sharedAt": nil, "sharedBy": "",
	}); err != nil {
		return err
	}
	return repo.UpdateChat(ctx, s.DB, localID, map[string]any{
		"share_id": nil, "shared_at": nil, "shared_by": "",
	})
}

// GetSharedChat resolves a public share token for an unauthenticated
// reader, returning the chat document and its messages.
func (s *SyncService) GetSharedChat(ctx context.Context, shareID string) (*cloud.ChatDoc, []cloud.MessageDoc, error) {
	doc, err := s.Cloud.FindChatByShareID(ctx, shareID)
	if err != nil {
		if errors.Is(err, cloud.ErrNotFound) {
			return nil, nil, ErrNotShared
		}
		return nil, nil, err
	}
	msgs, err := s.Cloud.ListMessages(ctx, doc.ID)
	if err != nil {
		return nil, nil, err
	}
	return doc, msgs, nil
}

// AdoptGuestChats pushes every never-synced local chat (and its messages)
// to the cloud under the signing-in user. Per-chat failures are logged and
// skipped; those chats stay unsynced for a later attempt. Returns how many
// chats were adopted.
func (s *SyncService) AdoptGuestChats(ctx context.Context, sess *domain.Session) (int, error) {
	if !sess.Authenticated() {
		return 0, ErrGuestOnly
	}

	chats, err := repo.ListUnsyncedChats(ctx, s.DB)
	if err != nil {
		return 0, err
	}

	adopted := 0
	for i := range chats {
		c := &chats[i]
		doc := cloud.ChatDoc{Title: c.Title, IsBranch: c.IsBranch, ParentChatTitle: c.ParentTitle}
		if c.ParentRemoteID != nil {
			doc.ParentChatID = *c.ParentRemoteID
		}
		created, err := s.Cloud.CreateChat(ctx, sess.UserID, doc)
		if err != nil {
			log.Warn().Err(err).Uint("chat", c.LocalID).Msg("guest chat adoption failed; left unsynced")
			continue
		}
		if err := repo.AttachRemoteID(ctx, s.DB, c.LocalID, sess.UserID, created.ID); err != nil {
			return adopted, err
		}
		c.MarkSynced(created.ID)

		msgs, err := repo.ListMessages(ctx, s.DB, c.LocalID)
		if err != nil {
			return adopted, err
		}
		for j := range msgs {
			m := &msgs[j]
			if m.RemoteID != nil {
				continue
			}
			mdoc := cloud.MessageDoc{
				ChatID:  created.ID,
				Role:    m.Role,
				Kind:    m.Kind,
				Content: m.Content,
				Model:   m.Model,
			}
			cm, err := s.Cloud.CreateMessage(ctx, sess.UserID, mdoc)
			if err != nil {
				log.Warn().Err(err).Uint("message", m.LocalID).Msg("guest message adoption failed")
				continue
			}
			if err := repo.SetMessageRemoteID(ctx, s.DB, m.LocalID, cm.ID); err != nil {
				return adopted, err
			}
		}
		if len(msgs) > 0 {
			if _, err := s.Cloud.UpdateChat(ctx, created.ID, map[string]any{"messageCount": len(msgs)}); err != nil {
				log.Warn().Err(err).Str("remote", created.ID).Msg("message count push failed during adoption")
			}
		}

		s.metaApply(sess.UserID, "create", s.Meta.ApplyCreate(ctx, sess.UserID, summaryOf(c)))
		adopted++
	}
	return adopted, nil
}
