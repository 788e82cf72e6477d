// Package services: MetadataService.
//
// This file implements the maintainer of the per-user chat summary
// document: a single JSON blob projecting the user's cloud chats into the
// lightweight list the sidebar renders, so a page load never has to list
// the full chats collection.
//
// Every apply function is a read-modify-write of the whole document with no
// optimistic concurrency check. Two tabs mutating concurrently can lose one
// update (last writer wins). That is a deliberate, known property of this
// design, isolated behind SummaryStore so the blob can later be replaced by
// a transactional structure without touching callers.
package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nkoutris/go-chat-sync/internal/domain"
)

// SummaryStore is the narrow persistence interface for the summary blob.
// Implemented by cloud.Client.
type SummaryStore interface {
	GetSummariesBlob(ctx context.Context, userID string) (string, error)
	PutSummariesBlob(ctx context.Context, userID, blob string) error
}

// MetadataService keeps the per-user summary document in step with chat
// mutations. Errors are returned to the caller; the sync layer logs and
// swallows them so a metadata failure never fails the primary operation.
type MetadataService struct {
	Store SummaryStore
}

// load reads and decodes the current summary list. An empty blob decodes to
// an empty list.
func (s *MetadataService) load(ctx context.Context, userID string) ([]domain.ChatSummary, error) {
	blob, err := s.Store.GetSummariesBlob(ctx, userID)
	if err != nil {
		return nil, err
	}
	if blob == "" {
		return []domain.ChatSummary{}, nil
	}
	var out []domain.ChatSummary
	if err := json.Unmarshal([]byte(blob), &out); err != nil {
		return nil, fmt.Errorf("metadata: decode summaries: %w", err)
	}
	return out, nil
}

// save encodes and writes the whole list back.
func (s *MetadataService) save(ctx context.Context, userID string, list []domain.ChatSummary) error {
	buf, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return s.Store.PutSummariesBlob(ctx, userID, string(buf))
}

// ApplyCreate prepends a summary for a freshly created chat. The list is
// kept newest-first.
func (s *MetadataService) ApplyCreate(ctx context.Context, userID string, sum domain.ChatSummary) error {
	list, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	list = append([]domain.ChatSummary{sum}, list...)
	return s.save(ctx, userID, list)
}

// ApplyUpdate locates the entry by remote id and merges the changed fields.
// A miss is silently dropped: no insert-on-miss. The entry reappears the
// next time a create flows through, which is the observed self-healing
// behavior this maintainer preserves.
func (s *MetadataService) ApplyUpdate(ctx context.Context, userID string, sum domain.ChatSummary) error {
	list, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	found := false
	for i := range list {
		if list[i].RemoteID != sum.RemoteID {
			continue
		}
		found = true
		if sum.Title != "" {
			list[i].Title = sum.Title
		}
		if !sum.UpdatedAt.IsZero() {
			list[i].UpdatedAt = sum.UpdatedAt
		}
		if sum.MessageCount > 0 {
			list[i].MessageCount = sum.MessageCount
		}
		list[i].IsArchived = sum.IsArchived
		list[i].IsPinned = sum.IsPinned
		break
	}
	if !found {
		return nil
	}
	return s.save(ctx, userID, list)
}

// ApplyDelete removes the entry with the given remote id. Removing an
// absent entry is a no-op write of the unchanged list.
func (s *MetadataService) ApplyDelete(ctx context.Context, userID, remoteID string) error {
	list, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	out := list[:0]
	for _, e := range list {
		if e.RemoteID != remoteID {
			out = append(out, e)
		}
	}
	return s.save(ctx, userID, out)
}

// List returns the current summary list, newest-first.
func (s *MetadataService) List(ctx context.Context, userID string) ([]domain.ChatSummary, error) {
	return s.load(ctx, userID)
}
