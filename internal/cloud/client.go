// Package cloud implements a thin client for the hosted document database.
//
// The client speaks a small JSON/REST document API: collections of documents
// under a database, with per-document permission grants set at creation time
// so every chat and message is readable and writable only by its owner.
// It is plumbing only: no retries, no caching, no merging. Reconciliation
// with the local store happens in services.SyncService.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Collection names in the hosted database.
const (
	colChats    = "chats"
	colMessages = "messages"
	colMetadata = "user-chat-metadata"
	colProfiles = "user-profiles"
)

// Config carries the connection settings for the hosted document database.
type Config struct {
	Endpoint   string // e.g. "https://cloud.example.com/v1"
	Project    string
	APIKey     string
	DatabaseID string

	// HTTPClient overrides the transport; nil uses a 15s-timeout default.
	HTTPClient *http.Client
}

// Client issues document CRUD against the hosted database. Safe for
// concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// New constructs a Client from cfg.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{cfg: cfg, http: hc}
}

// ChatDoc is the cloud representation of a chat.
type ChatDoc struct {
	ID              string     `json:"$id"`
	UserID          string     `json:"userId"`
	Title           string     `json:"title"`
	MessageCount    int        `json:"messageCount"`
	IsArchived      bool       `json:"isArchived"`
	IsPinned        bool       `json:"isPinned"`
	IsBranch        bool       `json:"isBranch"`
	ParentChatID    string     `json:"parentChatId,omitempty"`
	ParentChatTitle string     `json:"parentChatTitle,omitempty"`
	ShareID         string     `json:"shareId,omitempty"`
	SharedAt        *time.Time `json:"sharedAt,omitempty"`
	SharedBy        string     `json:"sharedBy,omitempty"`
	CreatedAt       time.Time  `json:"$createdAt"`
	UpdatedAt       time.Time  `json:"$updatedAt"`
}

// MessageDoc is the cloud representation of a message. ChatID references the
// owning chat document; messages are deleted before their chat (see
// DeleteChat).
type MessageDoc struct {
	ID                 string     `json:"$id"`
	ChatID             string     `json:"chatId"`
	UserID             string     `json:"userId"`
	Role               string     `json:"role"`
	Kind               string     `json:"kind"`
	Content            string     `json:"content"`
	Model              string     `json:"model,omitempty"`
	ImageURL           string     `json:"imageUrl,omitempty"`
	ImagePrompt        string     `json:"imagePrompt,omitempty"`
	ImageRevisedPrompt string     `json:"imageRevisedPrompt,omitempty"`
	ImageAt            *time.Time `json:"imageAt,omitempty"`
	CreatedAt          time.Time  `json:"$createdAt"`
}

// listEnvelope is the wire shape of document list responses.
type listEnvelope[T any] struct {
	Total     int `json:"total"`
	Documents []T `json:"documents"`
}

// ownerPermissions builds the per-document grant set: only the creating user
// may read, update, or delete the document.
func ownerPermissions(userID string) []string {
	grant := fmt.Sprintf("user:%s", userID)
	return []string{
		fmt.Sprintf("read(%q)", grant),
		fmt.Sprintf("update(%q)", grant),
		fmt.Sprintf("delete(%q)", grant),
	}
}

// documentsURL renders the collection endpoint, optionally suffixed with a
// document id.
func (c *Client) documentsURL(collection, documentID string) string {
	u := fmt.Sprintf("%s/databases/%s/collections/%s/documents",
		c.cfg.Endpoint, c.cfg.DatabaseID, collection)
	if documentID != "" {
		u += "/" + url.PathEscape(documentID)
	}
	return u
}

// do executes one request and decodes the response into out (when non-nil).
// HTTP statuses are folded into the package error taxonomy.
func (c *Client) do(ctx context.Context, method, rawurl string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawurl, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Appwrite-Project", c.cfg.Project)
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Appwrite-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: method + " " + rawurl, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readServerMessage(resp.Body)
		switch resp.StatusCode {
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s", ErrInvalid, msg)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		default:
			return fmt.Errorf("cloud: unexpected status %d: %s", resp.StatusCode, msg)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cloud: decode response: %w", err)
	}
	return nil
}

// readServerMessage best-effort extracts an error message body.
func readServerMessage(r io.Reader) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4<<10)).Decode(&e); err == nil && e.Message != "" {
		return e.Message
	}
	return "no detail"
}

// createRequest is the wire shape of document creation.
type createRequest struct {
	DocumentID  string   `json:"documentId"`
	Data        any      `json:"data"`
	Permissions []string `json:"permissions,omitempty"`
}

// patchRequest is the wire shape of partial document updates.
type patchRequest struct {
	Data map[string]any `json:"data"`
}

//
// Chats
//

// CreateChat creates a chat document owned by userID. The document id is
// client-generated (UUID) so the call can be correlated with an optimistic
// local row even when the response is lost.
func (c *Client) CreateChat(ctx context.Context, userID string, d ChatDoc) (*ChatDoc, error) {
	d.UserID = userID
	var out ChatDoc
	err := c.do(ctx, http.MethodPost, c.documentsURL(colChats, ""), createRequest{
		DocumentID:  uuid.NewString(),
		Data:        d,
		Permissions: ownerPermissions(userID),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListChats returns up to limit chats owned by userID, newest first.
func (c *Client) ListChats(ctx context.Context, userID string, limit int) ([]ChatDoc, error) {
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{}
	q.Add("queries[]", fmt.Sprintf(`equal("userId", [%q])`, userID))
	q.Add("queries[]", `orderDesc("$createdAt")`)
	q.Add("queries[]", fmt.Sprintf(`limit(%d)`, limit))

	var env listEnvelope[ChatDoc]
	if err := c.do(ctx, http.MethodGet, c.documentsURL(colChats, "")+"?"+q.Encode(), nil, &env); err != nil {
		return nil, err
	}
	return env.Documents, nil
}

// GetChat fetches one chat document by id.
func (c *Client) GetChat(ctx context.Context, remoteID string) (*ChatDoc, error) {
	var out ChatDoc
	if err := c.do(ctx, http.MethodGet, c.documentsURL(colChats, remoteID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateChat applies a field patch to a chat document.
func (c *Client) UpdateChat(ctx context.Context, remoteID string, patch map[string]any) (*ChatDoc, error) {
	var out ChatDoc
	err := c.do(ctx, http.MethodPatch, c.documentsURL(colChats, remoteID), patchRequest{Data: patch}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteChat removes a chat and everything it owns. Messages go first so a
// mid-sequence crash cannot orphan them behind a deleted chat; the sequence
// is not transactional and a crash between the two steps is accepted.
func (c *Client) DeleteChat(ctx context.Context, remoteID string) error {
	msgs, err := c.ListMessages(ctx, remoteID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := c.do(ctx, http.MethodDelete, c.documentsURL(colMessages, m.ID), nil, nil); err != nil {
			return err
		}
	}
	return c.do(ctx, http.MethodDelete, c.documentsURL(colChats, remoteID), nil, nil)
}

// FindChatByShareID resolves a public share token to its chat document.
// Returns ErrNotFound when no chat carries the token.
func (c *Client) FindChatByShareID(ctx context.Context, shareID string) (*ChatDoc, error) {
	q := url.Values{}
	q.Add("queries[]", fmt.Sprintf(`equal("shareId", [%q])`, shareID))
	q.Add("queries[]", `limit(1)`)

	var env listEnvelope[ChatDoc]
	if err := c.do(ctx, http.MethodGet, c.documentsURL(colChats, "")+"?"+q.Encode(), nil, &env); err != nil {
		return nil, err
	}
	if len(env.Documents) == 0 {
		return nil, fmt.Errorf("%w: share %s", ErrNotFound, shareID)
	}
	return &env.Documents[0], nil
}

//
// Messages
//

// CreateMessage creates a message document under its chat.
func (c *Client) CreateMessage(ctx context.Context, userID string, d MessageDoc) (*MessageDoc, error) {
	d.UserID = userID
	var out MessageDoc
	err := c.do(ctx, http.MethodPost, c.documentsURL(colMessages, ""), createRequest{
		DocumentID:  uuid.NewString(),
		Data:        d,
		Permissions: ownerPermissions(userID),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages returns all messages of a chat, oldest first.
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]MessageDoc, error) {
	q := url.Values{}
	q.Add("queries[]", fmt.Sprintf(`equal("chatId", [%q])`, chatID))
	q.Add("queries[]", `orderAsc("$createdAt")`)

	var env listEnvelope[MessageDoc]
	if err := c.do(ctx, http.MethodGet, c.documentsURL(colMessages, "")+"?"+q.Encode(), nil, &env); err != nil {
		return nil, err
	}
	return env.Documents, nil
}

//
// Per-user metadata document
//

// metadataDoc holds the single per-user summary blob. The summary list is a
// JSON-encoded string field, not nested documents: one read serves the whole
// sidebar.
type metadataDoc struct {
	ID        string `json:"$id"`
	UserID    string `json:"userId"`
	Summaries string `json:"summaries"`
}

// GetSummariesBlob reads the raw summary JSON for userID. A missing document
// is an empty blob, not an error: the first mutation creates it.
func (c *Client) GetSummariesBlob(ctx context.Context, userID string) (string, error) {
	var doc metadataDoc
	err := c.do(ctx, http.MethodGet, c.documentsURL(colMetadata, userID), nil, &doc)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return doc.Summaries, nil
}

// PutSummariesBlob writes the whole summary blob back, creating the document
// on first use. This is the read-modify-write described in the maintainer:
// there is no concurrency check, last writer wins.
func (c *Client) PutSummariesBlob(ctx context.Context, userID, blob string) error {
	patch := map[string]any{"summaries": blob}
	err := c.do(ctx, http.MethodPatch, c.documentsURL(colMetadata, userID), patchRequest{Data: patch}, nil)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return err
	}
	return c.do(ctx, http.MethodPost, c.documentsURL(colMetadata, ""), createRequest{
		DocumentID:  userID,
		Data:        map[string]any{"userId": userID, "summaries": blob},
		Permissions: ownerPermissions(userID),
	}, nil)
}

//
// User profiles (free-tier accounting)
//

// profileDoc tracks per-user quota counters.
type profileDoc struct {
	ID         string `json:"$id"`
	UserID     string `json:"userId"`
	ImageCount int    `json:"imageCount"`
}

// GetImageCount returns how many free-tier images userID has generated.
// A missing profile counts as zero.
func (c *Client) GetImageCount(ctx context.Context, userID string) (int, error) {
	var doc profileDoc
	err := c.do(ctx, http.MethodGet, c.documentsURL(colProfiles, userID), nil, &doc)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return doc.ImageCount, nil
}

// IncrementImageCount bumps the generation counter and returns the new
// value. Read and write are separate requests: two racing generations can
// both observe the old value and one increment can be lost. Known, accepted.
func (c *Client) IncrementImageCount(ctx context.Context, userID string) (int, error) {
	cur, err := c.GetImageCount(ctx, userID)
	if err != nil {
		return 0, err
	}
	next := cur + 1
	patch := map[string]any{"imageCount": next}
	err = c.do(ctx, http.MethodPatch, c.documentsURL(colProfiles, userID), patchRequest{Data: patch}, nil)
	if err != nil {
		if !isNotFound(err) {
			return 0, err
		}
		err = c.do(ctx, http.MethodPost, c.documentsURL(colProfiles, ""), createRequest{
			DocumentID:  userID,
			Data:        map[string]any{"userId": userID, "imageCount": next},
			Permissions: ownerPermissions(userID),
		}, nil)
		if err != nil {
			return 0, err
		}
	}
	return next, nil
}

// isNotFound reports whether err wraps ErrNotFound.
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
