// Chat HTTP handlers.
//
// This file exposes REST endpoints for chat resources:
//   - POST   /chats               (create)
//   - GET    /chats               (list, ETag support)
//   - PUT    /chats/{id}/title    (rename)
//   - PUT    /chats/{id}/archive  (archive/unarchive)
//   - PUT    /chats/{id}/pin      (pin/unpin)
//   - DELETE /chats/{id}          (delete, local always wins)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses. Reads and writes work
// without a session (guest mode); the sync layer decides what reaches the
// cloud.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nkoutris/go-chat-sync/internal/domain"
	"github.com/nkoutris/go-chat-sync/internal/repo"
	"github.com/nkoutris/go-chat-sync/internal/services"
	"github.com/nkoutris/go-chat-sync/internal/utils"
)

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for chats, messages, sharing, image
// generation, and sync.
type Handlers struct {
	Sync   *services.SyncService
	Turns  *services.TurnService
	Images *services.ImageService
}

// New constructs a Handlers instance bound to the given services.
func New(sync *services.SyncService, turns *services.TurnService, images *services.ImageService) *Handlers {
	return &Handlers{Sync: sync, Turns: turns, Images: images}
}

// session extracts the caller identity placed in the Gin context by upstream
// middleware. A nil return means guest mode, which is a fully supported way
// to use the API, not an authentication failure.
func session(c *gin.Context) *domain.Session {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return &domain.Session{UserID: s}
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return &domain.Session{UserID: h}
		}
	}
	return nil
}

// chatID parses the numeric chat id path parameter.
func chatID(c *gin.Context) (uint, bool) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || n == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a positive integer")
		return 0, false
	}
	return uint(n), true
}

//
// DTOs
//

// CreateChatRequest is the JSON payload for creating a chat.
type CreateChatRequest struct {
	// Title optionally sets the chat title; a default is used when empty.
	Title string `json:"title" example:"Trip planning"`
}

// UpdateChatTitleRequest is the JSON payload for renaming a chat.
type UpdateChatTitleRequest struct {
	// Title is the new chat name (1-255 chars).
	Title string `json:"title" binding:"required,min=1,max=255" example:"Weekend in Lisbon"`
}

// SetFlagRequest is the JSON payload for the archive and pin toggles.
type SetFlagRequest struct {
	Value bool `json:"value" example:"true"`
}

// Pagination carries page metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListChatsResponse wraps a page of the user's chats, newest first.
type ListChatsResponse struct {
	Chats      []domain.Chat `json:"chats"`
	Pagination Pagination    `json:"pagination"`
}

// clampPagination parses page/page_size from query parameters, applies sane
// defaults and caps, and returns the validated (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 50
		maxPageSize     = 200
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

// paginationOf computes page metadata for a total of n items.
func paginationOf(page, pageSize, n int) Pagination {
	totalPages := (n + pageSize - 1) / pageSize
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      int64(n),
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// pageSlice returns the requested window of items. Pages past the end yield
// an empty (non-nil) slice.
func pageSlice[T any](items []T, page, pageSize int) []T {
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

//
// Handlers
//

// CreateChat godoc
// @ID          createChat
// @Summary     Create a new chat
// @Description Creates a chat for the current user (or a local-only guest chat) and returns the chat resource.
// @Tags        Chats
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID; omit for guest mode"  example(user123)
// @Param       body       body    handlers.CreateChatRequest  true  "Create chat payload"
//
// @Success     201  {object}  domain.Chat
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats [post]
func (h *Handlers) CreateChat(c *gin.Context) {
	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	ch, err := h.Sync.CreateChat(c.Request.Context(), session(c), strings.TrimSpace(req.Title))
	if err != nil {
		if errors.Is(err, repo.ErrStorageFull) {
			fail(c, http.StatusInsufficientStorage, ErrCodeCreateFailed, "local storage full")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, ch)
}

// ListChats godoc
// @ID          listChats
// @Summary     List chats
// @Description Returns the user's chats newest first, pulling down cloud chats missing locally. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Chats
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID; omit for guest mode"  example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"    example(W/\"abc123\")
// @Param       page           query   int     false "Page number (1-based)"         default(1)
// @Param       page_size      query   int     false "Page size (max 200)"           default(50)
//
// @Success     200  {object} handlers.ListChatsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	ctx := c.Request.Context()
	sess := session(c)

	items, err := h.Sync.ListChats(ctx, sess)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	// ETag after the cloud pull so mirrored chats invalidate caches.
	uid := ""
	if sess.Authenticated() {
		uid = sess.UserID
	}
	page, pageSize := clampPagination(c)
	if count, maxTS, err := repo.ChatsStats(ctx, h.Sync.DB, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		// Validator varies with the page window so caches stay page-local.
		etag := fmt.Sprintf(`W/"chats:%s:%d:%d:%d:%d"`, uid, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	ok(c, http.StatusOK, ListChatsResponse{
		Chats:      pageSlice(items, page, pageSize),
		Pagination: paginationOf(page, pageSize, len(items)),
	})
}

// UpdateChatTitle godoc
// @ID          updateChatTitle
// @Summary     Rename a chat
// @Description Renames a chat locally and mirrors the rename to the cloud when the chat is synced.
// @Tags        Chats
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID; omit for guest mode"  example(user123)
// @Param       id         path    int     true  "Chat ID"                        example(42)
// @Param       body       body    handlers.UpdateChatTitleRequest  true  "New title"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/{id}/title [put]
func (h *Handlers) UpdateChatTitle(c *gin.Context) {
	id, okID := chatID(c)
	if !okID {
		return
	}

	var req UpdateChatTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1-255 chars)")
		return
	}

	if err := h.Sync.UpdateTitle(c.Request.Context(), session(c), id, req.Title); err != nil {
		h.chatWriteError(c, err)
		return
	}
	noContent(c)
}

// ArchiveChat godoc
// @ID          archiveChat
// @Summary     Archive or unarchive a chat
// @Tags        Chats
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID; omit for guest mode"  example(user123)
// @Param       id         path    int     true  "Chat ID"  example(42)
// @Param       body       body    handlers.SetFlagRequest  true  "Archive flag"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/archive [put]
func (h *Handlers) ArchiveChat(c *gin.Context) {
	h.setFlag(c, h.Sync.SetArchived)
}

// PinChat godoc
// @ID          pinChat
// @Summary     Pin or unpin a chat
// @Tags        Chats
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID; omit for guest mode"  example(user123)
// @Param       id         path    int     true  "Chat ID"  example(42)
// @Param       body       body    handlers.SetFlagRequest  true  "Pin flag"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/pin [put]
func (h *Handlers) PinChat(c *gin.Context) {
	h.setFlag(c, h.Sync.SetPinned)
}

func (h *Handlers) setFlag(c *gin.Context, set func(ctx context.Context, sess *domain.Session, id uint, v bool) error) {
	id, okID := chatID(c)
	if !okID {
		return
	}
	var req SetFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if err := set(c.Request.Context(), session(c), id, req.Value); err != nil {
		h.chatWriteError(c, err)
		return
	}
	noContent(c)
}

// DeleteChat godoc
// @ID          deleteChat
// @Summary     Delete a chat
// @Description Deletes the chat and its messages. The local delete always succeeds even when the cloud delete fails.
// @Tags        Chats
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID; omit for guest mode"  example(user123)
// @Param       id         path    int     true  "Chat ID"  example(42)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id} [delete]
func (h *Handlers) DeleteChat(c *gin.Context) {
	id, okID := chatID(c)
	if !okID {
		return
	}
	if err := h.Sync.DeleteChat(c.Request.Context(), session(c), id); err != nil {
		h.chatWriteError(c, err)
		return
	}
	noContent(c)
}

// chatWriteError maps service errors from chat mutations to HTTP responses.
func (h *Handlers) chatWriteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrChatNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
	case errors.Is(err, repo.ErrStorageFull):
		fail(c, http.StatusInsufficientStorage, ErrCodeInternal, "local storage full")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
