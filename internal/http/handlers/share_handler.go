// Share HTTP handlers.
//
// This file exposes endpoints for the public share flow:
//   - POST   /chats/{id}/share   (mint a share token)
//   - DELETE /chats/{id}/share   (revoke the token)
//   - GET    /shared/{shareId}   (public read, no session)
//
// Sharing is a cloud feature: the chat must be synced, and failures surface
// to the caller because there is no local fallback that satisfies the
// operation.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nkoutris/go-chat-sync/internal/cloud"
	"github.com/nkoutris/go-chat-sync/internal/services"
)

// ShareChatResponse carries the minted share token.
type ShareChatResponse struct {
	ShareID string `json:"share_id" example:"6a1f1cf6-3f5e-4f2d-9221-0a4b48d2a001"`
}

// SharedChatResponse is the public read-only view of a shared chat.
type SharedChatResponse struct {
	Chat     *cloud.ChatDoc     `json:"chat"`
	Messages []cloud.MessageDoc `json:"messages"`
}

// ShareChat godoc
// @ID          shareChat
// @Summary     Share a chat
// @Description Mints a share token granting public read access to the chat. Requires a signed-in session and a synced chat.
// @Tags        Sharing
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"  example(user123)
// @Param       id         path    int     true  "Chat ID"  example(42)
//
// @Success     200  {object} handlers.ShareChatResponse
// @Failure     400  {object} handlers.ErrorResponse "Chat not synced"
// @Failure     401  {object} handlers.ErrorResponse "Sign-in required"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     502  {object} handlers.ErrorResponse "Cloud write failed"
// @Router      /chats/{id}/share [post]
func (h *Handlers) ShareChat(c *gin.Context) {
	id, okID := chatID(c)
	if !okID {
		return
	}
	shareID, err := h.Sync.ShareChat(c.Request.Context(), session(c), id)
	if err != nil {
		h.shareError(c, err)
		return
	}
	ok(c, http.StatusOK, ShareChatResponse{ShareID: shareID})
}

// UnshareChat godoc
// @ID          unshareChat
// @Summary     Revoke a chat's share token
// @Tags        Sharing
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"  example(user123)
// @Param       id         path    int     true  "Chat ID"  example(42)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Chat not synced"
// @Failure     401  {object} handlers.ErrorResponse "Sign-in required"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/share [delete]
func (h *Handlers) UnshareChat(c *gin.Context) {
	id, okID := chatID(c)
	if !okID {
		return
	}
	if err := h.Sync.UnshareChat(c.Request.Context(), session(c), id); err != nil {
		h.shareError(c, err)
		return
	}
	noContent(c)
}

// GetSharedChat godoc
// @ID          getSharedChat
// @Summary     Read a shared chat
// @Description Resolves a public share token. No session required; revoked or unknown tokens return 404.
// @Tags        Sharing
// @Produce     json
//
// @Param       shareId  path  string  true  "Share token"  example(6a1f1cf6-3f5e-4f2d-9221-0a4b48d2a001)
//
// @Success     200  {object} handlers.SharedChatResponse
// @Failure     404  {object} handlers.ErrorResponse "Unknown or revoked token"
// @Router      /shared/{shareId} [get]
func (h *Handlers) GetSharedChat(c *gin.Context) {
	shareID := c.Param("shareId")
	doc, msgs, err := h.Sync.GetSharedChat(c.Request.Context(), shareID)
	if err != nil {
		if errors.Is(err, services.ErrNotShared) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "shared chat not found")
			return
		}
		fail(c, http.StatusBadGateway, ErrCodeShareFailed, err.Error())
		return
	}
	if msgs == nil {
		msgs = []cloud.MessageDoc{}
	}
	ok(c, http.StatusOK, SharedChatResponse{Chat: doc, Messages: msgs})
}

// shareError maps share-service errors to HTTP responses.
func (h *Handlers) shareError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrGuestOnly):
		fail(c, http.StatusUnauthorized, ErrCodeSignInRequired, "sharing requires a signed-in session")
	case errors.Is(err, services.ErrNotSynced):
		fail(c, http.StatusBadRequest, ErrCodeNotSynced, "chat is not synced to the cloud yet")
	case errors.Is(err, services.ErrChatNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
	default:
		fail(c, http.StatusBadGateway, ErrCodeShareFailed, err.Error())
	}
}
