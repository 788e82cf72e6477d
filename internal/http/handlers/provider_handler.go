// Provider and sync HTTP handlers.
//
// This file exposes the model catalog, image generation, and the guest-chat
// adoption endpoint:
//   - GET  /models               (model catalog)
//   - POST /chats/{id}/images    (generate an image in a chat)
//   - GET  /images/quota         (remaining free-tier generations)
//   - POST /title                (derive a chat title from a message)
//   - POST /sync                 (adopt guest chats after sign-in)
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nkoutris/go-chat-sync/internal/domain"
	"github.com/nkoutris/go-chat-sync/internal/llm"
	"github.com/nkoutris/go-chat-sync/internal/services"
)

//
// DTOs
//

// ListModelsResponse wraps the static model catalog.
type ListModelsResponse struct {
	Models  []llm.ModelInfo `json:"models"`
	Default string          `json:"default" example:"gpt-4o-mini"`
}

// GenerateImageRequest is the JSON payload for image generation.
type GenerateImageRequest struct {
	// Prompt describes the image. It must be non-empty.
	Prompt string `json:"prompt" binding:"required,min=1" example:"a lighthouse at dusk, oil painting"`
	// Size is the output resolution; the provider default applies when empty.
	Size string `json:"size" example:"1024x1024"`
	// Quality is "standard" or "hd"; the provider default applies when empty.
	Quality string `json:"quality" example:"standard"`
}

// GenerateImageResponse carries the persisted request/response message pair.
type GenerateImageResponse struct {
	Request  *domain.Message `json:"request"`
	Response *domain.Message `json:"response"`
}

// ImageQuotaResponse reports remaining free-tier generations.
type ImageQuotaResponse struct {
	Remaining int `json:"remaining" example:"2"`
}

// SyncResponse reports the result of guest-chat adoption.
type SyncResponse struct {
	AdoptedChats int `json:"adopted_chats" example:"3"`
}

// DeriveTitleRequest carries the prompt a title should be derived from.
type DeriveTitleRequest struct {
	Message string `json:"message" binding:"required,min=1" example:"how do I rotate a PDF on linux"`
}

// DeriveTitleResponse is the derived chat title.
type DeriveTitleResponse struct {
	Title string `json:"title" example:"Rotate PDF Linux"`
}

//
// Handlers
//

// ListModels godoc
// @ID          listModels
// @Summary     List available models
// @Description Returns the static model catalog and the default model id.
// @Tags        Models
// @Produce     json
//
// @Success     200  {object} handlers.ListModelsResponse
// @Router      /models [get]
func (h *Handlers) ListModels(c *gin.Context) {
	ok(c, http.StatusOK, ListModelsResponse{Models: llm.Catalog(), Default: h.Turns.DefaultModel})
}

// DeriveTitle godoc
// @ID          deriveTitle
// @Summary     Derive a chat title from a message
// @Description Returns a short title derived from the given message, the same derivation used when a chat is auto-titled from its first prompt.
// @Tags        Chats
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.DeriveTitleRequest  true  "Message to derive from"
//
// @Success     200  {object} handlers.DeriveTitleResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /title [post]
func (h *Handlers) DeriveTitle(c *gin.Context) {
	var req DeriveTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}
	ok(c, http.StatusOK, DeriveTitleResponse{Title: h.Turns.Titles.FromPrompt(req.Message)})
}

// GenerateImage godoc
// @ID          generateImage
// @Summary     Generate an image in a chat
// @Description Persists an image-request message, generates the image, and persists the image-response (or error) message. Signed-in only; the free tier is capped unless the caller supplies an own provider key via X-LLM-Key.
// @Tags        Images
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"  example(user123)
// @Param       X-LLM-Key  header  string  false "Caller's own provider API key (bypasses the free tier, never stored)"
// @Param       id         path    int     true  "Chat ID"  example(42)
// @Param       body       body    handlers.GenerateImageRequest  true  "Image prompt"
//
// @Success     200  {object} handlers.GenerateImageResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Sign-in required"
// @Failure     402  {object} handlers.ErrorResponse "Free tier exhausted"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/images [post]
func (h *Handlers) GenerateImage(c *gin.Context) {
	id, okID := chatID(c)
	if !okID {
		return
	}

	var req GenerateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "prompt required")
		return
	}

	turn, err := h.Images.Generate(c.Request.Context(), session(c), id,
		strings.TrimSpace(req.Prompt), req.Size, req.Quality, callerAPIKey(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrGuestOnly):
			fail(c, http.StatusUnauthorized, ErrCodeSignInRequired, "image generation requires a signed-in session")
		case errors.Is(err, services.ErrFreeTierExhausted):
			fail(c, http.StatusPaymentRequired, ErrCodeFreeTierExhausted, "free image generations exhausted; supply your own API key")
		case errors.Is(err, services.ErrChatNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeImageFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, GenerateImageResponse{Request: turn.Request, Response: turn.Response})
}

// ImageQuota godoc
// @ID          imageQuota
// @Summary     Remaining free-tier image generations
// @Tags        Images
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"  example(user123)
//
// @Success     200  {object} handlers.ImageQuotaResponse
// @Failure     401  {object} handlers.ErrorResponse "Sign-in required"
// @Router      /images/quota [get]
func (h *Handlers) ImageQuota(c *gin.Context) {
	left, err := h.Images.Remaining(c.Request.Context(), session(c))
	if err != nil {
		if errors.Is(err, services.ErrGuestOnly) {
			fail(c, http.StatusUnauthorized, ErrCodeSignInRequired, "sign in to check the image quota")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, ImageQuotaResponse{Remaining: left})
}

// SyncGuestChats godoc
// @ID          syncGuestChats
// @Summary     Adopt guest chats after sign-in
// @Description Pushes every never-synced local chat and its messages to the cloud under the signed-in user. Chats whose push fails stay local for a later attempt.
// @Tags        Sync
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"  example(user123)
//
// @Success     200  {object} handlers.SyncResponse
// @Failure     401  {object} handlers.ErrorResponse "Sign-in required"
// @Router      /sync [post]
func (h *Handlers) SyncGuestChats(c *gin.Context) {
	adopted, err := h.Sync.AdoptGuestChats(c.Request.Context(), session(c))
	if err != nil {
		if errors.Is(err, services.ErrGuestOnly) {
			fail(c, http.StatusUnauthorized, ErrCodeSignInRequired, "sync requires a signed-in session")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeSyncFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, SyncResponse{AdoptedChats: adopted})
}
