// Message HTTP handlers.
//
// This file exposes REST endpoints for chat messages:
//   - GET  /chats/{id}/messages                       (list, ETag support)
//   - POST /chats/{id}/messages                       (send a turn, streamed or buffered)
//   - POST /chats/{id}/messages/{msgId}/regenerate    (regenerate into a branch chat)
//
// Streaming:
// By default a send responds as Server-Sent Events: `delta` events carry
// content fragments as they arrive from the model, and a single terminal
// `done` (or `error`) event carries the persisted message. Clients that set
// `"stream": false` get one buffered JSON response instead; only that path
// participates in idempotent replay, since a half-delivered stream has no
// recorded result to replay.
//
// Idempotency:
// With an Idempotency-Key header on a buffered send, a previous successful
// result for (user, chat, key) is returned as-is with
// `Idempotency-Replayed: true`.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nkoutris/go-chat-sync/internal/domain"
	"github.com/nkoutris/go-chat-sync/internal/http/middleware"
	"github.com/nkoutris/go-chat-sync/internal/repo"
	"github.com/nkoutris/go-chat-sync/internal/services"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a user message.
type PostMessageRequest struct {
	// Content is the user prompt. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"What is a bloom filter?"`
	// Model optionally overrides the default chat model.
	Model string `json:"model" example:"gpt-4o-mini"`
	// Stream selects SSE delivery. Defaults to true when omitted.
	Stream *bool `json:"stream"`
}

// RegenerateRequest is the JSON payload for regenerating an assistant reply.
type RegenerateRequest struct {
	Model  string `json:"model" example:"claude-3.5-sonnet"`
	Stream *bool  `json:"stream"`
}

// TurnResponse is the buffered JSON envelope for a settled turn.
type TurnResponse struct {
	// Chat is the chat the turn ran in; for regenerate this is the branch.
	Chat *domain.Chat `json:"chat"`
	// Message is the settled assistant message (text or error kind).
	Message *domain.Message `json:"message"`
}

// ListMessagesResponse contains a page of the chat's messages in timestamp
// order.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
// CRLF/CR to LF, runs of 3+ LFs to exactly two, surrounding whitespace
// trimmed.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// callerAPIKey reads the optional pass-through provider key. It is forwarded
// to the provider for this request only and never persisted.
func callerAPIKey(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader("X-LLM-Key"))
}

// wantsStream resolves the stream flag, defaulting to SSE.
func wantsStream(p *bool) bool {
	return p == nil || *p
}

// sseEvent writes one Server-Sent Event and flushes it to the client.
func sseEvent(c *gin.Context, event string, payload any) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, buf)
	c.Writer.Flush()
}

// sseHeaders switches the response into SSE mode.
func sseHeaders(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// sseDelta is the payload of a `delta` event.
type sseDelta struct {
	Content string `json:"content"`
}

//
// Handlers
//

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a chat
// @Description Returns the chat's messages in timestamp order, pulling down cloud messages missing locally. Supports weak ETag via If-None-Match.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID      header string false "User ID; omit for guest mode" example(user123)
// @Param       If-None-Match  header string false "Return 304 if ETag matches"
// @Param       id             path   int    true  "Chat ID" example(42)
// @Param       page           query  int    false "Page number (1-based)" default(1)
// @Param       page_size      query  int    false "Page size (max 200)"   default(50)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	id, okID := chatID(c)
	if !okID {
		return
	}

	items, err := h.Sync.GetMessages(ctx, session(c), id)
	if err != nil {
		if errors.Is(err, services.ErrChatNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	// ETag after the cloud pull so mirrored messages invalidate caches.
	page, pageSize := clampPagination(c)
	if count, maxTS, err := repo.MessagesStats(ctx, h.Sync.DB, id); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"messages:%d:%d:%d:%d:%d"`, id, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   pageSlice(items, page, pageSize),
		Pagination: paginationOf(page, pageSize, len(items)),
	})
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message and get the assistant reply
// @Description Appends the user prompt and generates an assistant reply. Streams SSE by default; set `"stream": false` for one buffered JSON response with idempotent-replay support via the Idempotency-Key header.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Produce     text/event-stream
//
// @Param       X-User-ID        header  string  false "User ID; omit for guest mode"  example(user123)
// @Param       X-LLM-Key        header  string  false "Caller's own provider API key (pass-through, never stored)"
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe buffered retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    int     true  "Chat ID"  example(42)
// @Param       body             body    handlers.PostMessageRequest  true  "User message payload"
//
// @Success     200  {object}  handlers.TurnResponse  "Settled turn (buffered mode)"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Chat not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /chats/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	id, okID := chatID(c)
	if !okID {
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	content := sanitizeContent(req.Content)
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	sess := session(c)

	if wantsStream(req.Stream) {
		sseHeaders(c)
		res, err := h.Turns.SendTurn(ctx, sess, id, content, req.Model, callerAPIKey(c), func(delta string) {
			sseEvent(c, "delta", sseDelta{Content: delta})
		})
		if err != nil {
			sseEvent(c, "error", gin.H{"code": turnErrCode(err), "message": err.Error()})
			return
		}
		recordTurn(res)
		if res.Failed() {
			sseEvent(c, "error", gin.H{"code": ErrCodeTurnFailed, "message": res.Assistant.Content})
			return
		}
		sseEvent(c, "done", TurnResponse{Chat: res.Chat, Message: res.Assistant})
		return
	}

	// Buffered path with idempotent replay.
	currentUser := ""
	if sess.Authenticated() {
		currentUser = sess.UserID
	}
	idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if idemKey != "" {
		if rec, err := repo.GetIdempotency(ctx, h.Sync.DB, currentUser, id, idemKey, time.Now().UTC()); err == nil && rec != nil {
			if prev, err2 := repo.GetMessage(ctx, h.Sync.DB, rec.MessageID); err2 == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, TurnResponse{Message: prev})
				return
			}
		}
	}

	res, err := h.Turns.SendTurn(ctx, sess, id, content, req.Model, callerAPIKey(c), nil)
	if err != nil {
		h.turnError(c, err)
		return
	}
	recordTurn(res)

	if idemKey != "" && !res.Failed() {
		_, _ = repo.CreateIdempotency(ctx, h.Sync.DB, currentUser, id, idemKey, res.Assistant.LocalID, http.StatusOK, 24*time.Hour)
	}

	ok(c, http.StatusOK, TurnResponse{Chat: res.Chat, Message: res.Assistant})
}

// Regenerate godoc
// @ID          regenerateMessage
// @Summary     Regenerate an assistant reply into a branch chat
// @Description Creates a branch chat with a versioned title holding the conversation before the chosen reply, then generates a fresh reply there. The original chat is never modified.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Produce     text/event-stream
//
// @Param       X-User-ID  header  string  false "User ID; omit for guest mode"  example(user123)
// @Param       X-LLM-Key  header  string  false "Caller's own provider API key (pass-through, never stored)"
// @Param       id         path    int     true  "Chat ID"     example(42)
// @Param       msgId      path    int     true  "Assistant message ID to regenerate"  example(7)
// @Param       body       body    handlers.RegenerateRequest  true  "Regenerate options"
//
// @Success     200  {object}  handlers.TurnResponse  "Settled turn in the branch chat (buffered mode)"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Chat or message not found"
// @Router      /chats/{id}/messages/{msgId}/regenerate [post]
func (h *Handlers) Regenerate(c *gin.Context) {
	ctx := c.Request.Context()
	id, okID := chatID(c)
	if !okID {
		return
	}
	msgID, err := strconv.ParseUint(c.Param("msgId"), 10, 32)
	if err != nil || msgID == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message id must be a positive integer")
		return
	}

	// Body is optional; regenerate has no required fields.
	var req RegenerateRequest
	_ = c.ShouldBindJSON(&req)

	sess := session(c)

	if wantsStream(req.Stream) {
		sseHeaders(c)
		res, err := h.Turns.Regenerate(ctx, sess, id, uint(msgID), req.Model, callerAPIKey(c), func(delta string) {
			sseEvent(c, "delta", sseDelta{Content: delta})
		})
		if err != nil {
			sseEvent(c, "error", gin.H{"code": turnErrCode(err), "message": err.Error()})
			return
		}
		recordTurn(res)
		if res.Failed() {
			sseEvent(c, "error", gin.H{"code": ErrCodeTurnFailed, "message": res.Assistant.Content})
			return
		}
		sseEvent(c, "done", TurnResponse{Chat: res.Chat, Message: res.Assistant})
		return
	}

	res, err := h.Turns.Regenerate(ctx, sess, id, uint(msgID), req.Model, callerAPIKey(c), nil)
	if err != nil {
		h.turnError(c, err)
		return
	}
	recordTurn(res)
	ok(c, http.StatusOK, TurnResponse{Chat: res.Chat, Message: res.Assistant})
}

// recordTurn feeds the turn-outcome counter. Called once per settled turn;
// idempotent replays are not new turns and are not recorded.
func recordTurn(res *services.TurnResult) {
	if res.Failed() {
		middleware.ObserveTurnSettled(middleware.TurnOutcomeError)
		return
	}
	middleware.ObserveTurnSettled(middleware.TurnOutcomeText)
}

// turnError maps turn-service errors to buffered HTTP responses.
func (h *Handlers) turnError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrChatNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
	case errors.Is(err, services.ErrMessageNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
	case errors.Is(err, services.ErrEmptyPrompt):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
	case errors.Is(err, services.ErrTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content too long")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeTurnFailed, err.Error())
	}
}

// turnErrCode selects the SSE error code for a turn-service error.
func turnErrCode(err error) string {
	switch {
	case errors.Is(err, services.ErrChatNotFound), errors.Is(err, services.ErrMessageNotFound):
		return ErrCodeNotFound
	case errors.Is(err, services.ErrEmptyPrompt), errors.Is(err, services.ErrTooLong):
		return ErrCodeBadRequest
	default:
		return ErrCodeTurnFailed
	}
}
