package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/nkoutris/go-chat-sync/internal/domain"
	"github.com/nkoutris/go-chat-sync/internal/llm"
)

// Streamer is the model-provider contract required by TurnService.
// Implemented by llm.Client; tests substitute scripted fakes.
type Streamer interface {
	StreamChat(ctx context.Context, req llm.ChatRequest, onDelta func(string)) (string, error)
	Complete(ctx context.Context, req llm.ChatRequest) (string, error)
}

// errorReplyContent is the persisted body of an error-kind assistant
// message. The raw provider error goes to the log, never to the store.
const errorReplyContent = "The model did not return a response. Please try again."

// TurnService orchestrates one conversational turn: persist the user
// prompt, stream the model reply, persist the settled outcome. A turn
// settles exactly once, as either a text reply or an error-kind message;
// partial streamed content is never written.
type TurnService struct {
	Sync   *SyncService
	LLM    Streamer
	Titles *TitleService

	// DefaultModel is used when a request names none.
	DefaultModel string

	// MaxPromptRunes rejects oversized prompts. 8000 when unset.
	MaxPromptRunes int
}

// TurnResult is the settled outcome of a send or regenerate call.
type TurnResult struct {
	Chat      *domain.Chat
	UserMsg   *domain.Message
	Assistant *domain.Message
}

// Failed reports whether the turn settled as an error-kind message.
func (r *TurnResult) Failed() bool {
	return r.Assistant != nil && r.Assistant.Kind == domain.KindError
}

// SendTurn runs one turn in the given chat. A zero chatLocalID creates a
// fresh chat first. onDelta receives streamed content fragments and may be
// nil. Provider failures settle the turn as an error-kind message rather
// than an error return; callers inspect TurnResult.Failed.
func (s *TurnService) SendTurn(ctx context.Context, sess *domain.Session, chatLocalID uint, prompt, model, apiKey string, onDelta func(string)) (*TurnResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if max := s.maxPromptRunes(); utf8.RuneCountInString(prompt) > max {
		return nil, ErrTooLong
	}
	if model == "" {
		model = s.DefaultModel
	}

	var chat *domain.Chat
	var err error
	if chatLocalID == 0 {
		chat, err = s.Sync.CreateChat(ctx, sess, "")
	} else {
		chat, err = s.Sync.GetChat(ctx, chatLocalID)
	}
	if err != nil {
		return nil, err
	}

	userMsg, err := s.Sync.SaveMessage(ctx, sess, chat.LocalID, &domain.Message{
		Role:    domain.RoleUser,
		Kind:    domain.KindText,
		Content: prompt,
	})
	if err != nil {
		return nil, err
	}

	if s.Titles.ShouldAutoTitle(chat.Title) {
		if gen := s.Titles.FromPrompt(prompt); gen != "" {
			if terr := s.Sync.UpdateTitle(ctx, sess, chat.LocalID, gen); terr != nil {
				log.Warn().Err(terr).Uint("chat", chat.LocalID).Msg("auto-title failed")
			} else {
				chat.Title = gen
			}
		}
	}

	history, err := s.Sync.GetMessages(ctx, sess, chat.LocalID)
	if err != nil {
		return nil, err
	}

	assistant, err := s.generate(ctx, sess, chat.LocalID, turnsOf(history), model, apiKey, onDelta)
	if err != nil {
		return nil, err
	}
	return &TurnResult{Chat: chat, UserMsg: userMsg, Assistant: assistant}, nil
}

// Regenerate re-runs the turn that produced the given assistant message.
// The original chat is never modified: a branch chat is created with a
// versioned title, the conversation strictly before the regenerated
// message is copied into it, and a fresh reply is generated there.
func (s *TurnService) Regenerate(ctx context.Context, sess *domain.Session, chatLocalID, assistantLocalID uint, model, apiKey string, onDelta func(string)) (*TurnResult, error) {
	chat, err := s.Sync.GetChat(ctx, chatLocalID)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = s.DefaultModel
	}

	msgs, err := s.Sync.GetMessages(ctx, sess, chatLocalID)
	if err != nil {
		return nil, err
	}
	cut := -1
	for i := range msgs {
		if msgs[i].LocalID == assistantLocalID && msgs[i].Role == domain.RoleAssistant {
			cut = i
			break
		}
	}
	if cut < 0 {
		return nil, ErrMessageNotFound
	}
	prefix := msgs[:cut]

	branch, err := s.Sync.CreateBranchChat(ctx, sess, s.Titles.VersionTitle(chat.Title), chat)
	if err != nil {
		return nil, err
	}

	// Copy keeps original timestamps so the branch replays in order.
	for i := range prefix {
		cp := &domain.Message{
			Role:               prefix[i].Role,
			Kind:               prefix[i].Kind,
			Content:            prefix[i].Content,
			Model:              prefix[i].Model,
			ImageURL:           prefix[i].ImageURL,
			ImagePrompt:        prefix[i].ImagePrompt,
			ImageRevisedPrompt: prefix[i].ImageRevisedPrompt,
			ImageAt:            prefix[i].ImageAt,
			CreatedAt:          prefix[i].CreatedAt,
		}
		if _, err := s.Sync.SaveMessage(ctx, sess, branch.LocalID, cp); err != nil {
			return nil, err
		}
	}

	assistant, err := s.generate(ctx, sess, branch.LocalID, turnsOf(prefix), model, apiKey, onDelta)
	if err != nil {
		return nil, err
	}
	return &TurnResult{Chat: branch, Assistant: assistant}, nil
}

// generate streams a reply and persists the settled outcome, text or
// error-kind, as a single message.
func (s *TurnService) generate(ctx context.Context, sess *domain.Session, chatLocalID uint, history []llm.Turn, model, apiKey string, onDelta func(string)) (*domain.Message, error) {
	if onDelta == nil {
		onDelta = func(string) {}
	}
	reply, err := s.LLM.StreamChat(ctx, llm.ChatRequest{Model: model, Messages: history, APIKey: apiKey}, onDelta)
	if err != nil || strings.TrimSpace(reply) == "" {
		log.Error().Err(err).Uint("chat", chatLocalID).Str("model", model).Msg("model call failed")
		return s.Sync.SaveMessage(ctx, sess, chatLocalID, &domain.Message{
			Role:    domain.RoleAssistant,
			Kind:    domain.KindError,
			Content: errorReplyContent,
			Model:   model,
		})
	}
	return s.Sync.SaveMessage(ctx, sess, chatLocalID, &domain.Message{
		Role:    domain.RoleAssistant,
		Kind:    domain.KindText,
		Content: reply,
		Model:   model,
	})
}

// turnsOf projects persisted messages into provider turns. Only text
// messages carry over; image envelopes and error replies are not
// conversation context.
func turnsOf(msgs []domain.Message) []llm.Turn {
	out := make([]llm.Turn, 0, len(msgs))
	for i := range msgs {
		if msgs[i].Kind != domain.KindText {
			continue
		}
		out = append(out, llm.Turn{Role: msgs[i].Role, Content: msgs[i].Content})
	}
	return out
}

func (s *TurnService) maxPromptRunes() int {
	if s.MaxPromptRunes > 0 {
		return s.MaxPromptRunes
	}
	return 8000
}
