package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nkoutris/go-chat-sync/internal/domain"
)

// ImageGenerator is the image-provider contract required by ImageService.
// Implemented by llm.Client.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, size, quality, model, apiKey string) (imageURL, revisedPrompt string, err error)
}

// UsageCounter tracks free-tier image generations per user.
// Implemented by cloud.Client over the user-profiles collection.
type UsageCounter interface {
	GetImageCount(ctx context.Context, userID string) (int, error)
	IncrementImageCount(ctx context.Context, userID string) (int, error)
}

// ImageService runs the image-generation turn: persist the request
// envelope, generate, persist the response or error envelope. Image
// generation is a signed-in feature; guests get ErrGuestOnly.
//
// The free-tier counter is read-then-increment with no coordination, so
// two simultaneous requests can both pass the limit check. Tolerated: the
// limit is a cost guard, not a billing invariant.
type ImageService struct {
	Sync  *SyncService
	LLM   ImageGenerator
	Usage UsageCounter

	// FreeLimit is the number of generations allowed without a caller
	// API key. 2 when unset.
	FreeLimit int

	// Model is the image model. "dall-e-3" when unset.
	Model string
}

// ImageTurn is the settled outcome of one image generation.
type ImageTurn struct {
	Request  *domain.Message
	Response *domain.Message
}

// Failed reports whether generation settled as an error-kind message.
func (t *ImageTurn) Failed() bool {
	return t.Response != nil && t.Response.Kind == domain.KindError
}

// Generate runs one image turn inside the given chat. Callers supplying
// their own API key bypass the free-tier counter.
func (s *ImageService) Generate(ctx context.Context, sess *domain.Session, chatLocalID uint, prompt, size, quality, apiKey string) (*ImageTurn, error) {
	if !sess.Authenticated() {
		return nil, ErrGuestOnly
	}
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	if apiKey == "" {
		used, err := s.Usage.GetImageCount(ctx, sess.UserID)
		if err != nil {
			return nil, err
		}
		if used >= s.freeLimit() {
			return nil, ErrFreeTierExhausted
		}
	}

	req, err := s.Sync.SaveMessage(ctx, sess, chatLocalID, &domain.Message{
		Role:        domain.RoleUser,
		Kind:        domain.KindImageRequest,
		Content:     prompt,
		ImagePrompt: prompt,
	})
	if err != nil {
		return nil, err
	}

	url, revised, err := s.LLM.GenerateImage(ctx, prompt, size, quality, s.model(), apiKey)
	if err != nil {
		log.Error().Err(err).Uint("chat", chatLocalID).Msg("image generation failed")
		resp, serr := s.Sync.SaveMessage(ctx, sess, chatLocalID, &domain.Message{
			Role:    domain.RoleAssistant,
			Kind:    domain.KindError,
			Content: "Image generation failed. Please try again.",
			Model:   s.model(),
		})
		if serr != nil {
			return nil, serr
		}
		return &ImageTurn{Request: req, Response: resp}, nil
	}

	if apiKey == "" {
		if _, cerr := s.Usage.IncrementImageCount(ctx, sess.UserID); cerr != nil {
			log.Warn().Err(cerr).Str("user", sess.UserID).Msg("image usage increment failed")
		}
	}

	now := time.Now().UTC()
	resp, err := s.Sync.SaveMessage(ctx, sess, chatLocalID, &domain.Message{
		Role:               domain.RoleAssistant,
		Kind:               domain.KindImageResponse,
		Content:            prompt,
		Model:              s.model(),
		ImageURL:           url,
		ImagePrompt:        prompt,
		ImageRevisedPrompt: revised,
		ImageAt:            &now,
	})
	if err != nil {
		return nil, err
	}
	return &ImageTurn{Request: req, Response: resp}, nil
}

// Remaining reports how many free-tier generations the user has left.
func (s *ImageService) Remaining(ctx context.Context, sess *domain.Session) (int, error) {
	if !sess.Authenticated() {
		return 0, ErrGuestOnly
	}
	used, err := s.Usage.GetImageCount(ctx, sess.UserID)
	if err != nil {
		return 0, err
	}
	left := s.freeLimit() - used
	if left < 0 {
		left = 0
	}
	return left, nil
}

func (s *ImageService) freeLimit() int {
	if s.FreeLimit > 0 {
		return s.FreeLimit
	}
	return 2
}

func (s *ImageService) model() string {
	if s.Model != "" {
		return s.Model
	}
	return "dall-e-3"
}
