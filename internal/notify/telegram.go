package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"
)

// TelegramAPI is the subset of *bot.Bot used for outbound messages.
type TelegramAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
}

// TelegramSender delivers texts and screenshots to chats, throttled to stay
// under the Bot API's global send limit.
type TelegramSender struct {
	api     TelegramAPI
	limiter *rate.Limiter
}

// NewTelegramSender creates a sender allowing perSecond messages per second
// across all chats. perSecond <= 0 disables throttling.
func NewTelegramSender(api TelegramAPI, perSecond int) *TelegramSender {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = perSecond
	}
	return &TelegramSender{api: api, limiter: rate.NewLimiter(limit, burst)}
}

func (t *TelegramSender) Validate() error {
	if t.api == nil {
		return errors.New("telegram: bot is not configured")
	}
	return nil
}

func (t *TelegramSender) SendText(ctx context.Context, chatID, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: wait for send slot: %w", err)
	}
	_, err := t.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: ParseChatID(chatID),
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("telegram: send message to %s: %w", chatID, err)
	}
	return nil
}

func (t *TelegramSender) SendImage(ctx context.Context, chatID string, png []byte, caption string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: wait for send slot: %w", err)
	}
	_, err := t.api.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:  ParseChatID(chatID),
		Photo:   &models.InputFileUpload{Filename: "screenshot.png", Data: bytes.NewReader(png)},
		Caption: caption,
	})
	if err != nil {
		return fmt.Errorf("telegram: send photo to %s: %w", chatID, err)
	}
	return nil
}

// ParseChatID returns numeric chat ids as int64 and anything else
// (e.g. "@channel") unchanged.
func ParseChatID(chatID string) any {
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return id
	}
	return chatID
}
