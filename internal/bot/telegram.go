package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// OnUpdate adapts a Telegram update to Handle. Use it as the bot's default
// handler.
func (h *Handler) OnUpdate(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	if update == nil || update.Message == nil {
		return
	}
	h.Handle(ctx, MessageFromTelegram(update.Message))
}

// MessageFromTelegram converts a Telegram message.
func MessageFromTelegram(m *models.Message) Message {
	msg := Message{
		ChatID: strconv.FormatInt(m.Chat.ID, 10),
		Text:   m.Text,
	}
	if m.From != nil {
		msg.Username = m.From.Username
		msg.FirstName = m.From.FirstName
	}
	if len(m.Photo) > 0 {
		msg.HasPhoto = true
	}
	if m.Document != nil {
		msg.DocumentName = m.Document.FileName
		if msg.DocumentName == "" {
			msg.DocumentName = "file"
		}
	}
	return msg
}

// BotCommands returns the command menu shown by Telegram clients.
func (h *Handler) BotCommands() []models.BotCommand {
	out := make([]models.BotCommand, 0, len(h.commands))
	for _, c := range h.commands {
		out = append(out, models.BotCommand{Command: c.name, Description: c.description})
	}
	return out
}

// CommandRegistrar is the subset of *tgbot.Bot used to publish the command menu.
type CommandRegistrar interface {
	SetMyCommands(ctx context.Context, params *tgbot.SetMyCommandsParams) (bool, error)
}

// RegisterCommands publishes the command menu.
func (h *Handler) RegisterCommands(ctx context.Context, b CommandRegistrar) error {
	if _, err := b.SetMyCommands(ctx, &tgbot.SetMyCommandsParams{Commands: h.BotCommands()}); err != nil {
		return fmt.Errorf("set bot commands: %w", err)
	}
	slog.Info("bot commands registered", "count", len(h.commands))
	return nil
}
