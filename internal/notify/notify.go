// Package notify forwards moderation events to operators.
package notify

import (
	"context"
	"fmt"

	"gopkg.in/telebot.v4"
)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Nop struct{}

func (Nop) Notify(context.Context, string) error {
	return nil
}

// Telegram posts notifications into a single chat.
type Telegram struct {
	bot  telebot.API
	chat *telebot.Chat
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := telebot.NewBot(telebot.Settings{
		Token:   token,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bot: %w", err)
	}
	return NewTelegramWithAPI(bot, chatID), nil
}

func NewTelegramWithAPI(bot telebot.API, chatID int64) *Telegram {
	return &Telegram{
		bot:  bot,
		chat: &telebot.Chat{ID: chatID},
	}
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(t.chat, text, telebot.NoPreview); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}
