package telegram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botmaker/core/telegram/chat"
)

// TokenChecker validates bot tokens by calling getMe.
type TokenChecker struct {
	// APIURL overrides the Bot API base URL; empty means the public API.
	APIURL string
	Client *http.Client
}

var _ chat.TokenValidator = (*TokenChecker)(nil)

// Validate returns the profile of the bot owning token.
func (c *TokenChecker) Validate(ctx context.Context, token string) (chat.BotProfile, error) {
	if err := ctx.Err(); err != nil {
		return chat.BotProfile{}, err
	}
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	bot, err := tele.NewBot(tele.Settings{
		URL:    c.APIURL,
		Token:  token,
		Client: client,
	})
	if err != nil {
		return chat.BotProfile{}, fmt.Errorf("getMe: %w", err)
	}
	if bot.Me == nil {
		return chat.BotProfile{}, fmt.Errorf("getMe: empty profile")
	}
	return chat.BotProfile{
		ID:        bot.Me.ID,
		Username:  bot.Me.Username,
		FirstName: bot.Me.FirstName,
	}, nil
}
