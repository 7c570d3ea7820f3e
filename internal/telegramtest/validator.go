package telegramtest

import (
	"context"
	"errors"

	"github.com/m3rciful/botmaker/core/telegram/chat"
)

// ErrBadToken is returned by Validator for unknown tokens.
var ErrBadToken = errors.New("telegram: Unauthorized (401)")

// Validator maps tokens to bot profiles.
type Validator map[string]chat.BotProfile

// Validate returns the profile registered for token.
func (v Validator) Validate(_ context.Context, token string) (chat.BotProfile, error) {
	if p, ok := v[token]; ok {
		return p, nil
	}
	return chat.BotProfile{}, ErrBadToken
}
