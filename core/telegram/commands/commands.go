// Package commands declares the metadata attached to registered handlers.
package commands

import "github.com/m3rciful/botmaker/core/telegram/event"

// Command represents a bot command with its handler, description, and metadata.
type Command struct {
	Handler     event.Handler
	Description string
	AdminOnly   bool
	Hidden      bool
	Aliases     []string
}

// Callback binds an inline button unique to its handler.
type Callback struct {
	Handler   event.Handler
	AdminOnly bool
}
