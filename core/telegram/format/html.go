// Package format builds the HTML fragments the bots send.
package format

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxMessageLen is Telegram's limit for one text message.
const MaxMessageLen = 4096

// Escape escapes text for Telegram HTML parse mode.
func Escape(text string) string {
	return html.EscapeString(text)
}

// Bold wraps escaped text in <b>.
func Bold(text string) string {
	return "<b>" + Escape(text) + "</b>"
}

// Code wraps escaped text in <code>.
func Code(text string) string {
	return "<code>" + Escape(text) + "</code>"
}

// Pre renders a code block. An empty lang omits the language class.
func Pre(lang, text string) string {
	if lang == "" {
		return "<pre>" + Escape(text) + "</pre>"
	}
	return fmt.Sprintf(`<pre><code class="language-%s">%s</code></pre>`, lang, Escape(text))
}

// Link renders an anchor.
func Link(href, text string) string {
	return fmt.Sprintf(`<a href="%s">%s</a>`, Escape(href), Escape(text))
}

// Truncate cuts s to at most limit bytes on a rune boundary and appends
// suffix when something was dropped.
func Truncate(s string, limit int, suffix string) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len(suffix)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}

// Amount prints a number without trailing zeros: 100, 2.5, 0.125.
func Amount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Handle prefixes a Telegram username with @ unless it already has one.
func Handle(username string) string {
	username = strings.TrimSpace(username)
	if username == "" || strings.HasPrefix(username, "@") {
		return username
	}
	return "@" + username
}
