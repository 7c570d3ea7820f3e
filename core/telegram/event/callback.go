package event

import (
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// ParseCallbackData parses telebot's "\f<unique>|<payload>" encoding.
// Plain data without the marker is treated as a bare unique.
func ParseCallbackData(cb *tele.Callback) (string, string) {
	if cb == nil {
		return "", ""
	}
	raw := strings.TrimPrefix(cb.Data, "\f")
	unique, payload, _ := strings.Cut(raw, "|")
	unique = strings.TrimSpace(unique)
	if unique == "" {
		unique = cb.Unique
	}
	return unique, payload
}

// ArgInt64 parses the callback argument as int64.
func (e Event) ArgInt64() (int64, error) {
	return strconv.ParseInt(e.CallbackArg, 10, 64)
}

// ArgParts splits the callback argument into exactly n parts.
func (e Event) ArgParts(sep string, n int) ([]string, error) {
	if e.CallbackArg == "" {
		return nil, strconv.ErrSyntax
	}
	parts := strings.SplitN(e.CallbackArg, sep, n)
	if len(parts) != n {
		return nil, strconv.ErrSyntax
	}
	return parts, nil
}
