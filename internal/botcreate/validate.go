package botcreate

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxNameLen bounds the display name in runes.
const MaxNameLen = 64

var (
	channelLinkRe = regexp.MustCompile(`^(https?://)?t\.me/([a-zA-Z0-9_]{5,32})$`)

	errNotNumber = errors.New("not a number")
	errNegative  = errors.New("negative")
)

// LooksLikeToken is the offline shape check run before getMe.
func LooksLikeToken(s string) bool {
	return strings.Contains(s, ":") && len(s) >= 30
}

// ValidName trims s and checks it is a usable display name.
func ValidName(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > MaxNameLen {
		return s, false
	}
	return s, true
}

// ChannelUsername returns the @username of a public t.me channel link.
func ChannelUsername(link string) (string, bool) {
	m := channelLinkRe.FindStringSubmatch(strings.TrimSpace(link))
	if m == nil {
		return "", false
	}
	return "@" + m[2], true
}

// ValidLink accepts web links and t.me links without spaces.
func ValidLink(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return false
	}
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://") || strings.HasPrefix(l, "t.me/")
}

// IsTelegramLink reports whether s points at t.me.
func IsTelegramLink(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "https://t.me/") || strings.HasPrefix(l, "http://t.me/") || strings.HasPrefix(l, "t.me/")
}

// ParseAmount parses a non-negative number, ignoring thousands separators.
func ParseAmount(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotNumber
	}
	if v < 0 {
		return 0, errNegative
	}
	return v, nil
}
