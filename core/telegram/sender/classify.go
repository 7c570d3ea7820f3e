package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botmaker/core/telegram/netutil"
)

// Delivery outcome kinds.
const (
	KindBlocked     = "blocked"
	KindDeactivated = "deactivated"
	KindFailed      = "failed"
)

var permanentPhrases = map[string]string{
	"bot was blocked by the user":     KindBlocked,
	"bot was kicked":                  KindBlocked,
	"bot can't initiate conversation": KindBlocked,
	"user is deactivated":             KindDeactivated,
	"chat not found":                  KindDeactivated,
}

// DeliveryKind classifies a failed send as blocked, deactivated or failed.
// Blocked and deactivated recipients will never accept a message again.
func DeliveryKind(err error) string {
	if err == nil {
		return ""
	}
	text := strings.ToLower(err.Error())
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		text += " " + strings.ToLower(apiErr.Description)
	}
	for phrase, kind := range permanentPhrases {
		if strings.Contains(text, phrase) {
			return kind
		}
	}
	if apiErr != nil && apiErr.Code == http.StatusForbidden {
		return KindBlocked
	}
	return KindFailed
}

// IsBlocked reports whether the recipient permanently refuses messages.
func IsBlocked(err error) bool {
	k := DeliveryKind(err)
	return k == KindBlocked || k == KindDeactivated
}

// Retryable reports whether a failed call may succeed if repeated, and the
// minimum wait Telegram asked for, if any.
func Retryable(err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return true, time.Duration(flood.RetryAfter) * time.Second
	}
	if netutil.ShouldRetry(err) {
		return true, 0
	}
	if httpStatusFromError(err) >= 500 {
		return true, 0
	}
	return false, 0
}

// ErrorKind buckets an error for the err_code log field.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return "timeout"
		}
		return "dns"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "dial"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil && !errors.Is(urlErr.Err, err) {
		if kind := ErrorKind(urlErr.Err); kind != "unknown" {
			return kind
		}
	}

	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return "tls"
	}

	status := httpStatusFromError(err)
	switch {
	case status == http.StatusTooManyRequests:
		return "flood"
	case status == http.StatusForbidden:
		return "forbidden"
	case status >= 500:
		return "http_5xx"
	case status >= 400:
		return "http_4xx"
	}
	return "unknown"
}

func httpStatusFromError(err error) int {
	if err == nil {
		return 0
	}

	var floodErr tele.FloodError
	if errors.As(err, &floodErr) {
		return http.StatusTooManyRequests
	}

	var groupErr tele.GroupError
	if errors.As(err, &groupErr) {
		return http.StatusBadRequest
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	// telebot formats unknown API errors as "telegram: <text> (<code>)".
	msg := err.Error()
	open := strings.LastIndex(msg, "(")
	end := strings.LastIndex(msg, ")")
	if open >= 0 && end > open+1 {
		if code, convErr := strconv.Atoi(strings.TrimSpace(msg[open+1 : end])); convErr == nil {
			return code
		}
	}
	return 0
}
