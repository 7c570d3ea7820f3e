package telegram

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/m3rciful/botmaker/core/logger"
	"github.com/m3rciful/botmaker/core/telegram/netutil"
)

const (
	defaultDialTimeout     = 5 * time.Second
	defaultTLSHandshake    = 5 * time.Second
	defaultIdleConnTimeout = 30 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultClientTimeout   = 30 * time.Second
	defaultRetryAttempts   = 3
	defaultRetryBackoff    = 2 * time.Second
	// longPollMargin keeps the client timeout above the getUpdates timeout.
	longPollMargin = 10 * time.Second
)

// HTTPOptions tune BuildHTTPClient. Zero values use the defaults.
type HTTPOptions struct {
	// LongPoll is the getUpdates timeout the client must outlive.
	LongPoll time.Duration
	Retries  int
	Backoff  time.Duration
}

// BuildHTTPClient returns an HTTP client for Bot API calls. Transient
// transport failures are retried with linear backoff.
func BuildHTTPClient(opts HTTPOptions) *http.Client {
	timeout := defaultClientTimeout
	if lp := opts.LongPoll + longPollMargin; opts.LongPoll > 0 && lp > timeout {
		timeout = lp
	}
	retries := opts.Retries
	if retries <= 0 {
		retries = defaultRetryAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: defaultTLSHandshake,
		// getUpdates holds the response until the poll timeout expires.
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &retryTransport{base: transport, maxRetries: retries, backoff: backoff},
	}
}

type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
}

// rewind returns a fresh copy of req for a repeated attempt. Requests whose
// body cannot be replayed are not retried.
func rewind(req *http.Request) (*http.Request, bool, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req.Clone(req.Context()), true, nil
	}
	if req.GetBody == nil {
		return nil, false, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false, err
	}
	out := req.Clone(req.Context())
	out.Body = body
	return out, true, nil
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req)
	for attempt := 1; err != nil && attempt <= t.maxRetries && netutil.ShouldRetry(err); attempt++ {
		next, ok, rerr := rewind(req)
		if rerr != nil {
			return nil, rerr
		}
		if !ok {
			return nil, err
		}
		logger.TG.DebugContext(req.Context(), "retrying bot api call",
			slog.String("event", "tg.http_retry"),
			slog.String("path", req.URL.Path),
			slog.Int("attempt", attempt),
			logger.Err(err),
		)
		if delay := t.backoff * time.Duration(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-req.Context().Done():
				timer.Stop()
				return nil, req.Context().Err()
			case <-timer.C:
			}
		}
		resp, err = base.RoundTrip(next)
	}
	return resp, err
}
