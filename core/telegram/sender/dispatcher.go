// Package sender runs best-effort outbound Telegram calls on a worker pool
// and classifies their failures.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/botmaker/core/logger"
)

var (
	// ErrQueueClosed is returned when a job is queued after Close.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was dropped.
	ErrQueueFull = errors.New("telegram sender: queue full")
)

// Options controls the behaviour of the outbound dispatcher.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent retrying a single job.
	MaxDuration time.Duration
}

type job struct {
	ctx    context.Context
	action string
	chatID int64
	run    func(ctx context.Context) error
}

// Dispatcher executes queued calls asynchronously with retries.
type Dispatcher struct {
	opts Options
	jobs chan job
	stop chan struct{}
	mu   sync.RWMutex
	once sync.Once
	wg   sync.WaitGroup

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewDispatcher starts the worker pool, defaulting zeroed options.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 12 * time.Second
	}

	d := &Dispatcher{
		opts: opts,
		jobs: make(chan job, opts.QueueSize),
		stop: make(chan struct{}),
	}
	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go d.worker()
	}
	return d
}

// Enqueue schedules run for asynchronous execution. run must be safe to
// repeat when retries are enabled. The job keeps ctx values for logging but
// is not cancelled with it, so a finished update does not abort its
// notifications.
func (d *Dispatcher) Enqueue(ctx context.Context, action string, chatID int64, run func(ctx context.Context) error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	select {
	case <-d.stop:
		return ErrQueueClosed
	default:
	}

	select {
	case d.jobs <- job{ctx: context.WithoutCancel(ctx), action: action, chatID: chatID, run: run}:
		return nil
	default:
		logger.Warn(ctx, "tg.sender", "send.drop",
			slog.String("action", action), slog.Int64("target", chatID))
		return ErrQueueFull
	}
}

// Stats returns counts of delivered and failed jobs.
func (d *Dispatcher) Stats() (sent, failed uint64) {
	return d.sent.Load(), d.failed.Load()
}

// Close stops accepting jobs and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		close(d.stop)
		close(d.jobs)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.handleJob(j)
	}
}

func (d *Dispatcher) handleJob(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := d.opts.MaxRetries + 1
	var lastErr error

loop:
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = j.run(ctx)
		if lastErr == nil {
			d.sent.Add(1)
			attrs := append(jobAttrs(j), slog.Duration("elapsed", logger.RoundMS(time.Since(start))))
			if attempt > 1 {
				attrs = append(attrs, slog.Int("attempt", attempt))
			}
			logger.Debug(ctx, "tg.sender", "send.success", attrs...)
			return
		}

		retry, wait := Retryable(lastErr)
		if !retry || attempt == attempts {
			break
		}
		delay := max(wait, d.opts.RetryBackoff*time.Duration(attempt))
		logger.Debug(ctx, "tg.sender", "send.retry.backoff",
			append(jobAttrs(j), slog.Int("attempt", attempt), slog.Duration("delay", delay))...)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = errors.Join(lastErr, ctx.Err())
			break loop
		case <-timer.C:
		}
	}

	d.failed.Add(1)
	logger.Error(ctx, "tg.sender", "send.fail",
		append(jobAttrs(j),
			logger.Err(lastErr),
			slog.String("error_kind", ErrorKind(lastErr)),
			slog.String("delivery", DeliveryKind(lastErr)),
			slog.Duration("elapsed", logger.RoundMS(time.Since(start))),
		)...,
	)
}

func jobAttrs(j job) []slog.Attr {
	attrs := []slog.Attr{slog.String("action", j.action)}
	if j.chatID != 0 {
		attrs = append(attrs, slog.Int64("target", j.chatID))
	}
	return attrs
}
