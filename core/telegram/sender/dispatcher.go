// Package sender queues outbound Telegram calls that must not hold up the
// update being handled: courier notices, reminders and operator alerts.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/netutil"

	tele "gopkg.in/telebot.v4"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after Close.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("telegram sender: queue full")

	tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
)

// Options controls queue size, worker count and retry policy.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent on a single job, retries included.
	MaxDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
	return o
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

// Stats are cumulative job counters.
type Stats struct {
	Sent    uint64
	Failed  uint64
	Retried uint64
}

// Dispatcher runs queued sends on a fixed worker pool.
type Dispatcher struct {
	opts Options
	jobs chan job
	wg   sync.WaitGroup

	// mu guards closed and the send on jobs against Close.
	mu     sync.RWMutex
	closed bool

	sent    atomic.Uint64
	failed  atomic.Uint64
	retried atomic.Uint64
}

// NewDispatcher starts the workers. Zero options take defaults.
func NewDispatcher(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{
		opts: opts,
		jobs: make(chan job, opts.QueueSize),
	}
	d.wg.Add(opts.Workers)
	for range opts.Workers {
		go func() {
			defer d.wg.Done()
			for j := range d.jobs {
				d.deliver(j)
			}
		}()
	}
	return d
}

// Enqueue schedules run without blocking. run must be safe to repeat when
// retries are enabled.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.jobs <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close rejects new jobs and waits until the queued ones are delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// ErrorCount returns the number of jobs that finally failed.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.failed.Load()
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{Sent: d.sent.Load(), Failed: d.failed.Load(), Retried: d.retried.Load()}
}

func (d *Dispatcher) deliver(j job) {
	// The job outlives the update that queued it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attrs := jobAttrs(j.ctx, j)

	var (
		err     error
		attempt int
	)
	for attempt = 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
			break
		}
		if err = j.run(); err == nil {
			d.sent.Add(1)
			logger.Debug(j.ctx, logger.CompSender, "send",
				append(attrs,
					slog.String("status", "ok"),
					slog.Int("attempt", attempt),
					slog.Duration("duration", logger.Took(start)),
				)...,
			)
			return
		}
		if attempt > d.opts.MaxRetries || !netutil.ShouldRetry(err) {
			break
		}
		d.retried.Add(1)
		delay := d.opts.RetryBackoff * time.Duration(attempt)
		logger.Debug(j.ctx, logger.CompSender, "send",
			append(attrs,
				slog.String("status", "retry"),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)...,
		)
		if !wait(ctx, delay) {
			err = ctx.Err()
			break
		}
	}

	d.failed.Add(1)
	logger.Error(j.ctx, logger.CompSender, "send",
		append(attrs,
			slog.String("status", "fail"),
			slog.String("err", SanitizeError(err)),
			slog.String("err_kind", errorKind(err)),
			slog.Int("attempts", attempt),
			slog.Duration("duration", logger.Took(start)),
		)...,
	)
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// jobAttrs carries the action so alert deliveries are never re-forwarded.
func jobAttrs(ctx context.Context, j job) []slog.Attr {
	attrs := []slog.Attr{slog.String("action", j.action)}
	if j.endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", j.endpoint))
	}
	if updateID := logger.UpdateIDFrom(ctx); updateID != 0 {
		attrs = append(attrs, slog.Int64("update_id", updateID))
	}
	if userID := logger.UserIDFrom(ctx); userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	return attrs
}

// SanitizeError renders err with bot tokens redacted.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}

func errorKind(err error) string {
	if err == nil {
		return ""
	}
	var (
		floodErr tele.FloodError
		apiErr   *tele.Error
		dnsErr   *net.DNSError
		opErr    *net.OpError
		netErr   net.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &floodErr):
		return "rate_limited"
	case errors.As(err, &apiErr):
		return httpKind(apiErr.Code)
	case errors.As(err, &dnsErr) && !dnsErr.IsTimeout:
		return "dns"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return "dial"
	}
	if code := trailingCode(err.Error()); code > 0 {
		return httpKind(code)
	}
	return "unknown"
}

func httpKind(code int) string {
	switch {
	case code == 429:
		return "rate_limited"
	case code >= 500:
		return "http_5xx"
	case code >= 400:
		return "http_4xx"
	default:
		return "unknown"
	}
}

// trailingCode reads the "(400)" suffix telebot puts on API errors.
func trailingCode(msg string) int {
	open, end := strings.LastIndex(msg, "("), strings.LastIndex(msg, ")")
	if open < 0 || end <= open+1 {
		return 0
	}
	code, err := strconv.Atoi(strings.TrimSpace(msg[open+1 : end]))
	if err != nil {
		return 0
	}
	return code
}
