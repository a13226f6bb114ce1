package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"call-insights-go/internal/logger"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
)

type CompletionRequest struct {
	Prompt    string
	MaxTokens int
}

// Completer sends one prompt to a text-generation endpoint.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type Option func(*Invoker)

func WithMaxAttempts(n int) Option {
	return func(i *Invoker) {
		if n > 0 {
			i.maxAttempts = n
		}
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(i *Invoker) {
		if d > 0 {
			i.baseDelay = d
		}
	}
}

// WithTimer replaces the wall-clock timer used between attempts.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(i *Invoker) { i.newTimer = newTimer }
}

func WithLogger(l *logger.Logger) Option {
	return func(i *Invoker) {
		if l != nil {
			i.log = l
		}
	}
}

// Invoker calls a Completer, retrying rate-limited attempts with exponential
// backoff (base, 2*base, 4*base, ...). Every other failure aborts immediately.
type Invoker struct {
	completer   Completer
	maxAttempts int
	baseDelay   time.Duration
	newTimer    func() backoff.Timer
	log         *logger.Logger
}

func NewInvoker(c Completer, opts ...Option) *Invoker {
	i := &Invoker{
		completer:   c,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.log == nil {
		i.log = logger.New()
	}
	i.log = i.log.WithComponent("llm-invoker")
	return i
}

func (i *Invoker) policy(ctx context.Context) backoff.BackOff {
	if i.maxAttempts <= 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = i.baseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = i.baseDelay << uint(i.maxAttempts)
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(i.maxAttempts-1)), ctx)
}

// Invoke returns the raw completion text. It fails with ErrRateLimitExceeded
// after maxAttempts rate-limited attempts, or with a *ModelError otherwise.
func (i *Invoker) Invoke(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var (
		out     string
		attempt int
	)
	op := func() error {
		attempt++
		text, err := i.completer.Complete(ctx, CompletionRequest{Prompt: prompt, MaxTokens: maxTokens})
		if err == nil {
			out = text
			return nil
		}
		if IsRateLimit(err) {
			return err
		}
		return backoff.Permanent(&ModelError{Attempt: attempt, Err: err})
	}
	notify := func(err error, wait time.Duration) {
		i.log.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": i.maxAttempts,
			"wait":         wait.String(),
		}).Warn("rate limited, backing off")
	}

	var timer backoff.Timer
	if i.newTimer != nil {
		timer = i.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(op, i.policy(ctx), notify, timer)
	if err == nil {
		return out, nil
	}

	var merr *ModelError
	switch {
	case errors.As(err, &merr):
		return "", merr
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "", &ModelError{Attempt: attempt, Err: err}
	case IsRateLimit(err):
		i.log.WithField("attempts", attempt).Error("rate limit retries exhausted")
		return "", fmt.Errorf("%w after %d attempts: %v", ErrRateLimitExceeded, attempt, err)
	}
	return "", &ModelError{Attempt: attempt, Err: err}
}
