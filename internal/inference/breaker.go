package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/sony/gobreaker"
)

// BreakerSettings tune when a breaker opens and how long it stays open.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker once reached.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker rejects calls before probing again.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings returns the settings used by the server.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

// newCircuitBreaker counts only transient failures against the provider.
// Blocked content or a malformed reply says nothing about provider health.
func newCircuitBreaker(name string, settings BreakerSettings, logger *slog.Logger) *gobreaker.CircuitBreaker {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrTransient)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("inference circuit breaker changed state",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})
}

func mapBreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

type callResult struct {
	summary string
	usage   Usage
}

type breakingVisionModel struct {
	next VisionModel
	cb   *gobreaker.CircuitBreaker
}

// WithVisionBreaker wraps m so that repeated transient failures fail fast.
func WithVisionBreaker(m VisionModel, settings BreakerSettings, logger *slog.Logger) VisionModel {
	return &breakingVisionModel{next: m, cb: newCircuitBreaker("vision", settings, logger)}
}

func (b *breakingVisionModel) DescribeImage(ctx context.Context, image domain.Image) (string, Usage, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		summary, usage, err := b.next.DescribeImage(ctx, image)
		if err != nil {
			return nil, err
		}
		return callResult{summary: summary, usage: usage}, nil
	})
	if err != nil {
		return "", Usage{}, mapBreakerError(err)
	}
	res := out.(callResult)
	return res.summary, res.usage, nil
}

type breakingTextModel struct {
	next TextModel
	cb   *gobreaker.CircuitBreaker
}

// WithTextBreaker wraps m so that repeated transient failures fail fast.
func WithTextBreaker(m TextModel, settings BreakerSettings, logger *slog.Logger) TextModel {
	return &breakingTextModel{next: m, cb: newCircuitBreaker("text", settings, logger)}
}

func (b *breakingTextModel) Complete(ctx context.Context, prompt string) (string, Usage, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		reply, usage, err := b.next.Complete(ctx, prompt)
		if err != nil {
			return nil, err
		}
		return callResult{summary: reply, usage: usage}, nil
	})
	if err != nil {
		return "", Usage{}, mapBreakerError(err)
	}
	res := out.(callResult)
	return res.summary, res.usage, nil
}

func (b *breakingTextModel) ModelName() string {
	return b.next.ModelName()
}
