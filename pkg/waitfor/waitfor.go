package waitfor

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the condition did not complete within the
// configured number of polls.
var ErrTimeout = errors.New("wait-for-completion timed out")

// Config bounds a polling loop: at most MaxPolls checks, Interval apart.
type Config struct {
	MaxPolls int
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxPolls: 30,
		Interval: 2 * time.Second,
	}
}

// Poll invokes check until it reports done, fails, or the poll budget is
// exhausted. A false+nil return means "not yet", which consumes one poll.
func Poll[T any](ctx context.Context, cfg Config, check func(ctx context.Context) (T, bool, error)) (T, error) {
	var zero T

	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 30
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}

	for i := 0; i < cfg.MaxPolls; i++ {
		result, done, err := check(ctx)
		if err != nil {
			return zero, err
		}
		if done {
			return result, nil
		}

		if i == cfg.MaxPolls-1 {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.Interval):
		}
	}

	return zero, ErrTimeout
}
