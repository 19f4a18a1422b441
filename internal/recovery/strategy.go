package recovery

import (
	"math"
	"time"

	"github.com/vietddude/migrator/internal/core/domain"
)

// DefaultMaxRetries applies when a catalog entry does not set MaxRetries.
const DefaultMaxRetries = 3

// ExponentialBackoff computes retry delays as InitialDelay * 2^attempt, capped at MaxDelay.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultBackoff returns 1s, 2s, 4s, ... capped at 30s.
func DefaultBackoff() ExponentialBackoff {
	return ExponentialBackoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// GetDelay returns the delay before the given (0-indexed) retry.
func (b ExponentialBackoff) GetDelay(attempt int) time.Duration {
	delay := float64(b.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(delay)
}

// retryBudget resolves the retry cap for an entry limit, falling back to def.
func retryBudget(entryLimit, def int) int {
	if entryLimit > 0 {
		return entryLimit
	}
	if def > 0 {
		return def
	}
	return DefaultMaxRetries
}

// defaultStrategyFor maps a severity to its fallback strategy.
func defaultStrategyFor(level domain.ErrorLevel) domain.RecoveryStrategy {
	switch level {
	case domain.LevelCritical:
		return domain.StrategyRollback
	case domain.LevelError:
		return domain.StrategyRetry
	case domain.LevelWarning:
		return domain.StrategySkip
	default:
		return domain.StrategyNone
	}
}
