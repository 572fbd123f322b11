package sweeper

import (
	"time"

	"github.com/sbellone/carnet/pkg/logger"
)

// Option applies a configuration option to the Sweeper.
type Option func(*Sweeper)

// WithInterval sets the time between sweep passes.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMaxAge sets how long a staged photo may wait before being expired.
// Zero disables expiry; duplicate detection still runs.
func WithMaxAge(d time.Duration) Option {
	return func(s *Sweeper) {
		s.maxAge = d
	}
}

// WithLogger sets a custom logger for the sweeper.
func WithLogger(l logger.Logger) Option {
	return func(s *Sweeper) {
		s.logger = l
	}
}
