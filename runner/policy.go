package runner

import "time"

// Policy is a declarative retry policy. The zero value never retries.
type Policy struct {
	MaxRetries int
	Strategy   RetryStrategy
	Timeout    time.Duration
	// RetryIf filters which errors are retried; nil retries any error.
	RetryIf func(error) bool
}

// Enabled reports whether the policy allows any retry.
func (p Policy) Enabled() bool { return p.MaxRetries > 0 }

// Handler builds a Handler from the policy plus extra options.
func (p Policy) Handler(opts ...Option) *Handler {
	base := []Option{
		WithMaxRetries(p.MaxRetries),
		WithTimeout(p.Timeout),
		WithRetryIf(p.RetryIf),
	}
	if p.Strategy != nil {
		base = append(base, WithRetryStrategy(p.Strategy))
	}
	return NewHandler(append(base, opts...)...)
}
