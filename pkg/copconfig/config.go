// Package copconfig holds the small set of tunables shared by the broker
// and the requestor: the requestor's call timeout and the timeouts
// governing PIT expiry. Packet sizing is fixed by constants in the wire
// and bfi packages, not configured here. There is no file-based configuration
// system here (out of the core's scope); values are set via functional
// options on a Config, in the style of the teacher's SessionOpts.
package copconfig

import "time"

// DefaultRequestTimeout is the RequestTimeout of a Config built without
// WithRequestTimeout.
const DefaultRequestTimeout = 5 * time.Second

// Config holds the tunables a broker or requestor needs at construction
// time.
type Config struct {
	// RequestTimeout bounds how long a single Requestor.Request call
	// waits for all names to resolve when its caller passes no positive
	// timeout of its own.
	RequestTimeout time.Duration
	// PITTTL bounds how long a broker's PIT entry may remain
	// outstanding before a sweep removes it. Per the resolved open
	// question in the design notes, it defaults to RequestTimeout.
	PITTTL time.Duration
	// PITSweepInterval is how often the broker's expiry ticker fires.
	PITSweepInterval time.Duration
}

// Option configures a Config.
type Option func(*Config)

// WithRequestTimeout overrides the default request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.RequestTimeout = d }
}

// WithPITTTL overrides the default PIT entry TTL.
func WithPITTTL(d time.Duration) Option {
	return func(c *Config) { c.PITTTL = d }
}

// WithPITSweepInterval overrides how often the PIT is swept for expiry.
func WithPITSweepInterval(d time.Duration) Option {
	return func(c *Config) { c.PITSweepInterval = d }
}

// New builds a Config from opts, applying defaults first. PITTTL defaults
// to RequestTimeout when left unset by the caller.
func New(opts ...Option) Config {
	c := Config{
		RequestTimeout:   DefaultRequestTimeout,
		PITSweepInterval: time.Second,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.PITTTL == 0 {
		c.PITTTL = c.RequestTimeout
	}
	return c
}
