package queue

import "fmt"

// Config is the immutable per-queue policy. Two configurations are equal
// when their fields are equal, so plain == comparison is the equality check.
//
// Capacity 0 means unbounded; it is never used as a real bound.
type Config struct {
	Persistent bool `mapstructure:"persistent"`
	Capacity   int  `mapstructure:"capacity"`
}

// DefaultConfig returns the non-persistent, unbounded configuration.
func DefaultConfig() Config {
	return Config{}
}

// Bounded reports whether the queue has a capacity limit.
func (c Config) Bounded() bool {
	return c.Capacity > 0
}

// Validate rejects negative capacities.
func (c Config) Validate() error {
	if c.Capacity < 0 {
		return fmt.Errorf("queue: capacity must be >= 0, got %d", c.Capacity)
	}
	return nil
}
