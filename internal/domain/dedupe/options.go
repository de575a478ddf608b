package dedupe

// Option applies a configuration option to the in-memory claim set.
type Option func(*inMemoryClaims)

// WithMaxSize sets the maximum number of names held at once.
// If maxSize > 0 the oldest claim is evicted when full.
// If maxSize <= 0 the set is unbounded.
func WithMaxSize(maxSize int) Option {
	return func(c *inMemoryClaims) {
		c.maxSize = maxSize
	}
}
