package group

// ErrorMode defines how the Group handles errors from its functions
type ErrorMode int

const (
	// FailFast cancels the group on first error and returns it
	FailFast ErrorMode = iota
	// CollectAll collects all errors and returns them combined
	CollectAll
	// IgnoreErrors ignores all errors from functions
	IgnoreErrors
)

func (m ErrorMode) String() string {
	switch m {
	case FailFast:
		return "FailFast"
	case CollectAll:
		return "CollectAll"
	case IgnoreErrors:
		return "IgnoreErrors"
	default:
		return "Unknown"
	}
}

// Config holds configuration for a Group
type Config struct {
	errorMode ErrorMode
}

// Option configures a Group
type Option func(*Config)

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		errorMode: CollectAll,
	}
}

// BuildConfig applies opts to the default configuration.
func BuildConfig(opts []Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithErrorMode sets how errors are handled
func WithErrorMode(mode ErrorMode) Option {
	return func(c *Config) {
		c.errorMode = mode
	}
}
