package common

// A context bundles the runtime dependencies shared by every socket:
// the config it was tuned with and the logger it reports through.
type Context interface {
	Config() Config
	Logger() Logger
}

type ctx struct {
	config Config
	logger Logger
}

func NewContext(config Config) Context {
	return &ctx{config: config, logger: NewStandardLogger(config)}
}

// NewDefaultContext is the zero-configuration context used when a caller
// has no opinions.  Process-wide; safe to share.
func NewDefaultContext() Context {
	return NewContext(NewEmptyConfig())
}

func (c *ctx) Config() Config {
	return c.config
}

func (c *ctx) Logger() Logger {
	return c.logger
}
