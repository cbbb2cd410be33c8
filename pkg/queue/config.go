package queue

// Config holds the environment-driven configuration for the queue manager.
type Config struct {
	MaxRetries      int     `env:"OPQUEUE_MAX_RETRIES" envDefault:"5"`
	DefaultPriority int     `env:"OPQUEUE_DEFAULT_PRIORITY" envDefault:"1"`
	BackoffGate     bool    `env:"OPQUEUE_BACKOFF_GATE" envDefault:"false"`
	Jitter          float64 `env:"OPQUEUE_BACKOFF_JITTER" envDefault:"0"`
}

// Options converts the config into manager options.
func (c Config) Options() []ManagerOption {
	opts := []ManagerOption{
		WithMaxRetries(c.MaxRetries),
		WithDefaultPriority(c.DefaultPriority),
	}
	if c.BackoffGate {
		opts = append(opts, WithBackoffGate())
	}
	if c.Jitter > 0 {
		opts = append(opts, WithJitter(c.Jitter))
	}
	return opts
}
