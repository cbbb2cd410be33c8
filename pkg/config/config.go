// Package config loads environment-driven configuration structs. It reads a
// .env file once per process (when one exists) and parses struct fields via
// env tags, caching each config type so repeated loads are cheap and
// consistent.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Package errors.
var (
	ErrParsingConfig = errors.New("failed to parse environment variables into config")
	ErrNilPointer    = errors.New("nil pointer provided to config loader")
)

var (
	cacheMu sync.Mutex
	cache   = make(map[string]any)

	dotenvOnce sync.Once
)

// Load parses environment variables into the config struct. The first call
// for a given type does the parsing; later calls return the cached value, so
// every component sees the same configuration.
//
//	type Config struct {
//		MaxRetries int `env:"OPQUEUE_MAX_RETRIES" envDefault:"5"`
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil { ... }
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	dotenvOnce.Do(func() {
		// Missing .env is not an error; real environments set vars directly.
		_ = godotenv.Load()
	})

	typeName := reflect.TypeOf(*v).String()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if cached, ok := cache[typeName]; ok {
		*v = cached.(T)
		return nil
	}

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	cache[typeName] = *v
	return nil
}

// MustLoad works like Load but panics on failure. For configuration the
// process cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}
