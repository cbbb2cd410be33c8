package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novakit/opqueue/pkg/config"
)

type serverConfig struct {
	Host string `env:"TEST_CFG_HOST" envDefault:"localhost"`
	Port int    `env:"TEST_CFG_PORT" envDefault:"8080"`
}

type requiredConfig struct {
	Token string `env:"TEST_CFG_REQUIRED_TOKEN,required"`
}

func TestLoad_Defaults(t *testing.T) {
	var cfg serverConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoad_FromEnvironment(t *testing.T) {
	type envConfig struct {
		Host string `env:"TEST_CFG_ENV_HOST" envDefault:"localhost"`
	}
	t.Setenv("TEST_CFG_ENV_HOST", "example.com")

	var cfg envConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "example.com", cfg.Host)
}

func TestLoad_CachesPerType(t *testing.T) {
	type cachedConfig struct {
		Host string `env:"TEST_CFG_CACHED_HOST" envDefault:"first"`
	}

	var first cachedConfig
	require.NoError(t, config.Load(&first))

	// A later environment change must not leak into the cached type.
	t.Setenv("TEST_CFG_CACHED_HOST", "second")
	var second cachedConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, first.Host, second.Host)
}

func TestLoad_NilPointer(t *testing.T) {
	var cfg *serverConfig
	assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
}

func TestLoad_MissingRequired(t *testing.T) {
	var cfg requiredConfig
	err := config.Load(&cfg)
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}
