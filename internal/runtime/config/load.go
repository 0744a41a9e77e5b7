package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	errspkg "github.com/drblury/gnssflow/internal/runtime/errors"
)

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load builds the settings object from defaults, the optional YAML file at
// path and the process environment, in that order of precedence.
func Load(path string) (*Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an injectable environment.
func LoadWith(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if lookup != nil {
		if err := applyEnv(&cfg, lookup); err != nil {
			return nil, err
		}
	}

	if err := errspkg.NewConfigValidationError(cfg.Validate()); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	env := envReader{lookup: lookup}

	env.str("RABBITMQ_URL", &cfg.RabbitMQURL)
	env.str("RABBITMQ_HOST", &cfg.RabbitMQHost)
	env.integer("RABBITMQ_PORT", &cfg.RabbitMQPort)
	env.str("RABBITMQ_USER", &cfg.RabbitMQUser)
	env.str("RABBITMQ_PASS", &cfg.RabbitMQPassword)
	env.str("RABBITMQ_VHOST", &cfg.RabbitMQVHost)
	env.list("RABBITMQ_QUEUE", &cfg.Queues)
	env.str("RABBITMQ_POISON_QUEUE", &cfg.PoisonQueue)

	env.str("STORE_DRIVER", &cfg.StoreDriver)
	env.str("POSTGRES_URL", &cfg.PostgresURL)
	env.str("POSTGRES_HOST", &cfg.PostgresHost)
	env.integer("POSTGRES_PORT", &cfg.PostgresPort)
	env.str("POSTGRES_DB", &cfg.PostgresDB)
	env.str("POSTGRES_USER", &cfg.PostgresUser)
	env.str("POSTGRES_PASSWORD", &cfg.PostgresPassword)
	env.str("POSTGRES_SSLMODE", &cfg.PostgresSSLMode)
	env.integer("STORE_POOL_MIN", &cfg.PoolMinConns)
	env.integer("STORE_POOL_MAX", &cfg.PoolMaxConns)

	env.str("LOG_LEVEL", &cfg.LogLevel)
	env.str("LOG_FORMAT", &cfg.LogFormat)

	if env.integer("METRICS_PORT", &cfg.MetricsPort) && cfg.MetricsPort > 0 {
		cfg.MetricsEnabled = true
	}
	if env.integer("STATUS_PORT", &cfg.StatusPort) && cfg.StatusPort > 0 {
		cfg.StatusEnabled = true
	}
	env.list("STATUS_CORS_ALLOWED_ORIGINS", &cfg.StatusCORSAllowedOrigins)

	return env.err()
}

type envReader struct {
	lookup LookupFunc
	errs   []string
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) bool {
	v, ok := e.get(key)
	if ok {
		*dst = v
	}
	return ok
}

func (e *envReader) integer(key string, dst *int) bool {
	v, ok := e.get(key)
	if !ok {
		return false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s=%q is not an integer", key, v))
		return false
	}
	*dst = n
	return true
}

func (e *envReader) list(key string, dst *[]string) bool {
	v, ok := e.get(key)
	if !ok {
		return false
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
	return true
}

func (e *envReader) err() error {
	if len(e.errs) == 0 {
		return nil
	}
	return fmt.Errorf("environment: %s", strings.Join(e.errs, "; "))
}
