package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/nedaZarei/PagesDeployService/pkg/apperrors"
)

const (
	RegistryMemory   = "memory"
	RegistryPostgres = "postgres"
)

type Config struct {
	Server     Server     `mapstructure:"server"`
	GitHub     GitHub     `mapstructure:"github"`
	Generator  Generator  `mapstructure:"generator"`
	Evaluation Evaluation `mapstructure:"evaluation"`
	Registry   Registry   `mapstructure:"registry"`
	Postgres   Postgres   `mapstructure:"postgres"`
	RabbitMQ   RabbitMQ   `mapstructure:"rabbitmq"`
	Minio      Minio      `mapstructure:"minio"`
	Email      Email      `mapstructure:"email"`
	Log        Log        `mapstructure:"log"`
}

type Server struct {
	Port            string        `mapstructure:"port"`
	Secret          string        `mapstructure:"secret"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GitHub struct {
	Token       string        `mapstructure:"token"`
	Username    string        `mapstructure:"username"`
	Branch      string        `mapstructure:"branch"`
	APIURL      string        `mapstructure:"api_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

type Generator struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Evaluation struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type Registry struct {
	Driver string `mapstructure:"driver"`
}

type Postgres struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	Database   string `mapstructure:"database"`
	SSLMode    string `mapstructure:"sslmode"`
	AutoCreate bool   `mapstructure:"autocreate"`
}

// DSN returns the lib/pq connection string.
func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.Username, p.Password, p.Database, p.SSLMode)
}

type RabbitMQ struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Queue    string `mapstructure:"queue"`
}

type Minio struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

type Email struct {
	Enabled   bool   `mapstructure:"enabled"`
	APIKey    string `mapstructure:"api_key"`
	FromName  string `mapstructure:"from_name"`
	FromEmail string `mapstructure:"from_email"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	File   string `mapstructure:"file"`
}

// Secrets returns the credentials in use, for log redaction. Backends that
// are switched off contribute nothing.
func (c *Config) Secrets() []string {
	secrets := []string{c.Server.Secret, c.GitHub.Token, c.Generator.APIKey}
	// disabled backends keep their defaults ("guest"), which must not be scrubbed
	if c.Registry.Driver == RegistryPostgres {
		secrets = append(secrets, c.Postgres.Password)
	}
	if c.RabbitMQ.Enabled {
		secrets = append(secrets, c.RabbitMQ.Password)
	}
	if c.Minio.Enabled {
		secrets = append(secrets, c.Minio.SecretKey)
	}
	if c.Email.Enabled {
		secrets = append(secrets, c.Email.APIKey)
	}
	return secrets
}

// envAliases maps config keys to the plain environment variables the service
// has always read, checked before the PAGESDEPLOY_ prefixed form.
var envAliases = map[string]string{
	"github.token":      "GITHUB_TOKEN",
	"github.username":   "GITHUB_USERNAME",
	"generator.api_key": "AIPIPE_API_KEY",
	"server.secret":     "SECRET",
	"email.api_key":     "MAILERSEND_API_KEY",
}

// InitConfig loads envFile (when it exists), then filename (when set), then
// environment overrides, and validates the result.
func InitConfig(filename, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PAGESDEPLOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, env, "PAGESDEPLOY_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); err != nil {
			return nil, err
		}
	}

	if filename != "" {
		v.SetConfigFile(filename)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", filename, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, apperrors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.secret", "")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("github.token", "")
	v.SetDefault("github.username", "")
	v.SetDefault("github.branch", "main")
	v.SetDefault("github.api_url", "")
	v.SetDefault("github.timeout", "30s")
	v.SetDefault("github.max_attempts", 3)
	v.SetDefault("github.retry_delay", "500ms")

	v.SetDefault("generator.url", "https://aipipe.org/openrouter/v1/responses")
	v.SetDefault("generator.api_key", "")
	v.SetDefault("generator.model", "openai/gpt-4o-mini")
	v.SetDefault("generator.timeout", "60s")

	v.SetDefault("evaluation.max_attempts", 5)
	v.SetDefault("evaluation.base_delay", "1s")
	v.SetDefault("evaluation.timeout", "10s")

	v.SetDefault("registry.driver", RegistryMemory)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.username", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "pagesdeploy")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.autocreate", true)

	v.SetDefault("rabbitmq.enabled", false)
	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.username", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.queue", "deployment_events")

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", "pages-archive")
	v.SetDefault("minio.secure", true)

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.api_key", "")
	v.SetDefault("email.from_name", "Pages Deploy")
	v.SetDefault("email.from_email", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.file", "")
}
