package config

import (
	"github.com/nedaZarei/PagesDeployService/pkg/apperrors"
)

// Validate returns the first missing or out-of-range setting.
// The generator API key is deliberately optional: generation fails per
// request without it, the rest of the service still runs.
func Validate(cfg *Config) error {
	switch {
	case cfg.GitHub.Token == "":
		return apperrors.Wrap(apperrors.ErrConfigMissing, "GITHUB_TOKEN")
	case cfg.GitHub.Username == "":
		return apperrors.Wrap(apperrors.ErrConfigMissing, "GITHUB_USERNAME")
	case cfg.Server.Secret == "":
		return apperrors.Wrap(apperrors.ErrConfigMissing, "SECRET")
	case cfg.Server.Port == "":
		return apperrors.Wrap(apperrors.ErrConfigMissing, "server.port")
	}

	if cfg.GitHub.Timeout <= 0 || cfg.GitHub.MaxAttempts < 1 {
		return apperrors.Wrapf(apperrors.ErrConfigInvalid,
			"github.timeout must be positive and github.max_attempts at least 1, got %s and %d",
			cfg.GitHub.Timeout, cfg.GitHub.MaxAttempts)
	}
	if cfg.Generator.URL == "" || cfg.Generator.Model == "" {
		return apperrors.Wrap(apperrors.ErrConfigMissing, "generator.url and generator.model")
	}
	if cfg.Evaluation.MaxAttempts < 1 {
		return apperrors.Wrapf(apperrors.ErrConfigInvalid, "evaluation.max_attempts must be at least 1, got %d", cfg.Evaluation.MaxAttempts)
	}
	if cfg.Evaluation.BaseDelay <= 0 || cfg.Evaluation.Timeout <= 0 {
		return apperrors.Wrapf(apperrors.ErrConfigInvalid,
			"evaluation.base_delay and evaluation.timeout must be positive, got %s and %s",
			cfg.Evaluation.BaseDelay, cfg.Evaluation.Timeout)
	}

	switch cfg.Registry.Driver {
	case RegistryMemory:
	case RegistryPostgres:
		if cfg.Postgres.Host == "" || cfg.Postgres.Database == "" {
			return apperrors.Wrap(apperrors.ErrConfigMissing, "postgres.host and postgres.database")
		}
	default:
		return apperrors.Wrapf(apperrors.ErrConfigInvalid, "registry.driver must be %q or %q, got %q",
			RegistryMemory, RegistryPostgres, cfg.Registry.Driver)
	}

	if cfg.Minio.Enabled && (cfg.Minio.Endpoint == "" || cfg.Minio.Bucket == "") {
		return apperrors.Wrap(apperrors.ErrConfigMissing, "minio.endpoint and minio.bucket")
	}
	if cfg.RabbitMQ.Enabled && cfg.RabbitMQ.Host == "" {
		return apperrors.Wrap(apperrors.ErrConfigMissing, "rabbitmq.host")
	}
	if cfg.Email.Enabled && (cfg.Email.APIKey == "" || cfg.Email.FromEmail == "") {
		return apperrors.Wrap(apperrors.ErrConfigMissing, "email.api_key and email.from_email")
	}
	return nil
}
