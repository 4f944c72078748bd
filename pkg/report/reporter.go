// Package report delivers deployment results to the caller's evaluation URL.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nedaZarei/PagesDeployService/pkg/models"
	"github.com/nedaZarei/PagesDeployService/pkg/retry"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
	DefaultTimeout     = 10 * time.Second
)

// Delivery summarizes one Report call.
type Delivery struct {
	Attempts  int
	Delivered bool
}

// Reporter posts results with bounded exponential-backoff retry. Delivery is
// best-effort: failures are logged, never returned.
type Reporter struct {
	client *http.Client
	policy retry.Policy
	log    zerolog.Logger
}

// NewReporter builds a Reporter. timeout bounds each POST; policy governs attempts and waits.
func NewReporter(timeout time.Duration, policy retry.Policy, logger zerolog.Logger) *Reporter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultBaseDelay
	}
	return &Reporter{
		client: &http.Client{Timeout: timeout},
		policy: policy,
		log:    logger.With().Str("component", "reporter").Logger(),
	}
}

// Report posts result to url as JSON, stopping at the first 2xx response.
// Non-success statuses and transport failures are retried identically.
// Cancelling ctx does not shorten the attempt schedule.
func (r *Reporter) Report(ctx context.Context, url string, result models.DeploymentResult) Delivery {
	ctx = context.WithoutCancel(ctx)
	log := r.log.With().Str("nonce", result.Nonce).Int("round", result.Round).Logger()
	if url == "" {
		log.Error().Msg("evaluation_url is missing, cannot post results")
		return Delivery{}
	}

	body, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal deployment result")
		return Delivery{}
	}

	policy := r.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("evaluation post failed, retrying")
	}

	var delivery Delivery
	err = policy.Do(ctx, func(ctx context.Context, attempt int) error {
		delivery.Attempts = attempt
		log.Info().Str("url", url).Int("attempt", attempt).Int("max_attempts", policy.MaxAttempts).Msg("posting evaluation")
		return r.post(ctx, url, body)
	})
	if err != nil {
		log.Error().Err(err).Int("attempts", delivery.Attempts).Msg("all evaluation post attempts failed")
		return delivery
	}

	delivery.Delivered = true
	log.Info().Int("attempts", delivery.Attempts).Msg("successfully posted evaluation")
	return delivery
}

func (r *Reporter) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create evaluation request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("evaluation post failed due to network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("evaluation post failed with status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
