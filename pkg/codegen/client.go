// Package codegen asks a text-generation backend for a single-file web application.
package codegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nedaZarei/PagesDeployService/pkg/apperrors"
)

const (
	DefaultURL     = "https://aipipe.org/openrouter/v1/responses"
	DefaultModel   = "openai/gpt-4o-mini"
	DefaultTimeout = 60 * time.Second
)

const systemInstruction = "You are an expert software engineer and code generator. " +
	"Your only job is to generate a single, complete HTML file (index.html) based on the user's request. " +
	"Do NOT include any external explanation, markdown delimiters (```), or comments in the final output. " +
	"The output must be the raw, ready-to-use HTML code only."

type Config struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls a responses-style completion endpoint.
type Client struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logger.With().Str("component", "codegen").Logger(),
	}
}

type generateRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// generateResponse is the part of the envelope we read: output[0].content[0].text.
type generateResponse struct {
	Output []struct {
		Content []struct {
			Text *string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// BackendError is returned when the backend answers with a non-success status.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s", apperrors.ErrBackendStatus, e.Message)
}

func (e *BackendError) Unwrap() error { return apperrors.ErrBackendStatus }

// Generate returns the HTML document generated for brief and attachments.
func (c *Client) Generate(ctx context.Context, brief string, attachments []json.RawMessage) (string, error) {
	if c.cfg.APIKey == "" {
		return "", apperrors.ErrMissingAPIKey
	}

	reqBody, err := json.Marshal(generateRequest{Model: c.cfg.Model, Input: BuildPrompt(brief, attachments)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create generation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	c.log.Info().Str("url", c.cfg.URL).Str("model", c.cfg.Model).Msg("calling generation backend")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send generation request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read generation response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", newBackendError(resp.StatusCode, body)
	}

	code, err := extractText(body)
	if err != nil {
		c.log.Error().RawJSON("response", compactJSON(body)).Msg("could not parse generation response")
		return "", err
	}
	return code, nil
}

// BuildPrompt combines the fixed system instruction with the user request.
func BuildPrompt(brief string, attachments []json.RawMessage) string {
	userPrompt := fmt.Sprintf("Generate a minimal, complete, and functional web application as a single index.html file "+
		"based on this brief: '%s'. Context/Attachments provided: %s. Ensure the HTML file is valid and complete.",
		brief, renderAttachments(attachments))
	return systemInstruction + "\n\nUser Request: " + userPrompt
}

func renderAttachments(attachments []json.RawMessage) string {
	if len(attachments) == 0 {
		return "[]"
	}
	out, err := json.Marshal(attachments)
	if err != nil {
		return "[]"
	}
	return string(out)
}

func newBackendError(status int, body []byte) *BackendError {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		if er.Error.Message != "" {
			return &BackendError{StatusCode: status, Message: er.Error.Message}
		}
		return &BackendError{StatusCode: status, Message: fmt.Sprintf("Unknown error (Status %d)", status)}
	}
	return &BackendError{StatusCode: status, Message: string(body)}
}

func extractText(body []byte) (string, error) {
	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrUnparseableResponse, err)
	}
	if len(gr.Output) == 0 {
		return "", fmt.Errorf("%w: response has no output", apperrors.ErrUnparseableResponse)
	}
	if len(gr.Output[0].Content) == 0 || gr.Output[0].Content[0].Text == nil {
		return "", fmt.Errorf("%w: output has no text content", apperrors.ErrUnparseableResponse)
	}
	return stripFence(strings.TrimSpace(*gr.Output[0].Content[0].Text)), nil
}

// stripFence removes a markdown code fence wrapped around the whole document.
func stripFence(code string) string {
	if !strings.HasPrefix(code, "```") || !strings.HasSuffix(code, "```") || len(code) < 6 {
		return code
	}
	inner := strings.TrimSuffix(code, "```")
	newline := strings.IndexByte(inner, '\n')
	if newline < 0 {
		return code
	}
	return strings.TrimSpace(inner[newline+1:])
}

func compactJSON(body []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		quoted, _ := json.Marshal(string(body))
		return quoted
	}
	return buf.Bytes()
}
