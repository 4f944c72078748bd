package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nedaZarei/PagesDeployService/pkg/apperrors"
	"github.com/nedaZarei/PagesDeployService/pkg/models"
)

const maxBodyBytes = 10 << 20

// requestError is a rejected request: the status and detail returned to the
// caller, and the sentinel it classifies as.
type requestError struct {
	status int
	detail string
	kind   error
}

func (e *requestError) Error() string { return e.detail }
func (e *requestError) Unwrap() error { return e.kind }

func reject(status int, kind error, detail string) *requestError {
	return &requestError{status: status, detail: detail, kind: kind}
}

// HandleTask validates a task request and runs its round. Validation happens
// in a fixed order (body, secret, required keys, round) and always before any
// outbound call.
func (s *Service) HandleTask(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "Invalid JSON format."})
	}

	req, err := decodeTaskRequest(body, s.cfg.Server.Secret)
	if err != nil {
		return s.rejected(c, err)
	}

	log := s.log.With().Str("nonce", req.Nonce).Int("round", req.Round).Logger()
	log.Info().Str("task", req.Task).Msg("task accepted")

	// a round runs to completion even if the caller goes away
	out, err := s.deployer.Run(context.WithoutCancel(c.Request().Context()), req)
	if err != nil {
		if apperrors.IsValidation(err) {
			return s.rejected(c, err)
		}
		log.Error().Err(err).Msg("deployment failed")
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Detail: "Deployment Error: " + err.Error()})
	}

	return c.JSON(http.StatusOK, models.TaskResponse{
		Message:  fmt.Sprintf("Round %d completed successfully", out.Round),
		RepoName: out.ProjectName,
		Status:   "success",
	})
}

// GetTaskStatus reports the project registered for a nonce.
func (s *Service) GetTaskStatus(c echo.Context) error {
	nonce := c.Param("nonce")
	name, ok, err := s.registry.Lookup(c.Request().Context(), nonce)
	if err != nil {
		s.log.Error().Err(err).Str("nonce", nonce).Msg("registry lookup failed")
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Detail: "Registry Error: " + err.Error()})
	}
	if !ok {
		return c.JSON(http.StatusNotFound, models.ErrorResponse{Detail: "Task not found."})
	}
	return c.JSON(http.StatusOK, models.TaskStatusResponse{Nonce: nonce, RepoName: name})
}

func (s *Service) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) rejected(c echo.Context, err error) error {
	var re *requestError
	if !errors.As(err, &re) {
		re = reject(http.StatusBadRequest, err, err.Error())
	}
	s.log.Warn().Err(re.kind).Int("status", re.status).Msg(re.detail)
	return c.JSON(re.status, models.ErrorResponse{Detail: re.detail})
}

func decodeTaskRequest(body []byte, secret string) (*models.TaskRequest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return nil, reject(http.StatusBadRequest, apperrors.ErrInvalidJSON, "Invalid JSON format.")
	}

	if !secretMatches(raw["secret"], secret) {
		return nil, reject(http.StatusUnauthorized, apperrors.ErrInvalidSecret, "Invalid secret.")
	}

	var missing []string
	for _, key := range models.RequiredKeys {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, reject(http.StatusBadRequest, apperrors.ErrMissingFields,
			fmt.Sprintf("Missing required data keys: %s.", strings.Join(missing, ", ")))
	}

	round, ok := parseRound(raw["round"])
	if !ok {
		return nil, reject(http.StatusBadRequest, apperrors.ErrInvalidRound, "Invalid round number. Must be 1 or 2.")
	}
	// 1.0 is a valid round but does not decode into an int
	raw["round"] = json.RawMessage(strconv.Itoa(round))
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, reject(http.StatusBadRequest, apperrors.ErrInvalidJSON, "Invalid JSON format.")
	}

	req := &models.TaskRequest{}
	if err := json.Unmarshal(normalized, req); err != nil {
		detail := "Invalid JSON format."
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			detail = fmt.Sprintf("Invalid value for %s.", typeErr.Field)
		}
		return nil, reject(http.StatusBadRequest, apperrors.ErrInvalidJSON, detail)
	}
	return req, nil
}

// parseRound accepts any JSON number equal to 1 or 2.
func parseRound(raw json.RawMessage) (int, bool) {
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil || n != math.Trunc(n) {
		return 0, false
	}
	if n != 1 && n != 2 {
		return 0, false
	}
	return int(n), true
}

func secretMatches(raw json.RawMessage, secret string) bool {
	if raw == nil || secret == "" {
		return false
	}
	var got string
	if err := json.Unmarshal(raw, &got); err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}
