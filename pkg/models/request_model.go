package models

import (
	"encoding/json"
	"strings"
)

// RequiredKeys lists the request keys that must be present for a task to be accepted.
var RequiredKeys = []string{"round", "nonce", "task", "email", "evaluation_url"}

// TaskRequest is one round of work submitted to the service.
type TaskRequest struct {
	Secret        string            `json:"secret"`
	Round         int               `json:"round"`
	Nonce         string            `json:"nonce"`
	Task          string            `json:"task"`
	Email         string            `json:"email"`
	EvaluationURL string            `json:"evaluation_url"`
	Brief         string            `json:"brief"`
	Attachments   []json.RawMessage `json:"attachments"`
	Round2        []RoundUpdate     `json:"round2,omitempty"`
}

// RoundUpdate carries the revision instructions of a round-2 request.
// A nil Brief means the key was absent and the base brief is kept.
type RoundUpdate struct {
	Brief       *string           `json:"brief,omitempty"`
	Attachments []json.RawMessage `json:"attachments,omitempty"`
}

// ProjectName derives the repository name for a task: the task name with
// spaces turned into hyphens and lower-cased, joined to the nonce.
func ProjectName(task, nonce string) string {
	return strings.ToLower(strings.ReplaceAll(task, " ", "-")) + "_" + nonce
}

// ProjectName returns the repository name this request targets.
func (r *TaskRequest) ProjectName() string {
	return ProjectName(r.Task, r.Nonce)
}

// Instructions returns the brief and attachments for the request's round.
// On round 2 the first round2 entry overrides the brief when it carries one,
// and the attachments when it carries a non-empty list.
func (r *TaskRequest) Instructions() (string, []json.RawMessage) {
	brief, attachments := r.Brief, r.Attachments
	if r.Round != 2 || len(r.Round2) == 0 {
		return brief, attachments
	}
	update := r.Round2[0]
	if update.Brief != nil {
		brief = *update.Brief
	}
	if len(update.Attachments) > 0 {
		attachments = update.Attachments
	}
	return brief, attachments
}

// TaskResponse is returned to the caller once a round completes.
type TaskResponse struct {
	Message  string `json:"message"`
	RepoName string `json:"repo_name"`
	Status   string `json:"status"`
}

// ErrorResponse is the body of every rejected or failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// TaskStatusResponse reports which project a nonce is registered to.
type TaskStatusResponse struct {
	Nonce    string `json:"nonce"`
	RepoName string `json:"repo_name"`
}
