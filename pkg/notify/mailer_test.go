package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedaZarei/PagesDeployService/pkg/models"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type captured struct {
	auth string
	body map[string]any
}

func newTestMailer(t *testing.T, status int) (*Mailer, *[]captured) {
	t.Helper()
	var requests []captured
	m := New(Config{APIKey: "mlsn.test", FromName: "Deployer", FromEmail: "deploy@example.com"}, zerolog.Nop())
	m.ms.SetClient(&http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		requests = append(requests, captured{auth: r.Header.Get("Authorization"), body: body})
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(bytes.NewReader([]byte(`{}`))),
			Request:    r,
		}, nil
	})})
	return m, &requests
}

func deployed() models.DeploymentResult {
	sha := "deadbeef"
	return models.DeploymentResult{
		Email:     "student@example.com",
		Task:      "Todo App",
		Round:     1,
		Nonce:     "abc123",
		RepoURL:   "https://github.com/me/todo-app_abc123",
		CommitSHA: &sha,
		PagesURL:  "https://me.github.io/todo-app_abc123/",
	}
}

func TestNotifyDeployed(t *testing.T) {
	m, requests := newTestMailer(t, http.StatusAccepted)

	require.NoError(t, m.NotifyDeployed(context.Background(), deployed()))
	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "Bearer mlsn.test", req.auth)
	assert.Equal(t, "Round 1 of Todo App deployed", req.body["subject"])
	assert.Contains(t, req.body["text"], "https://me.github.io/todo-app_abc123/")
	assert.Contains(t, req.body["html"], "Commit: deadbeef")

	to, ok := req.body["to"].([]any)
	require.True(t, ok)
	require.Len(t, to, 1)
	assert.Equal(t, "student@example.com", to[0].(map[string]any)["email"])
}

func TestNotifyDeployedWithoutRecipient(t *testing.T) {
	m, requests := newTestMailer(t, http.StatusAccepted)
	result := deployed()
	result.Email = ""

	require.NoError(t, m.NotifyDeployed(context.Background(), result))
	assert.Empty(t, *requests)
}

func TestNotifyDeployedRejected(t *testing.T) {
	m, _ := newTestMailer(t, http.StatusUnprocessableEntity)
	err := m.NotifyDeployed(context.Background(), deployed())
	assert.ErrorContains(t, err, "student@example.com")
}

func TestRenderWithoutCommit(t *testing.T) {
	result := deployed()
	result.CommitSHA = nil
	result.Task = "<script>"

	_, text, html, err := render(result)
	require.NoError(t, err)
	assert.NotContains(t, text, "Commit:")
	assert.NotContains(t, html, "Commit:")
	assert.NotContains(t, html, "<script>")
}
