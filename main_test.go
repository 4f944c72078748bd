package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedaZarei/PagesDeployService/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:     config.Server{Port: "0", Secret: "s3cret", ShutdownTimeout: time.Second},
		GitHub:     config.GitHub{Token: "ghp_token", Username: "me", Branch: "main", Timeout: time.Second, MaxAttempts: 1},
		Generator:  config.Generator{URL: "http://127.0.0.1:1/responses", Model: "m", Timeout: time.Second},
		Evaluation: config.Evaluation{MaxAttempts: 1, BaseDelay: time.Millisecond, Timeout: time.Second},
		Registry:   config.Registry{Driver: config.RegistryMemory},
		Log:        config.Log{Level: "debug"},
	}
}

func TestBuildWithMemoryRegistry(t *testing.T) {
	var out bytes.Buffer
	a, err := build(context.Background(), testConfig(), &out)
	require.NoError(t, err)
	require.NotNil(t, a.service)
	require.NoError(t, a.close())

	assert.Contains(t, out.String(), "in-memory task registry")
	assert.Contains(t, out.String(), "AIPIPE_API_KEY is not set")
	assert.NotContains(t, out.String(), "ghp_token")
}

func TestBuildFailsWhenBrokerUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.RabbitMQ = config.RabbitMQ{Enabled: true, Host: "127.0.0.1", Port: 1, Username: "guest", Password: "guest"}

	_, err := build(context.Background(), cfg, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RabbitMQ")
}

func TestBuildRejectsBadLogLevel(t *testing.T) {
	cfg := testConfig()
	cfg.Log.Level = "chatty"

	_, err := build(context.Background(), cfg, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, testConfig(), &bytes.Buffer{}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServeCommandFlags(t *testing.T) {
	root := newRootCmd()
	serveCmd, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)

	assert.NotNil(t, serveCmd.Flags().Lookup("config"))
	envFlag := serveCmd.Flags().Lookup("env-file")
	require.NotNil(t, envFlag)
	assert.Equal(t, ".env", envFlag.DefValue)
}
