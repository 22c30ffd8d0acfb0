package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentroom/config"
)

const fixturesPath = "../../testdata/fixtures.yaml"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "agentroomd dev\n", out)
}

func TestSeedIntoPebble(t *testing.T) {
	data := t.TempDir()
	out, err := run(t, "--storage", "pebble", "--data", data, "--log-level", "error", "seed", fixturesPath)
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 1 agent definitions, 3 actors, 1 rooms, 3 memberships, 1 relationships (0 skipped)")

	out, err = run(t, "--storage", "pebble", "--data", data, "--log-level", "error", "seed", fixturesPath)
	require.NoError(t, err)
	assert.Contains(t, out, "(5 skipped)")
}

func TestFlagsAreValidated(t *testing.T) {
	_, err := run(t, "--storage", "mysql", "seed", fixturesPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.driver")

	_, err = run(t, "seed")
	require.Error(t, err)
}

func TestServeUntilCancelled(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Logging.Level = "error"

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, fixturesPath, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
