package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

// tempConfig writes a config pointing at a fresh database.
func tempConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pulse.yaml")
	body := "database:\n  path: " + filepath.Join(dir, "pulse.db") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReplayFixtureMeetsExpectations(t *testing.T) {
	out, err := run(t, "replay", "--fixture", filepath.Join("..", "..", "internal", "replay", "testdata", "audit_runs.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "run-keyword")
	assert.Contains(t, out, "Veto violations: 1")
	assert.NotContains(t, out, "MISMATCH")
}

func TestReplayMissingFixtureExitsTwo(t *testing.T) {
	_, err := run(t, "replay", "--fixture", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestTracesListEmptyStore(t *testing.T) {
	cfg := tempConfig(t)
	out, err := run(t, "--config", cfg, "traces", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no traces found")
}

func TestProfileSetAndShow(t *testing.T) {
	cfg := tempConfig(t)
	profile := filepath.Join(t.TempDir(), "ada.yaml")
	require.NoError(t, os.WriteFile(profile, []byte(`
user_id: ada
timezone: Europe/London
allow_auto_comms: true
goals: [ship the release]
confirm_domains: [finance]
constraints:
  - never email before 9am
`), 0o600))

	out, err := run(t, "--config", cfg, "profile", "set", profile)
	require.NoError(t, err)
	assert.Contains(t, out, "constraint 1: never email before 9am")

	out, err = run(t, "--config", cfg, "profile", "show", "ada")
	require.NoError(t, err)
	assert.Contains(t, out, "timezone: Europe/London")
	assert.Contains(t, out, "allow_auto_comms: true")
	assert.Contains(t, out, "never email before 9am")

	_, err = run(t, "--config", cfg, "profile", "drop-constraint", "1")
	require.NoError(t, err)
	out, err = run(t, "--config", cfg, "profile", "show", "ada")
	require.NoError(t, err)
	assert.False(t, strings.Contains(out, "never email before 9am"), "dropped constraint still listed:\n%s", out)
}

func TestResolveRequiresOneVerdict(t *testing.T) {
	cfg := tempConfig(t)
	_, err := run(t, "--config", cfg, "resolve", "d1")
	require.ErrorContains(t, err, "exactly one of --approve or --reject")

	_, err = run(t, "--config", cfg, "resolve", "d1", "--approve")
	require.ErrorContains(t, err, "not found")
}
