package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfiles(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.json")
	doc := `[
  {"user_id": "alice", "attributes": {"motivation_score": 0.9}},
  {"user_id": "bob",   "attributes": {"motivation_score": 0.9}},
  {"user_id": "carol", "attributes": {"motivation_score": 0.1, "animal_rights_score": 0.2}}
]`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func run(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err != nil {
		return nil, err
	}
	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	return got, nil
}

func TestLoadProfiles(t *testing.T) {
	users, err := loadProfiles(writeProfiles(t))
	require.NoError(t, err)
	assert.NotNil(t, users)

	_, err = loadProfiles(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	_, err = loadProfiles(bad)
	assert.Error(t, err)
}

func TestScoreCommand(t *testing.T) {
	path := writeProfiles(t)

	got, err := run(t, "--profiles", path, "score", "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got["score"])

	got, err = run(t, "--profiles", path, "score", "bob", "carol")
	require.NoError(t, err)
	score, ok := got["score"].(float64)
	require.True(t, ok)
	assert.Less(t, score, 1.0)
	assert.GreaterOrEqual(t, score, 0.0)
}

func TestHealthCommand(t *testing.T) {
	got, err := run(t, "--profiles", writeProfiles(t), "health")
	require.NoError(t, err)
	health, ok := got["health"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, health["initialized"])
	assert.Equal(t, "hybrid", health["model"])
}

func TestBadConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "match.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scoring: {model: gbdt}\n"), 0o600))
	_, err := run(t, "--config", path, "health")
	assert.Error(t, err)
	configPath = ""
}
