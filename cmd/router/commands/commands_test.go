package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/server"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "classifier:\n  backend: none\n" +
		"storage:\n  type: sqlite\n  sqlite:\n    path: " + filepath.Join(dir, "router.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()
	assert.Equal(t, "router", cmd.Use)

	want := []string{"serve", "classify", "refs", "events", "version"}
	for _, name := range want {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}

	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestRefsCommands(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "refs", "put", "@Cat", "https://cdn/cat.png", "--user", "alice", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, "stored @cat\n", out)

	_, err = run(t, "refs", "put", "dog", "https://cdn/dog.png", "-u", "alice", "-c", cfg)
	require.NoError(t, err)

	out, err = run(t, "refs", "list", "-u", "alice", "-c", cfg)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "@cat")
	assert.Contains(t, lines[2], "https://cdn/dog.png")

	out, err = run(t, "refs", "list", "-u", "bob", "-c", cfg)
	require.NoError(t, err)
	assert.Equal(t, "No references.\n", out)

	_, err = run(t, "refs", "delete", "cat", "-u", "alice", "-c", cfg)
	require.NoError(t, err)
	_, err = run(t, "refs", "delete", "cat", "-u", "alice", "-c", cfg)
	assert.ErrorIs(t, err, domain.ErrReferenceNotFound)

	_, err = run(t, "refs", "put", "working_image", "https://cdn/x.png", "-c", cfg)
	assert.Error(t, err, "reserved tags are rejected")
}

func TestClassifyCommand(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "classify", "-c", cfg, "--active-image", "https://cdn/work.png", "make", "the", "sky", "purple")
	require.NoError(t, err)

	var resp server.ClassifyResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, domain.WorkflowEditImage, resp.Classification.WorkflowType)
	assert.True(t, resp.Classification.UsedFallback)
	assert.Equal(t, "make the sky purple", resp.Classification.OriginalPrompt)
	require.NotNil(t, resp.Routing)
	assert.Equal(t, "flux-kontext", resp.Routing.ProviderID)

	out, err = run(t, "events", "-c", cfg, "-u", "cli")
	require.NoError(t, err)
	assert.Contains(t, out, "EDIT_IMAGE")
	assert.Contains(t, out, "fallback")
}

func TestClassifyCommand_MissingAsset(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "classify", "-c", cfg, "turn @ghost into a video")
	var missing *domain.MissingRequiredAssetError
	require.ErrorAs(t, err, &missing)
	assert.Contains(t, out, `"workflow_type": "EDIT_IMAGE_REF_TO_VIDEO"`)
}

func TestClassifyCommand_RequiresPrompt(t *testing.T) {
	_, err := run(t, "classify")
	assert.Error(t, err)
}

func TestEventsCommand_InvalidLimit(t *testing.T) {
	_, err := run(t, "events", "--limit", "0", "-c", writeConfig(t))
	assert.ErrorContains(t, err, "limit must be positive")
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3", "abc")
	t.Cleanup(func() { SetVersion("dev", "none") })

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "router 1.2.3 (commit abc)\n", out)
}
