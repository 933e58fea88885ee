package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metapub.io/metapub/internal/config"
	"metapub.io/metapub/internal/presence"
	"metapub.io/metapub/internal/render"
	"metapub.io/metapub/internal/testutil"

	apperrors "metapub.io/metapub/internal/pkg/errors"
)

var envVars = []string{
	"WIKI_BASE_URL", "CONF_URL", "WIKI_USER", "CONF_USER", "WIKI_PASSWORD", "CONF_PASS",
	"WIKI_PAGE_ID", "CONF_PAGE_ID", "PRESENCE_DEV_BASE_URL", "WIDGET_STORE_DEV_BASE",
	"PRESENCE_IFT_BASE_URL", "WIDGET_STORE_IFT_BASE", "STORYBOOK_URL_TEMPLATE",
	"LOG_LEVEL", "LOG_FORMAT", "RUNNER_TIMEOUT", "PRESENCE_ENABLED",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, n := range envVars {
		t.Setenv(n, "")
	}
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err = run(context.Background(), append(args, "--log-level", "error"), &out, &errOut)
	return out.String(), errOut.String(), err
}

// artifactDir writes a two-record artifact and returns its directory.
func artifactDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data := `{"widgets": [{"widget": "my_widget", "xVersion": "7", "agents": ["web"]}, {"name": "other", "version": 3}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "widgets.json"), []byte(data), 0o644))
	return dir
}

func TestConfigCommand_MasksPassword(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONF_URL", "https://wiki.test")
	t.Setenv("CONF_PASS", "hunter2")

	out, _, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "base_url: https://wiki.test")
	assert.Contains(t, out, config.MaskedSecret)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "timeout: 5m0s")
}

func TestPublish_DryRunPrintsBody(t *testing.T) {
	clearEnv(t)
	dir := artifactDir(t)

	out, _, err := execute(t, "publish", "--skip-build", "--no-presence", "--dry-run", "--outdir", dir)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, `<table class="wrapped">`), out)
	assert.Contains(t, out, "<td>my_widget</td>")
	assert.Contains(t, out, "<td>"+render.GlyphUnknown+"</td>")
}

func TestPublish_UpdatesPage(t *testing.T) {
	clearEnv(t)
	w := testutil.NewFakeWiki(t)
	w.RequireBasicAuth("bot", "s3cret")
	w.AddPage(testutil.FakePage{ID: "900", Title: "Widgets", Version: 4, Ancestors: []string{"10"}})

	idx := presence.NewIndex()
	idx.Add("my-widget", "DEV", 7)
	idx.Add("my-widget", "IFT", 6)
	indexPath := filepath.Join(t.TempDir(), "published-widgets.json")
	require.NoError(t, idx.WriteFile(indexPath))

	t.Setenv("CONF_URL", w.URL())
	t.Setenv("CONF_USER", "bot")
	t.Setenv("CONF_PASS", "s3cret")
	t.Setenv("CONF_PAGE_ID", "900")

	_, stderr, err := execute(t, "publish", "--skip-build", "--outdir", artifactDir(t), "--presence-json", indexPath)
	require.NoError(t, err)
	assert.Contains(t, stderr, "page 900 updated to version 5")

	page, ok := w.Page("900")
	require.True(t, ok)
	assert.Equal(t, 5, page.Version)
	assert.Equal(t, []string{"10"}, page.Ancestors)
	assert.Contains(t, page.Body, "<td>"+render.GlyphPresent+"</td>")
	assert.Contains(t, page.Body, "<td>"+render.GlyphAbsent+"</td>")
}

func TestPublish_UnreadableIndexLeavesPresenceUnknown(t *testing.T) {
	broken := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte("{not json"), 0o644))

	tests := []struct {
		name string
		path string
	}{
		{name: "missing file", path: filepath.Join(t.TempDir(), "missing.json")},
		{name: "malformed file", path: broken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			out, _, err := execute(t, "publish", "--skip-build", "--dry-run", "--outdir", artifactDir(t), "--presence-json", tt.path)
			require.NoError(t, err)
			assert.Contains(t, out, "<td>my_widget</td>")
			assert.Contains(t, out, "<td>"+render.GlyphUnknown+"</td>")
			assert.NotContains(t, out, render.GlyphAbsent)
			assert.NotContains(t, out, render.GlyphPresent)
		})
	}
}

func TestPublish_InlineScanFillsVersionColumns(t *testing.T) {
	clearEnv(t)
	cdn := testutil.NewFakeCDN(t)
	for _, v := range []string{"5", "6"} {
		cdn.ServeManifest("/"+v+"/mf-stats.json", "my-widget")
		cdn.Serve("/"+v+"/container.js", http.StatusOK, "")
	}
	indexPath := filepath.Join(t.TempDir(), "published-widgets.json")

	out, _, err := execute(t, "publish", "--skip-build", "--dry-run", "--outdir", artifactDir(t),
		"--schema", "versions", "--from", "5", "--to", "6", "--dev-base", cdn.URL(), "--out", indexPath)
	require.NoError(t, err)
	assert.Contains(t, out, `<th scope="col">DEV versions</th>`)
	assert.Contains(t, out, "<td>5, 6</td>")

	idx, err := presence.LoadIndex(indexPath)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6}, idx.Versions("my_widget", "DEV"))
}

func TestPublish_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
		want int
	}{
		{
			name: "missing page id",
			args: []string{"publish", "--skip-build"},
			env:  map[string]string{"CONF_URL": "https://wiki.test"},
			want: apperrors.ExitInvalidArgument,
		},
		{
			name: "bad flag value",
			args: []string{"publish", "--timeout", "soon"},
			want: apperrors.ExitInvalidArgument,
		},
		{
			name: "bad schema",
			args: []string{"publish", "--dry-run", "--schema", "fancy"},
			want: apperrors.ExitInvalidArgument,
		},
		{
			name: "artifact never appears",
			args: []string{"publish", "--dry-run", "--skip-build", "--no-presence", "--wait", "1"},
			want: apperrors.ExitFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			args := append(tt.args, "--outdir", filepath.Join(t.TempDir(), "empty"))
			_, _, err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, tt.want, apperrors.ExitCode(err), "error: %v", err)
		})
	}
}

func TestScan_WritesIndex(t *testing.T) {
	clearEnv(t)
	cdn := testutil.NewFakeCDN(t)
	cdn.ServeManifest("/5/mf-stats.json", "my-widget")
	cdn.Serve("/5/container.js", http.StatusOK, "")

	outPath := filepath.Join(t.TempDir(), "published-widgets.json")
	out, stderr, err := execute(t, "scan", "5", "--dev-base", cdn.URL(), "--out", outPath, "--json", "--concurrency", "2")
	require.NoError(t, err)
	assert.Contains(t, out, `"widget": "my-widget"`)
	assert.Contains(t, stderr, "1 widgets across 1 versions")

	idx, err := presence.LoadIndex(outPath)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, idx.Versions("my-widget", "DEV"))
}

func TestScan_RequiresVersions(t *testing.T) {
	clearEnv(t)
	_, _, err := execute(t, "scan", "--out", filepath.Join(t.TempDir(), "x.json"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ExitInvalidArgument, apperrors.ExitCode(err))
}

func TestEnsurePassword(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		terminal bool
		want     string
		prompted bool
	}{
		{name: "prompts on a terminal", user: "bot", terminal: true, want: "typed", prompted: true},
		{name: "keeps configured password", user: "bot", password: "set", terminal: true, want: "set"},
		{name: "no terminal", user: "bot", terminal: false, want: ""},
		{name: "token without user", terminal: true, want: "typed", prompted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompted := false
			a := &app{
				cfg:        &config.Config{Wiki: config.WikiConfig{User: tt.user, Password: tt.password}},
				isTerminal: func() bool { return tt.terminal },
				readPassword: func() ([]byte, error) {
					prompted = true
					return []byte("typed\n"), nil
				},
			}
			cmd := &cobra.Command{}
			var errOut bytes.Buffer
			cmd.SetErr(&errOut)

			require.NoError(t, a.ensurePassword(cmd))
			assert.Equal(t, tt.want, a.cfg.Wiki.Password)
			assert.Equal(t, tt.prompted, prompted)
			if tt.prompted && tt.user != "" {
				assert.Contains(t, errOut.String(), "Wiki password for bot")
			}
		})
	}
}

func TestProbeConfig_InsecureFlag(t *testing.T) {
	cfg := &config.Config{Presence: config.PresenceConfig{IFT: config.EnvironmentConfig{Insecure: true}}}

	cmd := &cobra.Command{}
	cmd.Flags().Bool("insecure", false, "")
	pcfg := probeConfig(cmd, cfg)
	assert.False(t, pcfg.Environments[0].Insecure)
	assert.True(t, pcfg.Environments[1].Insecure)

	require.NoError(t, cmd.Flags().Set("insecure", "true"))
	pcfg = probeConfig(cmd, cfg)
	assert.True(t, pcfg.Environments[0].Insecure)
	assert.True(t, pcfg.Environments[1].Insecure)
}
