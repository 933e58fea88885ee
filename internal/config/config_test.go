package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	apperrors "metapub.io/metapub/internal/pkg/errors"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, names := range envAliases {
		for _, n := range names {
			t.Setenv(n, "")
		}
	}
	for _, n := range []string{"RUNNER_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT", "SCAN_CONCURRENCY", "RENDER_SCHEMA"} {
		t.Setenv(n, "")
	}
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("page-id", "", "")
	fs.String("schema", "", "")
	fs.Int("timeout", 0, "")
	fs.Int("wait", 0, "")
	fs.Bool("no-presence", false, "")
	fs.Bool("runner-required", false, "")
	fs.Int("concurrency", 0, "")
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Runner.Timeout != 300*time.Second {
		t.Errorf("Runner.Timeout = %v, want 300s", cfg.Runner.Timeout)
	}
	if cfg.Runner.Required {
		t.Error("Runner.Required = true, want false")
	}
	if cfg.Runner.ModuleFormat != "auto" {
		t.Errorf("Runner.ModuleFormat = %q, want auto", cfg.Runner.ModuleFormat)
	}
	if cfg.Artifact.Path() != filepath.Join("out", "widgets.json") {
		t.Errorf("Artifact.Path() = %q", cfg.Artifact.Path())
	}
	if cfg.Artifact.Wait != 60*time.Second {
		t.Errorf("Artifact.Wait = %v, want 60s", cfg.Artifact.Wait)
	}
	if !cfg.Presence.Enabled || !cfg.Presence.RequireExposed {
		t.Errorf("Presence = %+v, want enabled and require_exposed", cfg.Presence)
	}
	if cfg.Presence.ManifestFile != "mf-stats.json" || cfg.Presence.EntryFile != "container.js" {
		t.Errorf("presence files = %q, %q", cfg.Presence.ManifestFile, cfg.Presence.EntryFile)
	}
	if cfg.Scan.Concurrency != 4 {
		t.Errorf("Scan.Concurrency = %d, want 4", cfg.Scan.Concurrency)
	}
	if cfg.Render.Schema != "presence" {
		t.Errorf("Render.Schema = %q, want presence", cfg.Render.Schema)
	}
	if cfg.Wiki.BaseURL != "" || cfg.Wiki.Password != "" {
		t.Error("wiki endpoint and secret must have no built-in value")
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want info/json", cfg.Log)
	}
}

func TestLoad_EnvAliases(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONF_URL", "https://wiki.test")
	t.Setenv("CONF_USER", "bot")
	t.Setenv("CONF_PASS", "s3cret")
	t.Setenv("CONF_PAGE_ID", "12345")
	t.Setenv("WIDGET_STORE_DEV_BASE", "https://dev.test/store")
	t.Setenv("WIDGET_STORE_IFT_BASE", "https://ift.test/store")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name, got, want string
	}{
		{"wiki.base_url", cfg.Wiki.BaseURL, "https://wiki.test"},
		{"wiki.user", cfg.Wiki.User, "bot"},
		{"wiki.password", cfg.Wiki.Password, "s3cret"},
		{"wiki.page_id", cfg.Wiki.PageID, "12345"},
		{"presence.dev.base_url", cfg.Presence.Dev.BaseURL, "https://dev.test/store"},
		{"presence.ift.base_url", cfg.Presence.IFT.BaseURL, "https://ift.test/store"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_PrimaryEnvWinsOverAlias(t *testing.T) {
	clearEnv(t)
	t.Setenv("WIKI_PAGE_ID", "primary")
	t.Setenv("CONF_PAGE_ID", "alias")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Wiki.PageID != "primary" {
		t.Errorf("Wiki.PageID = %q, want primary", cfg.Wiki.PageID)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("WIKI_PAGE_ID", "from-env")
	t.Setenv("RUNNER_TIMEOUT", "10s")

	fs := testFlags()
	if err := fs.Parse([]string{"--page-id", "from-flag", "--timeout", "42", "--wait", "5", "--no-presence", "--runner-required", "--concurrency", "8"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Wiki.PageID != "from-flag" {
		t.Errorf("Wiki.PageID = %q, want from-flag", cfg.Wiki.PageID)
	}
	if cfg.Runner.Timeout != 42*time.Second {
		t.Errorf("Runner.Timeout = %v, want 42s", cfg.Runner.Timeout)
	}
	if cfg.Artifact.Wait != 5*time.Second {
		t.Errorf("Artifact.Wait = %v, want 5s", cfg.Artifact.Wait)
	}
	if cfg.Presence.Enabled {
		t.Error("Presence.Enabled = true, want false with --no-presence")
	}
	if !cfg.Runner.Required {
		t.Error("Runner.Required = false, want true")
	}
	if cfg.Scan.Concurrency != 8 {
		t.Errorf("Scan.Concurrency = %d, want 8", cfg.Scan.Concurrency)
	}
}

func TestLoad_UnchangedFlagsKeepEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("RUNNER_TIMEOUT", "10s")

	cfg, err := Load(testFlags())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Runner.Timeout != 10*time.Second {
		t.Errorf("Runner.Timeout = %v, want 10s", cfg.Runner.Timeout)
	}
	if cfg.Scan.Concurrency != 4 {
		t.Errorf("Scan.Concurrency = %d, want default 4", cfg.Scan.Concurrency)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "metapub.yaml")
	content := `
runner:
  script: tools/scripts/gen.ts
  args: ["--pretty"]
wiki:
  base_url: https://wiki.file.test
  page_id: "777"
  password: from-file
render:
  schema: basic
  storybook_url_template: https://sb.test/?path=/story/{compact}
presence:
  ift:
    insecure: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := testFlags()
	if err := fs.Parse([]string{"--config", path}); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Runner.Script != "tools/scripts/gen.ts" {
		t.Errorf("Runner.Script = %q", cfg.Runner.Script)
	}
	if len(cfg.Runner.Args) != 1 || cfg.Runner.Args[0] != "--pretty" {
		t.Errorf("Runner.Args = %v", cfg.Runner.Args)
	}
	if cfg.Wiki.PageID != "777" || cfg.Wiki.Password != "from-file" {
		t.Errorf("Wiki = %+v", cfg.Wiki)
	}
	if cfg.Render.Schema != "basic" {
		t.Errorf("Render.Schema = %q, want basic", cfg.Render.Schema)
	}
	if !cfg.Presence.IFT.Insecure || cfg.Presence.Dev.Insecure {
		t.Errorf("insecure flags = dev %v ift %v", cfg.Presence.Dev.Insecure, cfg.Presence.IFT.Insecure)
	}
}

func TestLoad_ExplicitConfigFileMissing(t *testing.T) {
	clearEnv(t)
	fs := testFlags()
	if err := fs.Parse([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}); err != nil {
		t.Fatal(err)
	}
	_, err := Load(fs)
	if !apperrors.HasCode(err, apperrors.CodeConfigInvalid) {
		t.Fatalf("Load() error = %v, want CONFIG_INVALID", err)
	}
	if apperrors.ExitCode(err) != apperrors.ExitInvalidArgument {
		t.Errorf("ExitCode = %d, want %d", apperrors.ExitCode(err), apperrors.ExitInvalidArgument)
	}
}

func validConfig() Config {
	return Config{
		Runner:   RunnerConfig{Timeout: time.Minute, ModuleFormat: "auto"},
		Artifact: ArtifactConfig{Dir: "out", File: "widgets.json", Wait: time.Minute},
		Scan:     ScanConfig{Concurrency: 4},
		Render:   RenderConfig{Schema: "presence"},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero timeout", func(c *Config) { c.Runner.Timeout = 0 }, true},
		{"zero wait", func(c *Config) { c.Artifact.Wait = 0 }, true},
		{"empty artifact file", func(c *Config) { c.Artifact.File = "" }, true},
		{"bad module format", func(c *Config) { c.Runner.ModuleFormat = "amd" }, true},
		{"bad schema", func(c *Config) { c.Render.Schema = "fancy" }, true},
		{"zero concurrency", func(c *Config) { c.Scan.Concurrency = 0 }, true},
		{"relative base url", func(c *Config) { c.Presence.Dev.BaseURL = "cdn.test/store" }, true},
		{"ftp wiki url", func(c *Config) { c.Wiki.BaseURL = "ftp://wiki.test" }, true},
		{"https urls", func(c *Config) {
			c.Presence.IFT.BaseURL = "https://ift.test/store"
			c.Wiki.BaseURL = "https://wiki.test"
		}, false},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !apperrors.HasCode(err, apperrors.CodeConfigInvalid) {
				t.Errorf("Validate() code = %v, want CONFIG_INVALID", err)
			}
		})
	}
}

func TestConfig_ValidatePublish(t *testing.T) {
	c := validConfig()
	if err := c.ValidatePublish(); err == nil {
		t.Fatal("ValidatePublish() = nil, want error without wiki settings")
	}
	c.Wiki.BaseURL = "https://wiki.test"
	if err := c.ValidatePublish(); err == nil {
		t.Fatal("ValidatePublish() = nil, want error without page id")
	}
	c.Wiki.PageID = "1"
	if err := c.ValidatePublish(); err != nil {
		t.Fatalf("ValidatePublish() error = %v", err)
	}
}

func TestConfig_Masked(t *testing.T) {
	c := validConfig()
	c.Wiki.Password = "s3cret"
	c.Runner.Args = []string{"--a"}

	masked := c.Masked()
	if masked.Wiki.Password != MaskedSecret {
		t.Errorf("masked password = %q", masked.Wiki.Password)
	}
	if c.Wiki.Password != "s3cret" {
		t.Error("Masked() modified the receiver")
	}
	masked.Runner.Args[0] = "--b"
	if c.Runner.Args[0] != "--a" {
		t.Error("Masked() shares Runner.Args with the receiver")
	}

	out, err := yaml.Marshal(masked)
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}
	var back map[string]map[string]interface{}
	if err := yaml.Unmarshal(out, &back); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if back["wiki"]["password"] != MaskedSecret {
		t.Errorf("yaml password = %v", back["wiki"]["password"])
	}
	if back["runner"]["timeout"] != "1m0s" {
		t.Errorf("yaml runner.timeout = %v, want 1m0s", back["runner"]["timeout"])
	}
}
