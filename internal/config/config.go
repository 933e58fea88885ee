// Package config provides configuration management for metapub.
//
// Configuration is loaded from, lowest precedence first:
// 1. Default values
// 2. metapub.yaml (optional; ., ./config, $HOME/.config/metapub, or --config)
// 3. Environment variables (WIKI_PAGE_ID, RUNNER_TIMEOUT, ... plus the CONF_* and
//    WIDGET_STORE_* aliases used by the existing scripts)
// 4. Command-line flags
//
// Import Path: metapub.io/metapub/internal/config
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	apperrors "metapub.io/metapub/internal/pkg/errors"
	"metapub.io/metapub/internal/render"
	"metapub.io/metapub/internal/runner"
)

// MaskedSecret replaces secrets in Masked output.
const MaskedSecret = "********"

// Config is the root configuration structure.
type Config struct {
	Runner   RunnerConfig   `mapstructure:"runner" yaml:"runner"`
	Artifact ArtifactConfig `mapstructure:"artifact" yaml:"artifact"`
	Presence PresenceConfig `mapstructure:"presence" yaml:"presence"`
	Scan     ScanConfig     `mapstructure:"scan" yaml:"scan"`
	Render   RenderConfig   `mapstructure:"render" yaml:"render"`
	Wiki     WikiConfig     `mapstructure:"wiki" yaml:"wiki"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// RunnerConfig controls the build step.
type RunnerConfig struct {
	Script      string   `mapstructure:"script" yaml:"script"`
	ProjectRoot string   `mapstructure:"project_root" yaml:"project_root"`
	Args        []string `mapstructure:"args" yaml:"args"`

	// ModuleFormat overrides detection: auto, esm, cjs or unknown.
	ModuleFormat string        `mapstructure:"module_format" yaml:"module_format"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Required fails the run when every runner failed. Otherwise the pipeline
	// continues with whatever artifact already exists.
	Required bool `mapstructure:"required" yaml:"required"`
	Skip     bool `mapstructure:"skip" yaml:"skip"`
}

// ArtifactConfig locates the build output.
type ArtifactConfig struct {
	Dir  string        `mapstructure:"dir" yaml:"dir"`
	File string        `mapstructure:"file" yaml:"file"`
	Wait time.Duration `mapstructure:"wait" yaml:"wait"`
}

// Path returns the artifact file path.
func (c ArtifactConfig) Path() string {
	return filepath.Join(c.Dir, c.File)
}

// PresenceConfig controls presence enrichment.
type PresenceConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Index is a published-widgets.json file used instead of live probing.
	Index string `mapstructure:"index" yaml:"index"`

	ManifestFile   string            `mapstructure:"manifest_file" yaml:"manifest_file"`
	EntryFile      string            `mapstructure:"entry_file" yaml:"entry_file"`
	Timeout        time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	RequireExposed bool              `mapstructure:"require_exposed" yaml:"require_exposed"`
	UserAgent      string            `mapstructure:"user_agent" yaml:"user_agent"`
	Dev            EnvironmentConfig `mapstructure:"dev" yaml:"dev"`
	IFT            EnvironmentConfig `mapstructure:"ift" yaml:"ift"`
}

// EnvironmentConfig locates one widget store environment.
type EnvironmentConfig struct {
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure"`
}

// ScanConfig controls the scan command.
type ScanConfig struct {
	Versions    string `mapstructure:"versions" yaml:"versions"`
	From        int    `mapstructure:"from" yaml:"from"`
	To          int    `mapstructure:"to" yaml:"to"`
	Out         string `mapstructure:"out" yaml:"out"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
}

// RenderConfig controls the page body.
type RenderConfig struct {
	Schema            string `mapstructure:"schema" yaml:"schema"`
	StorybookTemplate string `mapstructure:"storybook_url_template" yaml:"storybook_url_template"`

	// Intro is Markdown placed above the table.
	Intro     string `mapstructure:"intro" yaml:"intro"`
	Timestamp bool   `mapstructure:"timestamp" yaml:"timestamp"`
}

// WikiConfig contains the Confluence connection and target page.
type WikiConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	User           string        `mapstructure:"user" yaml:"user"`
	Password       string        `mapstructure:"password" yaml:"password"`
	PageID         string        `mapstructure:"page_id" yaml:"page_id"`
	Title          string        `mapstructure:"title" yaml:"title"`
	ParentID       string        `mapstructure:"parent_id" yaml:"parent_id"`
	PreserveParent bool          `mapstructure:"preserve_parent" yaml:"preserve_parent"`
	Message        string        `mapstructure:"message" yaml:"message"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // json or console
}

// envAliases are the variable names of the legacy scripts, bound next to the
// automatic names. The first name listed wins when both are set.
var envAliases = map[string][]string{
	"wiki.base_url":                 {"WIKI_BASE_URL", "CONF_URL"},
	"wiki.user":                     {"WIKI_USER", "CONF_USER"},
	"wiki.password":                 {"WIKI_PASSWORD", "CONF_PASS"},
	"wiki.page_id":                  {"WIKI_PAGE_ID", "CONF_PAGE_ID"},
	"presence.dev.base_url":         {"PRESENCE_DEV_BASE_URL", "WIDGET_STORE_DEV_BASE"},
	"presence.ift.base_url":         {"PRESENCE_IFT_BASE_URL", "WIDGET_STORE_IFT_BASE"},
	"render.storybook_url_template": {"RENDER_STORYBOOK_URL_TEMPLATE", "STORYBOOK_URL_TEMPLATE"},
}

// flagKeys maps flag names to configuration keys. Flags measured in seconds
// are applied separately, see secondsFlags.
var flagKeys = map[string]string{
	"script":          "runner.script",
	"project-root":    "runner.project_root",
	"module-format":   "runner.module_format",
	"runner-required": "runner.required",
	"skip-build":      "runner.skip",
	"outdir":          "artifact.dir",
	"outfile":         "artifact.file",
	"presence-json":   "presence.index",
	"page-id":         "wiki.page_id",
	"title":           "wiki.title",
	"parent-id":       "wiki.parent_id",
	"schema":          "render.schema",
	"versions":        "scan.versions",
	"from":            "scan.from",
	"to":              "scan.to",
	"out":             "scan.out",
	"concurrency":     "scan.concurrency",
	"dev-base":        "presence.dev.base_url",
	"ift-base":        "presence.ift.base_url",
	"log-level":       "log.level",
	"log-format":      "log.format",
}

// secondsFlags are integer flags overriding duration keys.
var secondsFlags = map[string]func(c *Config, d time.Duration){
	"timeout": func(c *Config, d time.Duration) { c.Runner.Timeout = d },
	"wait":    func(c *Config, d time.Duration) { c.Artifact.Wait = d },
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file, environment and flags. flags may be nil.
// A "config" flag names an explicit configuration file; "no-presence" disables
// presence enrichment.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetConfigName("metapub")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "metapub"))
	}

	explicit := ""
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			explicit = f.Value.String()
			v.SetConfigFile(explicit)
		}
	}

	// Maps nested config: wiki.page_id → WIKI_PAGE_ID
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "read config file")
		}
		// Config file is optional, use defaults and env vars
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "unmarshal config")
	}

	if flags != nil {
		if err := cfg.applyFlags(flags); err != nil {
			return nil, err
		}
	}

	if cfg.Wiki.Password != "" && v.InConfig("wiki.password") {
		logBootstrapWarn("wiki.password read from the config file; prefer WIKI_PASSWORD or CONF_PASS",
			zap.String("file", v.ConfigFileUsed()))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyFlags(flags *pflag.FlagSet) error {
	for name, set := range secondsFlags {
		if !flags.Changed(name) {
			continue
		}
		secs, err := flags.GetInt(name)
		if err != nil {
			return apperrors.ErrInvalidArgumentf("--%s: %v", name, err)
		}
		set(c, time.Duration(secs)*time.Second)
	}
	if flags.Changed("no-presence") {
		if off, err := flags.GetBool("no-presence"); err == nil && off {
			c.Presence.Enabled = false
		}
	}
	return nil
}

// Validate checks for configuration errors that make every command fail.
func (c *Config) Validate() error {
	if c.Runner.Timeout <= 0 {
		return apperrors.ErrConfigInvalidf("runner.timeout must be positive, got %s", c.Runner.Timeout)
	}
	if c.Artifact.Wait <= 0 {
		return apperrors.ErrConfigInvalidf("artifact.wait must be positive, got %s", c.Artifact.Wait)
	}
	if c.Artifact.File == "" {
		return apperrors.ErrConfigInvalidf("artifact.file must not be empty")
	}
	if _, err := runner.ParseModuleFormat(c.Runner.ModuleFormat); err != nil {
		return apperrors.ErrConfigInvalidf("runner.module_format: %v", err)
	}
	if _, err := render.SchemaByName(c.Render.Schema, c.Render.StorybookTemplate); err != nil {
		return apperrors.ErrConfigInvalidf("render.schema: %v", err)
	}
	if c.Scan.Concurrency < 1 {
		return apperrors.ErrConfigInvalidf("scan.concurrency must be at least 1, got %d", c.Scan.Concurrency)
	}
	for key, raw := range map[string]string{
		"presence.dev.base_url": c.Presence.Dev.BaseURL,
		"presence.ift.base_url": c.Presence.IFT.BaseURL,
		"wiki.base_url":         c.Wiki.BaseURL,
	} {
		if err := validateURL(raw); err != nil {
			return apperrors.ErrConfigInvalidf("%s: %v", key, err)
		}
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return apperrors.ErrConfigInvalidf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// ValidatePublish checks what a real publish needs beyond Validate.
func (c *Config) ValidatePublish() error {
	if c.Wiki.BaseURL == "" {
		return apperrors.ErrConfigInvalidf("wiki.base_url is required (WIKI_BASE_URL or CONF_URL)")
	}
	if c.Wiki.PageID == "" {
		return apperrors.ErrConfigInvalidf("wiki.page_id is required (--page-id, WIKI_PAGE_ID or CONF_PAGE_ID)")
	}
	return nil
}

// Masked returns a copy with secrets replaced, for display.
func (c Config) Masked() Config {
	out := c
	out.Runner.Args = append([]string(nil), c.Runner.Args...)
	if out.Wiki.Password != "" {
		out.Wiki.Password = MaskedSecret
	}
	return out
}

func validateURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

func setDefaults(v *viper.Viper) {
	// Runner
	v.SetDefault("runner.script", "scripts/build-widgets.ts")
	v.SetDefault("runner.project_root", "")
	v.SetDefault("runner.args", []string{})
	v.SetDefault("runner.module_format", "auto")
	v.SetDefault("runner.timeout", "300s")
	v.SetDefault("runner.required", false)
	v.SetDefault("runner.skip", false)

	// Artifact
	v.SetDefault("artifact.dir", "out")
	v.SetDefault("artifact.file", "widgets.json")
	v.SetDefault("artifact.wait", "60s")

	// Presence
	v.SetDefault("presence.enabled", true)
	v.SetDefault("presence.index", "")
	v.SetDefault("presence.manifest_file", "mf-stats.json")
	v.SetDefault("presence.entry_file", "container.js")
	v.SetDefault("presence.timeout", "10s")
	v.SetDefault("presence.require_exposed", true)
	v.SetDefault("presence.user_agent", "metapub-presence/1.0")
	v.SetDefault("presence.dev.base_url", "")
	v.SetDefault("presence.dev.insecure", false)
	v.SetDefault("presence.ift.base_url", "")
	v.SetDefault("presence.ift.insecure", false)

	// Scan
	v.SetDefault("scan.versions", "")
	v.SetDefault("scan.from", 0)
	v.SetDefault("scan.to", 0)
	v.SetDefault("scan.out", "published-widgets.json")
	v.SetDefault("scan.concurrency", 4)

	// Render
	v.SetDefault("render.schema", "presence")
	v.SetDefault("render.storybook_url_template", "")
	v.SetDefault("render.intro", "")
	v.SetDefault("render.timestamp", true)

	// Wiki
	v.SetDefault("wiki.base_url", "")
	v.SetDefault("wiki.user", "")
	v.SetDefault("wiki.password", "")
	v.SetDefault("wiki.page_id", "")
	v.SetDefault("wiki.title", "")
	v.SetDefault("wiki.parent_id", "")
	v.SetDefault("wiki.preserve_parent", true)
	v.SetDefault("wiki.message", "update via metapub")
	v.SetDefault("wiki.timeout", "60s")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
