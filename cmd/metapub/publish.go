package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"metapub.io/metapub/internal/artifact"
	"metapub.io/metapub/internal/config"
	"metapub.io/metapub/internal/domain"
	"metapub.io/metapub/internal/pipeline"
	"metapub.io/metapub/internal/pkg/logger"
	"metapub.io/metapub/internal/presence"
	"metapub.io/metapub/internal/process"
	"metapub.io/metapub/internal/render"
	"metapub.io/metapub/internal/runner"
	"metapub.io/metapub/internal/wiki"
)

func newPublishCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Run the build script and publish the widget table",
		Example: `  metapub publish --script ./widget-store/scripts/build-meta-from-zod.ts \
    --outdir ./widget-store/dist/meta --outfile widget-meta.json --page-id 123456
  metapub publish --skip-build --presence-json published-widgets.json --dry-run
  metapub publish --skip-build --from 18 --to 24 --schema versions --page-id 123456`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			return a.publish(cmd, dryRun)
		},
	}

	f := cmd.Flags()
	f.String("script", "scripts/build-widgets.ts", "build script producing the artifact")
	f.String("project-root", "", "directory the build runs in (default: derived from --script)")
	f.String("module-format", "auto", "module format of the project: auto, esm, cjs or unknown")
	f.Bool("runner-required", false, "fail when every runner fails instead of using an existing artifact")
	f.Bool("skip-build", false, "do not run the build script")
	f.String("outdir", "out", "artifact directory, relative to the working directory")
	f.String("outfile", "widgets.json", "artifact file name")
	f.Int("timeout", 300, "build step timeout in seconds")
	f.Int("wait", 60, "artifact wait timeout in seconds")
	f.String("page-id", "", "Confluence page id")
	f.String("title", "", "page title (default: keep the current one)")
	f.String("parent-id", "", "move the page under this parent")
	f.String("schema", render.SchemaPresence, "table columns: basic, presence or versions")
	f.String("presence-json", "", "published index from 'metapub scan' used instead of live probing")
	f.String("versions", "", "scan these versions or ranges before rendering, e.g. 12,14,20-25")
	f.Int("from", 0, "first version to scan before rendering (inclusive, requires --to)")
	f.Int("to", 0, "last version to scan before rendering (inclusive, requires --from)")
	f.String("out", "published-widgets.json", "where the inline scan writes the published index")
	f.String("dev-base", "", "DEV widget store base URL")
	f.String("ift-base", "", "IFT widget store base URL")
	f.Bool("insecure", false, "skip TLS certificate verification for both environments")
	f.Bool("no-presence", false, "skip presence enrichment")
	f.Bool("dry-run", false, "print the page body instead of publishing it")
	return cmd
}

func (a *app) publish(cmd *cobra.Command, dryRun bool) error {
	cfg := a.cfg
	if !dryRun {
		if err := cfg.ValidatePublish(); err != nil {
			return err
		}
		if err := a.ensurePassword(cmd); err != nil {
			return err
		}
	}

	format, err := runner.ParseModuleFormat(cfg.Runner.ModuleFormat)
	if err != nil {
		return err
	}
	schema, err := render.SchemaByName(cfg.Render.Schema, cfg.Render.StorybookTemplate)
	if err != nil {
		return err
	}
	idx, err := a.publishedIndex(cmd)
	if err != nil {
		return err
	}
	if idx != nil {
		schema.Versions = idx.Versions
	} else if schema.Name == render.SchemaVersions {
		logger.Warn("Versions schema without a published index, version columns stay empty")
	}
	source := presenceSource(cfg, probeConfig(cmd, cfg), idx)

	launcher := process.New()
	launcher.Out = cmd.OutOrStdout()
	if dryRun {
		// Keep stdout for the page body.
		launcher.Out = cmd.ErrOrStderr()
	}

	p := &pipeline.Pipeline{
		Selector: runner.NewSelector(),
		Launcher: launcher,
		Waiter:   artifact.NewWaiter(),
		Presence: source,
	}
	if !dryRun {
		client := wiki.NewClient(cfg.Wiki.BaseURL, wiki.Credentials{User: cfg.Wiki.User, Secret: cfg.Wiki.Password}, cfg.Wiki.Timeout)
		p.Publisher = wiki.NewPublisher(client)
	}

	res, err := p.Run(cmd.Context(), pipeline.Options{
		Script:         cfg.Runner.Script,
		ProjectRoot:    cfg.Runner.ProjectRoot,
		ScriptArgs:     cfg.Runner.Args,
		ModuleFormat:   format,
		RunnerRequired: cfg.Runner.Required,
		SkipBuild:      cfg.Runner.Skip,
		BuildTimeout:   cfg.Runner.Timeout,
		ArtifactDir:    cfg.Artifact.Dir,
		ArtifactFile:   cfg.Artifact.File,
		ArtifactWait:   cfg.Artifact.Wait,
		Schema:         schema,
		Intro:          cfg.Render.Intro,
		Timestamp:      cfg.Render.Timestamp,
		PageID:         cfg.Wiki.PageID,
		Publish: wiki.PublishOptions{
			Title:          cfg.Wiki.Title,
			ParentID:       cfg.Wiki.ParentID,
			PreserveParent: cfg.Wiki.PreserveParent,
			Message:        cfg.Wiki.Message,
		},
		DryRun: dryRun,
		Out:    cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	if !dryRun {
		logger.Info("Published",
			zap.String("page_id", cfg.Wiki.PageID),
			zap.Int("version", res.Version),
			zap.Int("records", len(res.Records)),
			zap.String("runner", res.Runner),
		)
		fmt.Fprintf(cmd.ErrOrStderr(), "page %s updated to version %d (%d widgets)\n", cfg.Wiki.PageID, res.Version, len(res.Records))
	}
	return nil
}

// publishedIndex scans inline when a version range was passed on the command
// line, otherwise loads presence.index. It returns nil when neither applies. An
// index file that cannot be loaded yields an empty index, so presence stays
// unknown.
func (a *app) publishedIndex(cmd *cobra.Command) (*presence.Index, error) {
	cfg := a.cfg
	f := cmd.Flags()
	if f.Changed("versions") || f.Changed("from") || f.Changed("to") {
		versions, err := pipeline.CollectVersions(nil, cfg.Scan.Versions, cfg.Scan.From, cfg.Scan.To)
		if err != nil {
			return nil, err
		}
		res, err := pipeline.Scan(cmd.Context(), probeConfig(cmd, cfg), pipeline.ScanOptions{
			Versions:    versions,
			Out:         cfg.Scan.Out,
			Concurrency: cfg.Scan.Concurrency,
		})
		if err != nil {
			return nil, err
		}
		return res.Index, nil
	}

	if cfg.Presence.Index == "" {
		return nil, nil
	}
	idx, err := presence.LoadIndex(cfg.Presence.Index)
	if err != nil {
		logger.Warn("Published index unavailable, presence left unknown",
			zap.String("path", cfg.Presence.Index), zap.Error(err))
		return presence.NewIndex(), nil
	}
	logger.Info("Using published index", zap.String("path", cfg.Presence.Index), zap.Int("widgets", idx.Len()))
	return idx, nil
}

// presenceSource picks the published index when there is one, live probing otherwise.
func presenceSource(cfg *config.Config, probe presence.Config, idx *presence.Index) presence.Source {
	if !cfg.Presence.Enabled {
		logger.Info("Presence enrichment disabled")
		return nil
	}
	if idx != nil {
		return idx
	}
	return presence.NewEnricher(probe)
}

// probeConfig is presenceConfig with the --insecure flag applied.
func probeConfig(cmd *cobra.Command, cfg *config.Config) presence.Config {
	pcfg := presenceConfig(cfg)
	if insecure, _ := cmd.Flags().GetBool("insecure"); insecure {
		for i := range pcfg.Environments {
			pcfg.Environments[i].Insecure = true
		}
	}
	return pcfg
}

func presenceConfig(cfg *config.Config) presence.Config {
	return presence.Config{
		Environments: []presence.EnvConfig{
			{Name: domain.EnvDEV, BaseURL: cfg.Presence.Dev.BaseURL, Insecure: cfg.Presence.Dev.Insecure},
			{Name: domain.EnvIFT, BaseURL: cfg.Presence.IFT.BaseURL, Insecure: cfg.Presence.IFT.Insecure},
		},
		ManifestFile:   cfg.Presence.ManifestFile,
		EntryFile:      cfg.Presence.EntryFile,
		Timeout:        cfg.Presence.Timeout,
		RequireExposed: cfg.Presence.RequireExposed,
		UserAgent:      cfg.Presence.UserAgent,
	}
}

// ensurePassword prompts for the wiki password, or the personal access token
// when no user is set, if none is configured and stdin is a terminal.
func (a *app) ensurePassword(cmd *cobra.Command) error {
	if a.cfg.Wiki.Password != "" {
		return nil
	}
	isTerminal := a.isTerminal
	if isTerminal == nil {
		isTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	}
	if !isTerminal() {
		logger.Warn("No wiki password configured and stdin is not a terminal", zap.String("user", a.cfg.Wiki.User))
		return nil
	}

	read := a.readPassword
	if read == nil {
		read = func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) }
	}
	if a.cfg.Wiki.User == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Wiki personal access token: ")
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "Wiki password for %s: ", a.cfg.Wiki.User)
	}
	secret, err := read()
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	a.cfg.Wiki.Password = strings.TrimRight(string(secret), "\r\n")
	return nil
}
