// Package pipeline wires the publish flow: build step, artifact wait, presence
// enrichment, rendering and the wiki update.
//
// Import Path: metapub.io/metapub/internal/pipeline
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"metapub.io/metapub/internal/artifact"
	"metapub.io/metapub/internal/domain"
	"metapub.io/metapub/internal/pkg/fallback"
	"metapub.io/metapub/internal/pkg/logger"
	"metapub.io/metapub/internal/presence"
	"metapub.io/metapub/internal/render"
	"metapub.io/metapub/internal/runner"
	"metapub.io/metapub/internal/wiki"

	apperrors "metapub.io/metapub/internal/pkg/errors"
)

// Launcher runs one build command.
type Launcher interface {
	Run(ctx context.Context, argv []string, dir string, timeout time.Duration) error
}

// Waiter blocks until the artifact is ready.
type Waiter interface {
	Wait(ctx context.Context, path string, timeout time.Duration) error
}

// Publisher replaces the wiki page body.
type Publisher interface {
	Publish(ctx context.Context, id, body string, opts wiki.PublishOptions) (int, error)
}

// Options enumerates everything one publish run can vary.
type Options struct {
	Script       string
	ProjectRoot  string // empty derives it from Script
	ScriptArgs   []string
	ModuleFormat runner.ModuleFormat

	// RunnerRequired fails the run when no runner succeeded. Otherwise the
	// pipeline continues with whatever artifact is already on disk.
	RunnerRequired bool
	SkipBuild      bool
	BuildTimeout   time.Duration

	ArtifactDir  string
	ArtifactFile string
	ArtifactWait time.Duration

	Schema    render.Schema
	Intro     string
	Timestamp bool

	PageID  string
	Publish wiki.PublishOptions

	// DryRun writes the page body to Out instead of publishing it.
	DryRun bool
	Out    io.Writer
}

// Result describes a finished run.
type Result struct {
	// Runner is the label of the build command that succeeded, empty when the
	// build was skipped or every runner failed softly.
	Runner  string
	Records []domain.ArtifactRecord
	Body    string
	// Version is the page version written; zero on a dry run.
	Version int
}

// Pipeline holds the collaborators of a run. Presence and Publisher may be nil:
// a nil Presence leaves every record unknown, a nil Publisher only allows dry runs.
type Pipeline struct {
	Selector  *runner.Selector
	Launcher  Launcher
	Waiter    Waiter
	Presence  presence.Source
	Publisher Publisher
	Now       func() time.Time
}

// Run executes one publish.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.ArtifactFile == "" {
		return nil, apperrors.ErrInvalidArgumentf("artifact file name is empty")
	}
	if !opts.DryRun && opts.PageID == "" {
		return nil, apperrors.ErrInvalidArgumentf("page id is required unless --dry-run is set")
	}

	outDir, err := filepath.Abs(opts.ArtifactDir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact dir: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	artifactPath := filepath.Join(outDir, opts.ArtifactFile)

	res := &Result{}
	if opts.SkipBuild {
		logger.Info("Build step skipped", zap.String("artifact", artifactPath))
	} else {
		label, err := p.build(ctx, opts, outDir)
		if err != nil {
			return nil, err
		}
		res.Runner = label
	}

	if err := p.Waiter.Wait(ctx, artifactPath, opts.ArtifactWait); err != nil {
		return nil, err
	}
	records, err := artifact.Load(artifactPath)
	if err != nil {
		return nil, err
	}
	logger.Info("Artifact loaded", zap.String("path", artifactPath), zap.Int("records", len(records)))

	if p.Presence != nil {
		records = p.Presence.EnrichAll(ctx, records)
	}
	res.Records = records

	body, err := p.render(records, opts)
	if err != nil {
		return nil, err
	}
	res.Body = body

	if opts.DryRun {
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		if _, err := io.WriteString(out, body); err != nil {
			return nil, fmt.Errorf("write page body: %w", err)
		}
		logger.Info("Dry run, page not updated", zap.Int("bytes", len(body)))
		return res, nil
	}

	if p.Publisher == nil {
		return nil, apperrors.ErrInvalidArgumentf("no wiki publisher configured")
	}
	version, err := p.Publisher.Publish(ctx, opts.PageID, body, opts.Publish)
	if err != nil {
		return nil, err
	}
	res.Version = version
	return res, nil
}

// build tries every runner candidate in order and returns the label of the
// one that succeeded.
func (p *Pipeline) build(ctx context.Context, opts Options, outDir string) (string, error) {
	script, err := filepath.Abs(opts.Script)
	if err != nil {
		return "", fmt.Errorf("resolve script path: %w", err)
	}
	if _, err := os.Stat(script); err != nil {
		if opts.RunnerRequired {
			return "", apperrors.ErrInvalidArgumentf("build script %s: %v", script, err)
		}
		logger.Warn("Build script not found, using existing artifact", zap.String("script", script))
		return "", nil
	}

	root := opts.ProjectRoot
	if root == "" {
		root = runner.ProjectRoot(script)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}

	sel := p.selector()
	sel.Override = opts.ModuleFormat
	sel.Args = append([]string{"--outdir", outDir, "--outfile", opts.ArtifactFile}, opts.ScriptArgs...)
	candidates := sel.Candidates(script, root)

	winner := ""
	attempts := make([]fallback.Attempt, 0, len(candidates))
	for _, c := range candidates {
		attempts = append(attempts, fallback.Attempt{
			Name: c.Label,
			Run: func(ctx context.Context) error {
				logger.Info("Running build step", zap.String("runner", c.Label), zap.String("command", c.String()))
				if err := p.Launcher.Run(ctx, c.Argv, root, opts.BuildTimeout); err != nil {
					return err
				}
				winner = c.Label
				return nil
			},
		})
	}

	err = fallback.First(ctx, attempts, func(a fallback.Attempt, i int, err error) {
		logger.Warn("Runner failed, trying next",
			zap.String("runner", a.Name),
			zap.Int("attempt", i+1),
			zap.Int("candidates", len(attempts)),
			zap.Error(err),
		)
	})
	switch {
	case err == nil:
		return winner, nil
	case ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(err, fallback.ErrNoAttempts):
		err = apperrors.New(apperrors.CodeRunnerNotFound, "no runner available for the build script").
			WithParams(map[string]interface{}{"script": script, "project_root": root})
	}

	if opts.RunnerRequired {
		return "", fmt.Errorf("build step: %w", err)
	}
	logger.Warn("Every runner failed, using existing artifact", zap.Int("candidates", len(attempts)), zap.Error(err))
	return "", nil
}

func (p *Pipeline) selector() runner.Selector {
	if p.Selector != nil {
		return *p.Selector
	}
	return *runner.NewSelector()
}

func (p *Pipeline) render(records []domain.ArtifactRecord, opts Options) (string, error) {
	var updated time.Time
	if opts.Timestamp {
		updated = p.now()
	}
	return render.Page(opts.Intro, render.Table(records, opts.Schema), updated)
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
