package presence

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"metapub.io/metapub/internal/domain"
	"metapub.io/metapub/internal/pkg/logger"
	"metapub.io/metapub/internal/pkg/worker"
)

// Diagnostic describes one version that could not be scanned cleanly.
type Diagnostic struct {
	Environment domain.Environment `json:"environment"`
	Version     int                `json:"version"`
	Target      string             `json:"target"`
	Status      int                `json:"status,omitempty"`
	Error       string             `json:"error,omitempty"`
	URL         string             `json:"url,omitempty"`
}

// Scanner lists the widgets published for a range of release versions.
type Scanner struct {
	envs         []envTarget
	manifestFile string
	entryFile    string
	pool         *worker.Pool
}

// NewScanner builds a Scanner running its probes on pool.
func NewScanner(cfg Config, pool *worker.Pool) *Scanner {
	e := NewEnricher(cfg)
	return &Scanner{
		envs:         e.envs,
		manifestFile: e.manifestFile,
		entryFile:    e.entryFile,
		pool:         pool,
	}
}

type scanResult struct {
	env         domain.Environment
	version     int
	widgets     []string
	diagnostics []Diagnostic
}

// Scan probes every environment and version. Widgets of a version are indexed
// when its manifest was fetched; a missing entry point only adds a diagnostic.
// The result does not depend on probe scheduling. The error is non-nil only when
// ctx ended or the pool rejected work.
func (s *Scanner) Scan(ctx context.Context, versions []int) (*Index, []Diagnostic, error) {
	var results []*scanResult
	var tasks []worker.Task
	for _, env := range s.envs {
		for _, v := range versions {
			res := &scanResult{env: env.Name, version: v}
			results = append(results, res)
			env := env
			tasks = append(tasks, func(ctx context.Context) {
				s.scanVersion(ctx, env, res)
			})
		}
	}

	runErr := s.pool.Run(ctx, tasks)

	index := NewIndex()
	var diags []Diagnostic
	for _, res := range results {
		for _, name := range res.widgets {
			index.Add(name, res.env, res.version)
		}
		diags = append(diags, res.diagnostics...)
	}
	sortDiagnostics(diags)

	logger.Info("Scan finished",
		zap.Int("versions", len(versions)),
		zap.Int("widgets", index.Len()),
		zap.Int("diagnostics", len(diags)),
	)
	return index, diags, runErr
}

func (s *Scanner) scanVersion(ctx context.Context, env envTarget, res *scanResult) {
	if env.BaseURL == "" {
		res.diagnostics = append(res.diagnostics, Diagnostic{
			Environment: env.Name, Version: res.version, Target: s.manifestFile, Error: "no base URL configured",
		})
		return
	}

	manifest, found, err := env.prober.FetchManifest(ctx, RootCandidateURLs(env.BaseURL, res.version, s.manifestFile))
	if err != nil {
		res.diagnostics = append(res.diagnostics, Diagnostic{
			Environment: env.Name, Version: res.version, Target: s.manifestFile,
			Status: found.Status, Error: err.Error(), URL: found.URL,
		})
		return
	}

	if head, err := env.prober.Head(ctx, RootCandidateURLs(env.BaseURL, res.version, s.entryFile)); err != nil {
		res.diagnostics = append(res.diagnostics, Diagnostic{
			Environment: env.Name, Version: res.version, Target: s.entryFile,
			Status: head.Status, Error: err.Error(), URL: head.URL,
		})
	}
	res.widgets = manifest.Names()
}

func sortDiagnostics(diags []Diagnostic) {
	order := make(map[domain.Environment]int)
	for i, env := range domain.Environments() {
		order[env] = i
	}
	sort.SliceStable(diags, func(i, j int) bool {
		a, b := diags[i], diags[j]
		if a.Environment != b.Environment {
			return order[a.Environment] < order[b.Environment]
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.Target < b.Target
	})
}
