package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"metapub.io/metapub/internal/domain"
	"metapub.io/metapub/internal/pkg/logger"
)

// Source resolves presence for a batch of records. Implementations never fail:
// anything they cannot decide stays PresenceUnknown.
type Source interface {
	EnrichAll(ctx context.Context, records []domain.ArtifactRecord) []domain.ArtifactRecord
}

// EnvConfig locates one environment of the widget store.
type EnvConfig struct {
	Name    domain.Environment
	BaseURL string
	// Insecure skips TLS certificate verification for this environment only.
	Insecure bool
}

// Config configures live probing.
type Config struct {
	Environments []EnvConfig
	ManifestFile string
	EntryFile    string
	Timeout      time.Duration

	// RequireExposed makes a fetched manifest that does not expose the widget
	// count as absent. When false, a reachable manifest and entry point suffice.
	RequireExposed bool
	UserAgent      string
}

type envTarget struct {
	EnvConfig
	prober *Prober
}

// Enricher probes the widget store live.
type Enricher struct {
	envs           []envTarget
	manifestFile   string
	entryFile      string
	requireExposed bool
}

var _ Source = (*Enricher)(nil)

// NewEnricher builds an Enricher with one Prober per environment.
func NewEnricher(cfg Config) *Enricher {
	e := &Enricher{
		manifestFile:   cfg.ManifestFile,
		entryFile:      cfg.EntryFile,
		requireExposed: cfg.RequireExposed,
	}
	if e.manifestFile == "" {
		e.manifestFile = DefaultManifestFile
	}
	if e.entryFile == "" {
		e.entryFile = DefaultEntryFile
	}
	for _, env := range cfg.Environments {
		p := NewProber(cfg.Timeout, env.Insecure)
		if cfg.UserAgent != "" {
			p.UserAgent = cfg.UserAgent
		}
		e.envs = append(e.envs, envTarget{EnvConfig: env, prober: p})
	}
	return e
}

// Enrich returns a copy of rec with presence set for every configured environment.
func (e *Enricher) Enrich(ctx context.Context, rec domain.ArtifactRecord) domain.ArtifactRecord {
	out := rec
	for _, env := range e.envs {
		p := e.probe(ctx, env, rec)
		out = out.WithPresence(env.Name, p)
		logger.Debug("Presence resolved",
			zap.String("widget", rec.Name),
			zap.Int("version", rec.Version),
			zap.String("env", string(env.Name)),
			zap.String("state", p.State.String()),
			zap.String("error", p.Err),
		)
	}
	return out
}

// EnrichAll enriches records sequentially, preserving order.
func (e *Enricher) EnrichAll(ctx context.Context, records []domain.ArtifactRecord) []domain.ArtifactRecord {
	out := make([]domain.ArtifactRecord, len(records))
	for i, rec := range records {
		out[i] = e.Enrich(ctx, rec)
	}
	return out
}

func (e *Enricher) probe(ctx context.Context, env envTarget, rec domain.ArtifactRecord) domain.EnvironmentPresence {
	if !rec.Enrichable() {
		return domain.EnvironmentPresence{State: domain.PresenceUnknown, Err: "missing name or version"}
	}
	if env.BaseURL == "" {
		return domain.EnvironmentPresence{State: domain.PresenceUnknown, Err: "no base URL configured"}
	}

	slug := rec.Slug()
	manifest, found, err := env.prober.FetchManifest(ctx, CandidateURLs(env.BaseURL, rec.Version, slug, e.manifestFile))
	if err != nil {
		return domain.EnvironmentPresence{State: domain.PresenceUnknown, Err: err.Error()}
	}
	if _, err := env.prober.Head(ctx, CandidateURLs(env.BaseURL, rec.Version, slug, e.entryFile)); err != nil {
		return domain.EnvironmentPresence{State: domain.PresenceUnknown, URL: found.URL, Err: err.Error()}
	}

	if e.requireExposed && !manifest.HasSlug(slug) {
		return domain.EnvironmentPresence{State: domain.PresenceAbsent, URL: found.URL}
	}
	return domain.EnvironmentPresence{State: domain.PresencePresent, URL: found.URL}
}
