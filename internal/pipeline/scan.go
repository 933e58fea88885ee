package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"metapub.io/metapub/internal/pkg/logger"
	"metapub.io/metapub/internal/pkg/worker"
	"metapub.io/metapub/internal/presence"

	apperrors "metapub.io/metapub/internal/pkg/errors"
)

// ScanOptions configures one scan.
type ScanOptions struct {
	Versions    []int
	Out         string
	Concurrency int

	// JSON additionally writes the index to this writer.
	JSON io.Writer
}

// ScanResult is what a scan found.
type ScanResult struct {
	Index       *presence.Index
	Diagnostics []presence.Diagnostic
}

// CollectVersions merges positional tokens, a version list and a from/to pair
// into one sorted set. from and to must be given together; zero means unset.
func CollectVersions(tokens []string, list string, from, to int) ([]int, error) {
	parts := append([]string{}, tokens...)
	if list != "" {
		parts = append(parts, list)
	}
	switch {
	case from != 0 && to != 0:
		parts = append(parts, fmt.Sprintf("%d-%d", from, to))
	case from != 0 || to != 0:
		return nil, apperrors.ErrInvalidArgumentf("--from and --to must be given together")
	}

	versions, err := presence.ParseVersions(strings.Join(parts, ","))
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, apperrors.ErrInvalidArgumentf("no versions to scan (use N, A-B, --versions or --from/--to)")
	}
	return versions, nil
}

// Scan probes every configured environment for opts.Versions and writes the
// published index to opts.Out.
func Scan(ctx context.Context, cfg presence.Config, opts ScanOptions) (*ScanResult, error) {
	if len(opts.Versions) == 0 {
		return nil, apperrors.ErrInvalidArgumentf("no versions to scan")
	}
	if opts.Out == "" {
		return nil, apperrors.ErrInvalidArgumentf("scan output path is empty")
	}

	poolCfg := worker.DefaultPoolConfig()
	if opts.Concurrency > 0 {
		poolCfg.Size = opts.Concurrency
	}
	pool, err := worker.NewPool(poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create probe pool: %w", err)
	}
	defer pool.Shutdown()

	index, diags, err := presence.NewScanner(cfg, pool).Scan(ctx, opts.Versions)
	if err != nil {
		return nil, fmt.Errorf("scan versions: %w", err)
	}
	for _, d := range diags {
		logger.Warn("Scan diagnostic",
			zap.String("env", string(d.Environment)),
			zap.Int("version", d.Version),
			zap.String("target", d.Target),
			zap.Int("status", d.Status),
			zap.String("url", d.URL),
			zap.String("error", d.Error),
		)
	}

	if err := index.WriteFile(opts.Out); err != nil {
		return nil, fmt.Errorf("write published index: %w", err)
	}
	logger.Info("Published index written", zap.String("path", opts.Out), zap.Int("widgets", index.Len()))

	if opts.JSON != nil {
		enc := json.NewEncoder(opts.JSON)
		enc.SetIndent("", "  ")
		if err := enc.Encode(index); err != nil {
			return nil, fmt.Errorf("print published index: %w", err)
		}
	}
	return &ScanResult{Index: index, Diagnostics: diags}, nil
}
