// Package presence decides whether a versioned widget is published in each
// environment, either by probing the widget store live or from a published index
// produced by a previous scan.
//
// Probe failures never fail the caller: they resolve to PresenceUnknown. Absent is
// reported only on positive evidence.
//
// Import Path: metapub.io/metapub/internal/presence
package presence

import (
	"strconv"
	"strings"

	"metapub.io/metapub/internal/domain"
)

// Default file names probed under every candidate root.
const (
	DefaultManifestFile = "mf-stats.json"
	DefaultEntryFile    = "container.js"
)

// Slug normalizes a widget name the way the widget store names its exposes.
func Slug(name string) string {
	return domain.Slug(name)
}

// RootCandidateURLs returns the version-rooted URL shapes for file, deduplicated in order:
// {base}/{v}/{file}, {base}/v{v}/{file}, {base}/release/{v}/{file}.
func RootCandidateURLs(base string, version int, file string) []string {
	base = strings.TrimRight(base, "/")
	file = strings.TrimLeft(file, "/")
	v := strconv.Itoa(version)
	return dedupe([]string{
		base + "/" + v + "/" + file,
		base + "/v" + v + "/" + file,
		base + "/release/" + v + "/" + file,
	})
}

// CandidateURLs returns RootCandidateURLs followed by the per-widget shape
// {base}/{slug}/{v}/{file} when slug is not empty.
func CandidateURLs(base string, version int, slug, file string) []string {
	urls := RootCandidateURLs(base, version, file)
	if slug != "" {
		urls = append(urls, strings.TrimRight(base, "/")+"/"+slug+"/"+strconv.Itoa(version)+"/"+strings.TrimLeft(file, "/"))
	}
	return dedupe(urls)
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
