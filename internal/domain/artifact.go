// Package domain provides the data model shared by the metapub pipeline.
//
// Import Path: metapub.io/metapub/internal/domain
package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ArtifactRecord is one entry of the build artifact (e.g. a UI widget).
// It is produced by the external build step and only read by the pipeline;
// Presence is filled in by enrichment.
type ArtifactRecord struct {
	Name string `json:"name"`

	// Version is meaningful only when VersionKnown is true. A missing or
	// unparseable version leaves VersionKnown false and skips enrichment.
	Version      int  `json:"version"`
	VersionKnown bool `json:"-"`

	Agents      []string `json:"agents,omitempty"`
	Description string   `json:"description,omitempty"`

	Presence map[Environment]EnvironmentPresence `json:"presence,omitempty"`
}

// Slug returns the canonical slug of the record name.
func (r ArtifactRecord) Slug() string {
	return Slug(r.Name)
}

// Enrichable reports whether the record has the name and version needed for probing.
func (r ArtifactRecord) Enrichable() bool {
	return strings.TrimSpace(r.Name) != "" && r.VersionKnown
}

// PresenceIn returns the presence for env, Unknown when nothing was recorded.
func (r ArtifactRecord) PresenceIn(env Environment) EnvironmentPresence {
	if p, ok := r.Presence[env]; ok {
		return p
	}
	return EnvironmentPresence{State: PresenceUnknown}
}

// WithPresence returns a copy of r with env set to p. The receiver is not modified.
func (r ArtifactRecord) WithPresence(env Environment, p EnvironmentPresence) ArtifactRecord {
	out := r
	out.Presence = make(map[Environment]EnvironmentPresence, len(r.Presence)+1)
	for k, v := range r.Presence {
		out.Presence[k] = v
	}
	out.Presence[env] = p
	return out
}

// UnmarshalJSON accepts the field spellings emitted by the different build scripts:
// name|widget, version|xVersion (number or numeric string), agents (strings or
// objects) or configurations[].agent, and description in several places.
func (r *ArtifactRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("artifact record: %w", err)
	}

	*r = ArtifactRecord{}
	r.Name = strings.TrimSpace(firstString(raw, "name", "widget"))
	r.Version, r.VersionKnown = firstInt(raw, "version", "xVersion")
	r.Agents = decodeAgents(raw)
	r.Description = decodeDescription(raw)
	return nil
}

func firstString(raw map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func firstInt(raw map[string]json.RawMessage, keys ...string) (int, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || string(v) == "null" {
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			if i, err := strconv.Atoi(n.String()); err == nil {
				return i, true
			}
			if f, err := n.Float64(); err == nil && f == float64(int(f)) {
				return int(f), true
			}
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
				return i, true
			}
		}
	}
	return 0, false
}

func decodeAgents(raw map[string]json.RawMessage) []string {
	for _, k := range []string{"agents", "agent"} {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var single string
		if err := json.Unmarshal(v, &single); err == nil {
			if single == "" {
				return nil
			}
			return []string{single}
		}
		var list []json.RawMessage
		if err := json.Unmarshal(v, &list); err != nil {
			continue
		}
		var out []string
		for _, item := range list {
			var s string
			if err := json.Unmarshal(item, &s); err == nil {
				if s != "" {
					out = append(out, s)
				}
				continue
			}
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(item, &obj); err == nil {
				if s := firstString(obj, "name", "id", "title"); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	}

	// Fall back to configurations[].agent, deduplicated and sorted.
	v, ok := raw["configurations"]
	if !ok {
		return nil
	}
	var configs []map[string]json.RawMessage
	if err := json.Unmarshal(v, &configs); err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, cfg := range configs {
		a := firstString(cfg, "agent")
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func decodeDescription(raw map[string]json.RawMessage) string {
	if s := firstString(raw, "display_description", "displayDescription", "description"); s != "" {
		return s
	}
	v, ok := raw["display"]
	if !ok {
		return ""
	}
	var display map[string]json.RawMessage
	if err := json.Unmarshal(v, &display); err != nil {
		return ""
	}
	return firstString(display, "description")
}

// Slug normalizes a widget name: underscores and whitespace become hyphens,
// runs of hyphens collapse, the result is lowercased and trimmed of hyphens.
func Slug(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastHyphen := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r == '_' || r == '-' || r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		default:
			b.WriteString(strings.ToLower(string(r)))
			lastHyphen = false
		}
	}
	return strings.Trim(b.String(), "-")
}
