package presence

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"metapub.io/metapub/internal/domain"
	apperrors "metapub.io/metapub/internal/pkg/errors"
)

// Index is the published index: for every widget, the release versions found
// in each environment. It is built by Scanner and stored as published-widgets.json.
type Index struct {
	widgets map[string]*indexEntry
}

type indexEntry struct {
	name     string
	versions map[domain.Environment]map[int]struct{}
}

var _ Source = (*Index)(nil)

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{widgets: make(map[string]*indexEntry)}
}

// Add records that widget name is published in env at version.
func (x *Index) Add(name string, env domain.Environment, version int) {
	e := x.entry(name)
	if e == nil {
		return
	}
	if e.versions[env] == nil {
		e.versions[env] = make(map[int]struct{})
	}
	e.versions[env][version] = struct{}{}
}

func (x *Index) entry(name string) *indexEntry {
	slug := Slug(name)
	if slug == "" {
		return nil
	}
	e, ok := x.widgets[slug]
	if !ok {
		e = &indexEntry{name: slug, versions: make(map[domain.Environment]map[int]struct{})}
		x.widgets[slug] = e
	}
	return e
}

// Len returns the number of widgets in the index.
func (x *Index) Len() int {
	return len(x.widgets)
}

// Versions returns the sorted versions of widget name in env.
func (x *Index) Versions(name string, env domain.Environment) []int {
	e, ok := x.widgets[Slug(name)]
	if !ok {
		return nil
	}
	out := make([]int, 0, len(e.versions[env]))
	for v := range e.versions[env] {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Lookup resolves the presence of rec in env: unknown when the record cannot be
// enriched or the index lists no version of the widget in env, present when the
// version is listed, absent otherwise.
func (x *Index) Lookup(rec domain.ArtifactRecord, env domain.Environment) domain.EnvironmentPresence {
	if !rec.Enrichable() {
		return domain.EnvironmentPresence{State: domain.PresenceUnknown, Err: "missing name or version"}
	}
	e, ok := x.widgets[rec.Slug()]
	if !ok {
		return domain.EnvironmentPresence{State: domain.PresenceUnknown, Err: "widget not in published index"}
	}
	versions := e.versions[env]
	if len(versions) == 0 {
		return domain.EnvironmentPresence{State: domain.PresenceUnknown, Err: "no published versions in " + string(env)}
	}
	if _, ok := versions[rec.Version]; ok {
		return domain.EnvironmentPresence{State: domain.PresencePresent}
	}
	return domain.EnvironmentPresence{State: domain.PresenceAbsent}
}

// Enrich returns a copy of rec with presence from the index for every environment.
func (x *Index) Enrich(rec domain.ArtifactRecord) domain.ArtifactRecord {
	out := rec
	for _, env := range domain.Environments() {
		out = out.WithPresence(env, x.Lookup(rec, env))
	}
	return out
}

// EnrichAll implements Source.
func (x *Index) EnrichAll(_ context.Context, records []domain.ArtifactRecord) []domain.ArtifactRecord {
	out := make([]domain.ArtifactRecord, len(records))
	for i, rec := range records {
		out[i] = x.Enrich(rec)
	}
	return out
}

type releaseRef struct {
	ReleaseVersion json.RawMessage `json:"releaseVersion"`
}

// LoadIndex reads a published index file.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "read published index").
			WithParams(map[string]interface{}{"path": path})
	}
	x, err := DecodeIndex(data)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "decode published index").
			WithParams(map[string]interface{}{"path": path})
	}
	return x, nil
}

// DecodeIndex parses the published-widgets JSON shape:
//
//	[{"widget":"name","DEV":[{"releaseVersion":21}],"IFT":[...]}]
//
// Entries without a name and release versions that are not integers are skipped.
func DecodeIndex(data []byte) (*Index, error) {
	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}

	x := NewIndex()
	for _, row := range rows {
		name := rowName(row)
		e := x.entry(name)
		if e == nil {
			continue
		}
		for _, env := range domain.Environments() {
			raw, ok := row[string(env)]
			if !ok {
				continue
			}
			var refs []releaseRef
			if err := json.Unmarshal(raw, &refs); err != nil {
				continue
			}
			for _, ref := range refs {
				if v, ok := parseRelease(ref.ReleaseVersion); ok {
					x.Add(name, env, v)
				}
			}
		}
	}
	return x, nil
}

func rowName(row map[string]json.RawMessage) string {
	for _, key := range []string{"widget", "name"} {
		var s string
		if err := json.Unmarshal(row[key], &s); err == nil && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func parseRelease(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return v, true
}

// MarshalJSON writes the published-widgets shape, widgets sorted by name and
// versions ascending.
func (x *Index) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(x.widgets))
	for slug := range x.widgets {
		names = append(names, slug)
	}
	sort.Strings(names)

	rows := make([]indexRow, 0, len(names))
	for _, slug := range names {
		e := x.widgets[slug]
		row := indexRow{Widget: e.name}
		row.DEV = refs(x.Versions(slug, domain.EnvDEV))
		row.IFT = refs(x.Versions(slug, domain.EnvIFT))
		rows = append(rows, row)
	}
	return json.Marshal(rows)
}

type indexRow struct {
	Widget string            `json:"widget"`
	DEV    []publishedRelease `json:"DEV"`
	IFT    []publishedRelease `json:"IFT"`
}

type publishedRelease struct {
	ReleaseVersion int `json:"releaseVersion"`
}

func refs(versions []int) []publishedRelease {
	out := make([]publishedRelease, 0, len(versions))
	for _, v := range versions {
		out = append(out, publishedRelease{ReleaseVersion: v})
	}
	return out
}

// WriteFile writes the index as indented JSON, creating parent directories.
// The file is written to a temporary name and renamed into place.
func (x *Index) WriteFile(path string) error {
	data, err := json.MarshalIndent(x, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
