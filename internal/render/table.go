// Package render turns artifact records into Confluence storage-format HTML.
//
// Markup is built as an x/net/html node tree and serialized with html.Render, so
// every text node and attribute value is escaped. Rendering is pure: identical
// input yields byte-identical output.
//
// Import Path: metapub.io/metapub/internal/render
package render

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"metapub.io/metapub/internal/domain"
)

// Presence glyphs. The cell depends on the tri-state only.
const (
	GlyphPresent = "✔"
	GlyphAbsent  = "✘"
	GlyphUnknown = "?"
)

// Schema names accepted by SchemaByName.
const (
	SchemaBasic    = "basic"
	SchemaPresence = "presence"
	SchemaVersions = "versions"
)

// VersionLookup lists the published release versions of a widget in env.
type VersionLookup func(name string, env domain.Environment) []int

// Column is one table column.
type Column struct {
	Header string
	cell   func(rec domain.ArtifactRecord, s Schema) []*html.Node
}

// Schema is an ordered column set plus the settings its cells need.
type Schema struct {
	Name    string
	Columns []Column

	// StorybookTemplate builds the Storybook link. {name}, {slug} and {compact}
	// are replaced with the query-escaped widget name, its slug and the name
	// without underscores. Empty disables the link.
	StorybookTemplate string

	// Versions feeds the "<ENV> versions" columns. Nil leaves them empty.
	Versions VersionLookup
}

var (
	nameColumn      = Column{Header: "name", cell: func(r domain.ArtifactRecord, _ Schema) []*html.Node { return texts(r.Name) }}
	versionColumn   = Column{Header: "xVersion", cell: versionCell}
	devColumn       = Column{Header: string(domain.EnvDEV), cell: presenceCell(domain.EnvDEV)}
	iftColumn       = Column{Header: string(domain.EnvIFT), cell: presenceCell(domain.EnvIFT)}
	agentsColumn    = Column{Header: "agents", cell: func(r domain.ArtifactRecord, _ Schema) []*html.Node { return texts(strings.Join(r.Agents, ", ")) }}
	describeColumn  = Column{Header: "display_description", cell: func(r domain.ArtifactRecord, _ Schema) []*html.Node { return texts(r.Description) }}
	storybookColumn = Column{Header: "Storybook", cell: storybookCell}
	devVersions     = Column{Header: string(domain.EnvDEV) + " versions", cell: versionsCell(domain.EnvDEV)}
	iftVersions     = Column{Header: string(domain.EnvIFT) + " versions", cell: versionsCell(domain.EnvIFT)}
)

// Basic is the name / version / Storybook schema.
func Basic(storybookTemplate string) Schema {
	return Schema{
		Name:              SchemaBasic,
		Columns:           []Column{nameColumn, versionColumn, storybookColumn},
		StorybookTemplate: storybookTemplate,
	}
}

// Presence is the full schema with DEV and IFT presence columns.
func Presence(storybookTemplate string) Schema {
	return Schema{
		Name:              SchemaPresence,
		Columns:           []Column{nameColumn, versionColumn, devColumn, iftColumn, agentsColumn, describeColumn, storybookColumn},
		StorybookTemplate: storybookTemplate,
	}
}

// PublishedVersions lists every published release of a widget per environment
// instead of presence glyphs. Set Versions before rendering.
func PublishedVersions(storybookTemplate string) Schema {
	return Schema{
		Name:              SchemaVersions,
		Columns:           []Column{nameColumn, versionColumn, agentsColumn, describeColumn, storybookColumn, devVersions, iftVersions},
		StorybookTemplate: storybookTemplate,
	}
}

// SchemaByName resolves a configured schema name.
func SchemaByName(name, storybookTemplate string) (Schema, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case SchemaBasic:
		return Basic(storybookTemplate), nil
	case SchemaPresence, "":
		return Presence(storybookTemplate), nil
	case SchemaVersions:
		return PublishedVersions(storybookTemplate), nil
	default:
		return Schema{}, fmt.Errorf("unknown table schema %q (want %s, %s or %s)", name, SchemaBasic, SchemaPresence, SchemaVersions)
	}
}

// Headers returns the column headers in order.
func (s Schema) Headers() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Header
	}
	return out
}

// Table renders records as a Confluence "wrapped" table, one row per record in
// input order.
func Table(records []domain.ArtifactRecord, schema Schema) string {
	return renderNode(TableNode(records, schema))
}

// TableNode builds the table node tree.
func TableNode(records []domain.ArtifactRecord, schema Schema) *html.Node {
	table := element(atom.Table, html.Attribute{Key: "class", Val: "wrapped"})

	colgroup := element(atom.Colgroup)
	for range schema.Columns {
		colgroup.AppendChild(element(atom.Col))
	}
	table.AppendChild(colgroup)

	tbody := element(atom.Tbody)
	head := element(atom.Tr)
	for _, c := range schema.Columns {
		th := element(atom.Th, html.Attribute{Key: "scope", Val: "col"})
		th.AppendChild(text(c.Header))
		head.AppendChild(th)
	}
	tbody.AppendChild(head)

	for _, rec := range records {
		tr := element(atom.Tr)
		for _, c := range schema.Columns {
			td := element(atom.Td)
			for _, n := range c.cell(rec, schema) {
				td.AppendChild(n)
			}
			tr.AppendChild(td)
		}
		tbody.AppendChild(tr)
	}
	table.AppendChild(tbody)
	return table
}

// Glyph returns the cell text for a presence state.
func Glyph(p domain.Presence) string {
	switch p {
	case domain.PresencePresent:
		return GlyphPresent
	case domain.PresenceAbsent:
		return GlyphAbsent
	default:
		return GlyphUnknown
	}
}

// StorybookURL expands template for name. It returns "" when either is empty.
func StorybookURL(template, name string) string {
	if template == "" || strings.TrimSpace(name) == "" {
		return ""
	}
	return strings.NewReplacer(
		"{name}", url.QueryEscape(name),
		"{slug}", url.QueryEscape(domain.Slug(name)),
		"{compact}", url.QueryEscape(strings.ReplaceAll(name, "_", "")),
	).Replace(template)
}

func versionCell(r domain.ArtifactRecord, _ Schema) []*html.Node {
	if !r.VersionKnown {
		return nil
	}
	return texts(strconv.Itoa(r.Version))
}

func presenceCell(env domain.Environment) func(domain.ArtifactRecord, Schema) []*html.Node {
	return func(r domain.ArtifactRecord, _ Schema) []*html.Node {
		return texts(Glyph(r.PresenceIn(env).State))
	}
}

func versionsCell(env domain.Environment) func(domain.ArtifactRecord, Schema) []*html.Node {
	return func(r domain.ArtifactRecord, s Schema) []*html.Node {
		if s.Versions == nil {
			return nil
		}
		versions := s.Versions(r.Name, env)
		parts := make([]string, len(versions))
		for i, v := range versions {
			parts[i] = strconv.Itoa(v)
		}
		return texts(strings.Join(parts, ", "))
	}
}

func storybookCell(r domain.ArtifactRecord, s Schema) []*html.Node {
	href := StorybookURL(s.StorybookTemplate, r.Name)
	if href == "" {
		return nil
	}
	a := element(atom.A, html.Attribute{Key: "href", Val: href})
	a.AppendChild(text("Storybook"))
	return []*html.Node{a}
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func texts(s string) []*html.Node {
	if s == "" {
		return nil
	}
	return []*html.Node{text(s)}
}

func renderNode(n *html.Node) string {
	var b strings.Builder
	// html.Render fails only on malformed trees.
	_ = html.Render(&b, n)
	return b.String()
}
