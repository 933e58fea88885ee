package render

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	markdownOnce     sync.Once
	markdownInstance goldmark.Markdown
)

// markdown returns the shared converter. Raw HTML in the source is omitted;
// output is XHTML, which the storage format requires.
func markdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
			goldmark.WithRendererOptions(gmhtml.WithXHTML()),
		)
	})
	return markdownInstance
}

// Intro converts Markdown to storage-format HTML.
func Intro(source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := markdown().Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("render intro: %w", err)
	}
	return buf.String(), nil
}

// Page composes the page body: the intro, an "Updated" line when updatedAt is
// not zero, then the table.
func Page(intro, table string, updatedAt time.Time) (string, error) {
	introHTML, err := Intro(intro)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(introHTML)
	if !updatedAt.IsZero() {
		p := element(atom.P)
		em := element(atom.Em)
		em.AppendChild(text("Updated: " + updatedAt.UTC().Format("2006-01-02 15:04 MST")))
		p.AppendChild(em)
		_ = html.Render(&b, p)
		b.WriteString("\n")
	}
	b.WriteString(table)
	return b.String(), nil
}
