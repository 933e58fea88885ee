package wiki

import (
	"context"

	"go.uber.org/zap"

	"metapub.io/metapub/internal/pkg/logger"
)

// DefaultMessage is the version comment when none is configured.
const DefaultMessage = "update via metapub"

// PageStore is the subset of Client used by Publisher.
type PageStore interface {
	GetPage(ctx context.Context, id string) (*Page, error)
	UpdatePage(ctx context.Context, id string, update UpdateRequest) error
}

var _ PageStore = (*Client)(nil)

// PublishOptions control the update.
type PublishOptions struct {
	// Title replaces the page title; empty keeps the current one.
	Title string

	// ParentID moves the page under this parent.
	ParentID string

	// PreserveParent re-sends the current immediate parent when ParentID is empty.
	PreserveParent bool

	// Message is the version comment.
	Message string
}

// Publisher replaces a page body using read-then-write optimistic versioning.
type Publisher struct {
	store PageStore
}

// NewPublisher creates a Publisher.
func NewPublisher(store PageStore) *Publisher {
	return &Publisher{store: store}
}

// Publish reads page id, then submits body as version N+1 and returns that number.
// Only the immediate parent is ever sent as ancestor. Conflicts are not retried.
func (p *Publisher) Publish(ctx context.Context, id, body string, opts PublishOptions) (int, error) {
	page, err := p.store.GetPage(ctx, id)
	if err != nil {
		return 0, err
	}
	if page.ID == "" {
		page.ID = id
	}

	update := BuildUpdate(page, body, opts)
	if err := p.store.UpdatePage(ctx, id, update); err != nil {
		logger.Warn("Wiki update rejected",
			zap.String("page_id", id),
			zap.Int("read_version", page.Version.Number),
			zap.Int("submitted_version", update.Version.Number),
			zap.Error(err),
		)
		return 0, err
	}

	logger.Info("Wiki page updated",
		zap.String("page_id", id),
		zap.String("title", update.Title),
		zap.Int("version", update.Version.Number),
	)
	return update.Version.Number, nil
}

// BuildUpdate assembles the PUT body for the page as read.
func BuildUpdate(page *Page, body string, opts PublishOptions) UpdateRequest {
	title := opts.Title
	if title == "" {
		title = page.Title
	}
	message := opts.Message
	if message == "" {
		message = DefaultMessage
	}

	// A page read without a version number counts as version 1.
	current := page.Version.Number
	if current < 1 {
		current = 1
	}

	update := UpdateRequest{
		ID:      page.ID,
		Type:    "page",
		Title:   title,
		Version: Version{Number: current + 1, Message: message},
		Body:    Body{Storage: Storage{Value: body, Representation: "storage"}},
	}

	switch {
	case opts.ParentID != "":
		update.Ancestors = []Ancestor{{ID: opts.ParentID}}
	case opts.PreserveParent && len(page.Ancestors) > 0:
		update.Ancestors = []Ancestor{{ID: page.Ancestors[len(page.Ancestors)-1].ID}}
	}
	return update
}
