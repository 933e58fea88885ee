// Package wiki publishes storage-format HTML to a Confluence page using the REST
// content API and optimistic versioning.
//
// Import Path: metapub.io/metapub/internal/wiki
package wiki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "metapub.io/metapub/internal/pkg/errors"
	"metapub.io/metapub/internal/pkg/logger"
)

// DefaultTimeout bounds each wiki request.
const DefaultTimeout = 60 * time.Second

// maxErrorBody caps how much of an error response is kept in error params.
const maxErrorBody = 4 << 10

// Page is the part of a content object the publisher reads.
type Page struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Version   Version    `json:"version"`
	Ancestors []Ancestor `json:"ancestors"`
}

// Version is a page version.
type Version struct {
	Number  int    `json:"number"`
	Message string `json:"message,omitempty"`
}

// Ancestor references a parent page.
type Ancestor struct {
	ID string `json:"id"`
}

// UnmarshalJSON accepts numeric and string ids.
func (a *Ancestor) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id := string(bytes.TrimSpace(raw.ID))
	if id == "null" {
		id = ""
	}
	a.ID = strings.Trim(id, `"`)
	return nil
}

// UpdateRequest is the PUT body of a page update.
type UpdateRequest struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Version   Version    `json:"version"`
	Ancestors []Ancestor `json:"ancestors,omitempty"`
	Body      Body       `json:"body"`
}

// Body carries the storage representation.
type Body struct {
	Storage Storage `json:"storage"`
}

// Storage is the page content in storage format.
type Storage struct {
	Value          string `json:"value"`
	Representation string `json:"representation"`
}

// Credentials authenticate with HTTP Basic auth. An empty User sends a
// personal access token as the password part.
type Credentials struct {
	User   string
	Secret string
}

// Client talks to the content endpoints.
type Client struct {
	baseURL     string
	credentials Credentials
	httpClient  *http.Client
}

// NewClient creates a Client for baseURL (e.g. https://wiki.example.org).
func NewClient(baseURL string, creds Credentials, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: creds,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// GetPage reads the page with its version and ancestors.
func (c *Client) GetPage(ctx context.Context, id string) (*Page, error) {
	endpoint := c.contentURL(id) + "?expand=" + url.QueryEscape("version,ancestors")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeWikiReadFailed, "build request")
	}
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeWikiReadFailed, "request page").
			WithParams(map[string]interface{}{"page_id": id})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeWikiReadFailed, "read page response").WithStatus(resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(apperrors.CodeWikiReadFailed, "read page", id, resp.StatusCode, body)
	}

	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeWikiReadFailed, "decode page").
			WithStatus(resp.StatusCode).
			WithParams(map[string]interface{}{"page_id": id})
	}
	logger.Debug("Wiki page read",
		zap.String("page_id", id),
		zap.Int("version", page.Version.Number),
		zap.Int("ancestors", len(page.Ancestors)),
	)
	return &page, nil
}

// UpdatePage sends the PUT. A stale version is rejected by the server and
// surfaces as WIKI_UPDATE_FAILED with the status and response body.
func (c *Client) UpdatePage(ctx context.Context, id string, update UpdateRequest) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeWikiUpdateFailed, "encode update")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.contentURL(id), bytes.NewReader(payload))
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeWikiUpdateFailed, "build request")
	}
	c.decorate(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeWikiUpdateFailed, "send update").
			WithParams(map[string]interface{}{"page_id": id})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(apperrors.CodeWikiUpdateFailed, "update page", id, resp.StatusCode, body)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) contentURL(id string) string {
	return c.baseURL + "/rest/api/content/" + url.PathEscape(id)
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.credentials.User != "" || c.credentials.Secret != "" {
		req.SetBasicAuth(c.credentials.User, c.credentials.Secret)
	}
}

func statusError(code, action, id string, status int, body []byte) *apperrors.AppError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	err := apperrors.ErrInvalid
	if status == http.StatusConflict {
		err = apperrors.ErrConflict
	} else if status == http.StatusNotFound {
		err = apperrors.ErrNotFound
	}
	return apperrors.Wrap(err, code, fmt.Sprintf("%s: HTTP %d", action, status)).
		WithStatus(status).
		WithParams(map[string]interface{}{
			"page_id": id,
			"status":  status,
			"body":    strings.TrimSpace(string(body)),
		})
}
