package presence

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	apperrors "metapub.io/metapub/internal/pkg/errors"
	"metapub.io/metapub/internal/pkg/logger"
)

const (
	// DefaultTimeout bounds every single probe request.
	DefaultTimeout = 10 * time.Second

	// DefaultUserAgent is sent with every probe.
	DefaultUserAgent = "metapub-presence/1.0"

	maxManifestBytes = 8 << 20
)

// Manifest is the subset of mf-stats.json used for presence.
type Manifest struct {
	Exposes []Expose `json:"exposes"`
}

// Expose is one entry of the manifest exposes list. Plain strings are accepted
// as names.
type Expose struct {
	Name string `json:"name"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Expose) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		e.Name = name
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		// Unknown entry shapes are ignored rather than failing the manifest.
		e.Name = ""
		return nil
	}
	e.Name = obj.Name
	return nil
}

// Names returns the non-empty exposed names in manifest order.
func (m *Manifest) Names() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.Exposes))
	for _, e := range m.Exposes {
		if e.Name != "" {
			out = append(out, e.Name)
		}
	}
	return out
}

// HasSlug reports whether any exposed name has the given slug.
func (m *Manifest) HasSlug(slug string) bool {
	for _, name := range m.Names() {
		if Slug(name) == slug {
			return true
		}
	}
	return false
}

// Prober issues the probe requests against one environment.
type Prober struct {
	Client    *http.Client
	UserAgent string
}

// NewProber returns a Prober with the given per-request timeout. insecure skips
// TLS certificate verification, for environments with internal certificates.
func NewProber(timeout time.Duration, insecure bool) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per environment
	}
	return &Prober{
		Client:    &http.Client{Timeout: timeout, Transport: transport},
		UserAgent: DefaultUserAgent,
	}
}

// ProbeResult describes the outcome of a candidate chain.
type ProbeResult struct {
	URL    string
	Status int
}

// FetchManifest GETs each URL in turn and returns the first manifest served with
// status 200-399 that decodes as JSON. A missing or malformed exposes list reads
// as empty. When every candidate fails, the error of the last one is returned.
func (p *Prober) FetchManifest(ctx context.Context, urls []string) (*Manifest, ProbeResult, error) {
	var lastErr error
	var last ProbeResult
	for _, u := range urls {
		m, status, err := p.getManifest(ctx, u)
		last = ProbeResult{URL: u, Status: status}
		if err == nil {
			return m, last, nil
		}
		logger.Debug("Manifest probe failed", zap.String("url", u), zap.Int("status", status), zap.Error(err))
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = apperrors.New(apperrors.CodePresenceProbeFailed, "no candidate URLs")
	}
	return nil, last, lastErr
}

// Head sends HEAD to each URL in turn and returns the first answering 200-399.
func (p *Prober) Head(ctx context.Context, urls []string) (ProbeResult, error) {
	var lastErr error
	var last ProbeResult
	for _, u := range urls {
		status, err := p.head(ctx, u)
		last = ProbeResult{URL: u, Status: status}
		if err == nil {
			return last, nil
		}
		logger.Debug("Entry point probe failed", zap.String("url", u), zap.Int("status", status), zap.Error(err))
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = apperrors.New(apperrors.CodePresenceProbeFailed, "no candidate URLs")
	}
	return last, lastErr
}

func (p *Prober) getManifest(ctx context.Context, url string) (*Manifest, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, probeError(err, url, 0, "build request")
	}
	req.Header.Set("Accept", "application/json, */*;q=0.1")
	p.setUserAgent(req)

	resp, err := p.client().Do(req)
	if err != nil {
		return nil, 0, probeError(err, url, 0, "request failed")
	}
	defer resp.Body.Close()

	if !acceptable(resp.StatusCode) {
		return nil, resp.StatusCode, probeError(nil, url, resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, resp.StatusCode, probeError(err, url, resp.StatusCode, "read body")
	}

	var raw struct {
		Exposes json.RawMessage `json:"exposes"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, resp.StatusCode, probeError(err, url, resp.StatusCode, "invalid JSON")
	}
	var m Manifest
	if len(raw.Exposes) > 0 {
		if err := json.Unmarshal(raw.Exposes, &m.Exposes); err != nil {
			logger.Debug("Manifest exposes list unreadable", zap.String("url", url), zap.Error(err))
			m.Exposes = nil
		}
	}
	return &m, resp.StatusCode, nil
}

func (p *Prober) head(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, probeError(err, url, 0, "build request")
	}
	p.setUserAgent(req)

	resp, err := p.client().Do(req)
	if err != nil {
		return 0, probeError(err, url, 0, "request failed")
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if !acceptable(resp.StatusCode) {
		return resp.StatusCode, probeError(nil, url, resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	return resp.StatusCode, nil
}

func (p *Prober) client() *http.Client {
	if p.Client == nil {
		return http.DefaultClient
	}
	return p.Client
}

func (p *Prober) setUserAgent(req *http.Request) {
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
}

// acceptable reports a 2xx or 3xx status.
func acceptable(status int) bool {
	return status >= 200 && status < 400
}

func probeError(err error, url string, status int, msg string) *apperrors.AppError {
	e := apperrors.New(apperrors.CodePresenceProbeFailed, msg)
	if err != nil {
		e = apperrors.Wrap(err, apperrors.CodePresenceProbeFailed, msg)
	}
	return e.WithStatus(status).WithParams(map[string]interface{}{"url": url})
}
