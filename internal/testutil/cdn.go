// Package testutil provides fake HTTP backends for tests: a widget store CDN and
// a Confluence-style wiki. Both are gin routers behind httptest servers.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

type cdnFile struct {
	status int
	body   string
}

// FakeCDN serves registered paths and answers 404 for everything else.
type FakeCDN struct {
	Server *httptest.Server

	mu       sync.Mutex
	files    map[string]cdnFile
	requests []string
}

// NewFakeCDN starts a FakeCDN that is closed when the test ends.
func NewFakeCDN(t *testing.T) *FakeCDN {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &FakeCDN{files: make(map[string]cdnFile)}
	r := gin.New()
	r.NoRoute(f.handle)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the server base URL.
func (f *FakeCDN) URL() string {
	return f.Server.URL
}

// Serve registers a response for path.
func (f *FakeCDN) Serve(path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = cdnFile{status: status, body: body}
}

// ServeManifest registers a manifest at path exposing names.
func (f *FakeCDN) ServeManifest(path string, names ...string) {
	exposes := make([]map[string]string, 0, len(names))
	for _, n := range names {
		exposes = append(exposes, map[string]string{"name": n})
	}
	body, _ := json.Marshal(map[string]interface{}{"exposes": exposes})
	f.Serve(path, http.StatusOK, string(body))
}

// Requests returns "METHOD /path" for every request received, in order.
func (f *FakeCDN) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *FakeCDN) handle(c *gin.Context) {
	path := c.Request.URL.Path

	f.mu.Lock()
	f.requests = append(f.requests, c.Request.Method+" "+path)
	file, ok := f.files[path]
	f.mu.Unlock()

	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	if c.Request.Method == http.MethodHead {
		c.Status(file.status)
		return
	}
	c.Data(file.status, "application/json", []byte(file.body))
}
