package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

// FakePage is a page stored by FakeWiki.
type FakePage struct {
	ID        string
	Title     string
	Version   int
	Ancestors []string
	Body      string
}

// FakeWiki implements the content endpoints of the Confluence REST API with
// optimistic versioning: a PUT must carry exactly the current version plus one.
type FakeWiki struct {
	Server *httptest.Server

	mu       sync.Mutex
	pages    map[string]*FakePage
	updates  []map[string]interface{}
	user     string
	password string
	afterGet func(id string)
}

// NewFakeWiki starts a FakeWiki that is closed when the test ends.
func NewFakeWiki(t *testing.T) *FakeWiki {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &FakeWiki{pages: make(map[string]*FakePage)}
	r := gin.New()
	api := r.Group("/rest/api/content", f.auth)
	api.GET("/:id", f.getPage)
	api.PUT("/:id", f.putPage)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the server base URL.
func (f *FakeWiki) URL() string {
	return f.Server.URL
}

// RequireBasicAuth makes every request without these credentials fail with 401.
func (f *FakeWiki) RequireBasicAuth(user, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user, f.password = user, password
}

// AddPage stores a page.
func (f *FakeWiki) AddPage(p FakePage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := p
	cp.Ancestors = append([]string(nil), p.Ancestors...)
	f.pages[p.ID] = &cp
}

// Page returns the stored page.
func (f *FakeWiki) Page(id string) (FakePage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[id]
	if !ok {
		return FakePage{}, false
	}
	return *p, true
}

// BumpVersion simulates a concurrent editor advancing the page version.
func (f *FakeWiki) BumpVersion(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pages[id]; ok {
		p.Version++
	}
}

// AfterGet registers a hook run after every successful page read, before the
// response is written.
func (f *FakeWiki) AfterGet(hook func(id string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterGet = hook
}

// Updates returns the decoded bodies of every PUT received, accepted or not.
func (f *FakeWiki) Updates() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]interface{}(nil), f.updates...)
}

func (f *FakeWiki) auth(c *gin.Context) {
	f.mu.Lock()
	user, password := f.user, f.password
	f.mu.Unlock()
	if user == "" && password == "" {
		c.Next()
		return
	}
	u, p, ok := c.Request.BasicAuth()
	if !ok || u != user || p != password {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"statusCode": 401, "message": "Unauthorized"})
		return
	}
	c.Next()
}

func (f *FakeWiki) getPage(c *gin.Context) {
	id := c.Param("id")
	f.mu.Lock()
	p, ok := f.pages[id]
	var resp gin.H
	if ok {
		resp = pageJSON(p)
	}
	hook := f.afterGet
	f.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"statusCode": 404, "message": "No content found with id: " + id})
		return
	}
	// The hook runs before the response is sent, so the client always sees the
	// state as of its read.
	if hook != nil {
		hook(id)
	}
	c.JSON(http.StatusOK, resp)
}

func (f *FakeWiki) putPage(c *gin.Context) {
	id := c.Param("id")
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"statusCode": 400, "message": err.Error()})
		return
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"statusCode": 400, "message": "invalid JSON"})
		return
	}

	var req struct {
		Title   string `json:"title"`
		Version struct {
			Number int `json:"number"`
		} `json:"version"`
		Ancestors []struct {
			ID string `json:"id"`
		} `json:"ancestors"`
		Body struct {
			Storage struct {
				Value string `json:"value"`
			} `json:"storage"`
		} `json:"body"`
	}
	_ = json.Unmarshal(raw, &req)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, body)

	p, ok := f.pages[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"statusCode": 404, "message": "No content found with id: " + id})
		return
	}
	if req.Version.Number != p.Version+1 {
		c.JSON(http.StatusConflict, gin.H{
			"statusCode": 409,
			"message":    fmt.Sprintf("Version must be incremented on update. Current version is: %d", p.Version),
		})
		return
	}

	p.Version = req.Version.Number
	if req.Title != "" {
		p.Title = req.Title
	}
	p.Body = req.Body.Storage.Value
	if len(req.Ancestors) > 0 {
		p.Ancestors = make([]string, 0, len(req.Ancestors))
		for _, a := range req.Ancestors {
			p.Ancestors = append(p.Ancestors, a.ID)
		}
	}
	c.JSON(http.StatusOK, pageJSON(p))
}

func pageJSON(p *FakePage) gin.H {
	ancestors := make([]gin.H, 0, len(p.Ancestors))
	for _, a := range p.Ancestors {
		ancestors = append(ancestors, gin.H{"id": a, "type": "page"})
	}
	return gin.H{
		"id":        p.ID,
		"type":      "page",
		"title":     p.Title,
		"version":   gin.H{"number": p.Version},
		"ancestors": ancestors,
	}
}
