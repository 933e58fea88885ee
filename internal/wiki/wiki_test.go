package wiki

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "metapub.io/metapub/internal/pkg/errors"
	"metapub.io/metapub/internal/testutil"
)

func TestPublisher_Publish_IncrementsVersion(t *testing.T) {
	fake := testutil.NewFakeWiki(t)
	fake.AddPage(testutil.FakePage{ID: "12345", Title: "Widgets", Version: 12, Ancestors: []string{"1", "2", "3"}})
	fake.RequireBasicAuth("bot", "token")

	p := NewPublisher(NewClient(fake.URL(), Credentials{User: "bot", Secret: "token"}, 0))
	version, err := p.Publish(context.Background(), "12345", "<table></table>", PublishOptions{PreserveParent: true})
	require.NoError(t, err)
	require.Equal(t, 13, version)

	updates := fake.Updates()
	require.Len(t, updates, 1)
	put := updates[0]
	require.Equal(t, float64(13), put["version"].(map[string]interface{})["number"])
	require.Equal(t, DefaultMessage, put["version"].(map[string]interface{})["message"])
	require.Equal(t, "page", put["type"])
	require.Equal(t, "Widgets", put["title"])
	require.Equal(t, []interface{}{map[string]interface{}{"id": "3"}}, put["ancestors"])
	require.Equal(t, map[string]interface{}{"value": "<table></table>", "representation": "storage"},
		put["body"].(map[string]interface{})["storage"])

	page, _ := fake.Page("12345")
	require.Equal(t, 13, page.Version)
	require.Equal(t, "<table></table>", page.Body)
}

func TestPublisher_Publish_ConcurrentWriterConflict(t *testing.T) {
	fake := testutil.NewFakeWiki(t)
	fake.AddPage(testutil.FakePage{ID: "12345", Title: "Widgets", Version: 12})
	// Another editor saves between our read and our write.
	fake.AfterGet(fake.BumpVersion)

	p := NewPublisher(NewClient(fake.URL(), Credentials{Secret: "pat"}, 0))
	_, err := p.Publish(context.Background(), "12345", "<p>new</p>", PublishOptions{})
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeWikiUpdateFailed, appErr.Code)
	require.Equal(t, http.StatusConflict, appErr.HTTPStatus)
	require.ErrorIs(t, err, apperrors.ErrConflict)
	require.Contains(t, appErr.Params["body"], "Current version is: 13")

	// Exactly one attempt, carrying the version read plus one.
	updates := fake.Updates()
	require.Len(t, updates, 1)
	require.Equal(t, float64(13), updates[0]["version"].(map[string]interface{})["number"])

	page, _ := fake.Page("12345")
	require.Equal(t, 13, page.Version)
	require.Empty(t, page.Body)
}

func TestClient_GetPage_Errors(t *testing.T) {
	fake := testutil.NewFakeWiki(t)
	fake.RequireBasicAuth("bot", "right")

	c := NewClient(fake.URL(), Credentials{User: "bot", Secret: "wrong"}, 0)
	_, err := c.GetPage(context.Background(), "1")
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeWikiReadFailed, appErr.Code)
	require.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus)

	c = NewClient(fake.URL(), Credentials{User: "bot", Secret: "right"}, 0)
	_, err = c.GetPage(context.Background(), "missing")
	require.True(t, apperrors.HasCode(err, apperrors.CodeWikiReadFailed))
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBuildUpdate_Ancestors(t *testing.T) {
	page := &Page{ID: "9", Title: "Old", Version: Version{Number: 4}, Ancestors: []Ancestor{{ID: "100"}, {ID: "200"}}}

	tests := []struct {
		name string
		opts PublishOptions
		want []Ancestor
	}{
		{"none by default", PublishOptions{}, nil},
		{"immediate parent only", PublishOptions{PreserveParent: true}, []Ancestor{{ID: "200"}}},
		{"explicit parent wins", PublishOptions{ParentID: "300", PreserveParent: true}, []Ancestor{{ID: "300"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := BuildUpdate(page, "<p/>", tt.opts)
			require.Equal(t, tt.want, u.Ancestors)
			require.Equal(t, 5, u.Version.Number)
			require.Equal(t, "Old", u.Title)
		})
	}

	u := BuildUpdate(page, "<p/>", PublishOptions{Title: "New", Message: "nightly"})
	require.Equal(t, "New", u.Title)
	require.Equal(t, "nightly", u.Version.Message)
}

func TestBuildUpdate_MissingVersionNumber(t *testing.T) {
	var page Page
	require.NoError(t, json.Unmarshal([]byte(`{"id":"9","title":"Old","version":{}}`), &page))

	u := BuildUpdate(&page, "<p/>", PublishOptions{})
	require.Equal(t, 2, u.Version.Number)
}

func TestAncestor_UnmarshalNumericID(t *testing.T) {
	var p Page
	require.NoError(t, json.Unmarshal([]byte(`{"id":"5","version":{"number":2},"ancestors":[{"id":77},{"id":"78"}]}`), &p))
	require.Equal(t, []Ancestor{{ID: "77"}, {ID: "78"}}, p.Ancestors)
}
