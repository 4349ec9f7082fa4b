package dataset

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadFilesCSV(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("name,value\na,10\nb,20\nc,30\n"))
	}))
	defer ts.Close()

	l := NewLoader(zap.NewNop())
	u := ts.URL + "/data.csv"
	bundle, err := l.LoadFiles(context.Background(), []string{u})
	require.NoError(t, err)

	table, ok := bundle[u].(*Table)
	require.True(t, ok, "expected *Table, got %T", bundle[u])
	assert.Equal(t, []string{"name", "value"}, table.Columns)
	assert.Len(t, table.Rows, 3)
	assert.Equal(t, "Table shape=(3, 2), columns=[name value]", table.Describe())
}

func TestLoadFilesJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": [1, 2, 3], "total": 6}`))
	}))
	defer ts.Close()

	l := NewLoader(zap.NewNop())
	u := ts.URL + "/payload.json"
	bundle, err := l.LoadFiles(context.Background(), []string{u})
	require.NoError(t, err)

	jv, ok := bundle[u].(*JSONValue)
	require.True(t, ok)
	assert.Equal(t, "JSON object with keys=[items total]", jv.Describe())
}

func TestLoadFilesUnknownTypeKeptAsBlob(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{0x01, 0x02, 0x03})
	}))
	defer ts.Close()

	l := NewLoader(zap.NewNop())
	u := ts.URL + "/mystery.bin"
	bundle, err := l.LoadFiles(context.Background(), []string{u})
	require.NoError(t, err)

	_, ok := bundle[u].(*Blob)
	assert.True(t, ok)
}

func TestLoadFilesHTTPErrorAborts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	l := NewLoader(zap.NewNop())
	_, err := l.LoadFiles(context.Background(), []string{ts.URL + "/gone.csv"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchAPIsInjectsCredentials(t *testing.T) {
	var gotQuery url.Values
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score": 7}`))
	}))
	defer ts.Close()

	l := NewLoader(zap.NewNop())
	apiURL := ts.URL + "/api/data?page=2"
	bundle, err := l.FetchAPIs(context.Background(), []string{apiURL}, "a@b.c", "s3cret")
	require.NoError(t, err)

	assert.Equal(t, "a@b.c", gotQuery.Get("email"))
	assert.Equal(t, "s3cret", gotQuery.Get("secret"))
	// Pre-existing parameters survive the merge.
	assert.Equal(t, "2", gotQuery.Get("page"))

	// Bundle key is the original URL, not the authenticated one.
	_, ok := bundle[apiURL]
	assert.True(t, ok)
}

func TestFetchAPIsNonJSONFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer ts.Close()

	l := NewLoader(zap.NewNop())
	_, err := l.FetchAPIs(context.Background(), []string{ts.URL}, "a@b.c", "s")
	require.Error(t, err)
}

func TestAuthenticateURLPreservesExistingParams(t *testing.T) {
	out, err := AuthenticateURL("https://api.example.com/v1/data?limit=10&email=old", "me@x.y", "shh")
	require.NoError(t, err)

	u, err := url.Parse(out)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "10", q.Get("limit"))
	assert.Equal(t, "me@x.y", q.Get("email")) // overwritten, not duplicated
	assert.Equal(t, "shh", q.Get("secret"))
	assert.Len(t, q["email"], 1)
}

func TestBundleDescribeAndReservedKeys(t *testing.T) {
	b := Bundle{
		"https://x/data.csv": &Table{Columns: []string{"a"}, Rows: [][]string{{"1"}}},
	}
	b.InjectReserved("me@x.y", "shh", "https://x/q1")

	desc := b.Describe()
	assert.Contains(t, desc, "https://x/data.csv (key in data map): Table shape=(1, 1)")
	assert.Contains(t, desc, "email (key in data map): Authentication context")
	assert.Contains(t, desc, "current_url (key in data map): Authentication context")

	raw := b.RawMap()
	assert.Equal(t, "me@x.y", raw["email"])
	assert.Equal(t, "https://x/q1", raw["current_url"])

	tbl, ok := raw["https://x/data.csv"].(map[string]interface{})
	require.True(t, ok)
	rows, ok := tbl["rows"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0]["a"])
}

func TestTableRawPadsShortRows(t *testing.T) {
	tbl := &Table{Columns: []string{"a", "b"}, Rows: [][]string{{"1"}}}
	raw := tbl.Raw().(map[string]interface{})
	rows := raw["rows"].([]map[string]interface{})
	assert.Equal(t, "", rows[0]["b"])
}
