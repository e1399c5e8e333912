package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	rb "github.com/tendant/resource-builder/pkg/resourcebuilder"
	"github.com/tendant/resource-builder/pkg/resourcebuilder/presets"
)

// setupHandlerTest creates a test server backed by in-memory storage
func setupHandlerTest(t *testing.T, opts ...presets.TestingOption) (*httptest.Server, *presets.Stack) {
	t.Helper()
	stack := presets.NewTesting(t, opts...)

	handler := NewHandler(stack.Resolvers, stack.Builders)
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)
	return server, stack
}

func doRequest(t *testing.T, method, url, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func putJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return doRequest(t, http.MethodPut, url, "application/json", bytes.NewReader(data))
}

func upload(t *testing.T, url, fileName, content string, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return doRequest(t, http.MethodPost, url, mw.FormDataContentType(), &buf)
}

func decodeResource(t *testing.T, resp *http.Response) ResourceResponse {
	t.Helper()
	var out ResourceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandler_PutAndGetResource(t *testing.T) {
	server, _ := setupHandlerTest(t)

	resp := putJSON(t, server.URL+"/foo", map[string]interface{}{"title": "foo"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, server.URL+"/foo", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeResource(t, resp)
	assert.Equal(t, "/foo", got.Path)
	assert.Equal(t, "foo", got.Name)
	assert.Equal(t, rb.TypeUnstructured, got.Type)
	assert.Equal(t, "foo", got.Properties["title"])

	t.Run("merge and remove", func(t *testing.T) {
		resp := putJSON(t, server.URL+"/foo", map[string]interface{}{
			"title": nil,
			"count": 3,
			"ratio": 0.5,
			"tags":  []string{"a", "b"},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		got := decodeResource(t, resp)
		assert.NotContains(t, got.Properties, "title")
		assert.Equal(t, float64(3), got.Properties["count"])
		assert.Equal(t, 0.5, got.Properties["ratio"])
		assert.Equal(t, []interface{}{"a", "b"}, got.Properties["tags"])
	})

	t.Run("type conflict", func(t *testing.T) {
		resp := putJSON(t, server.URL+"/foo", map[string]interface{}{rb.PropPrimaryType: "folder"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("invalid value", func(t *testing.T) {
		resp := putJSON(t, server.URL+"/bar", map[string]interface{}{"nested": map[string]string{"a": "b"}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("not found", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, server.URL+"/missing", "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHandler_IntermediateResources(t *testing.T) {
	server, _ := setupHandlerTest(t)

	require.Equal(t, http.StatusCreated, putJSON(t, server.URL+"/foo/a/b", map[string]interface{}{}).StatusCode)
	require.Equal(t, http.StatusCreated, putJSON(t, server.URL+"/foo/c/d", map[string]interface{}{}).StatusCode)

	resp := doRequest(t, http.MethodGet, server.URL+"/foo", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeResource(t, resp)
	require.Len(t, got.Children, 2)
	assert.Equal(t, "a", got.Children[0].Name)
	assert.Equal(t, "c", got.Children[1].Name)

	resp = doRequest(t, http.MethodGet, server.URL+"/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	root := decodeResource(t, resp)
	assert.Equal(t, rb.RootPath, root.Path)
	require.Len(t, root.Children, 1)
	assert.Equal(t, "/foo", root.Children[0].Path)
}

func TestHandler_UploadAndDownloadFile(t *testing.T) {
	server, _ := setupHandlerTest(t)
	lastModified := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	resp := upload(t, server.URL+"/somewhere", "f.txt", "yes, it worked", map[string]string{
		"mime_type":     "foo",
		"last_modified": lastModified.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeResource(t, resp)
	assert.Equal(t, "/somewhere/f.txt", created.Path)
	assert.Equal(t, rb.TypeFile, created.Type)
	assert.Equal(t, "foo", created.Metadata.ContentType)
	assert.Equal(t, int64(len("yes, it worked")), created.Metadata.ContentLength)

	resp = doRequest(t, http.MethodGet, server.URL+"/somewhere/f.txt", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "foo", resp.Header.Get("Content-Type"))
	assert.Equal(t, "14", resp.Header.Get("Content-Length"))
	assert.Equal(t, lastModified.Format(http.TimeFormat), resp.Header.Get("Last-Modified"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "yes, it worked", string(body))

	t.Run("json rendering", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, server.URL+"/somewhere/f.txt.json", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decodeResource(t, resp)
		assert.Equal(t, rb.TypeFile, got.Type)
		require.Len(t, got.Children, 1)
		assert.Equal(t, rb.ContentNodeName, got.Children[0].Name)
		assert.Equal(t, rb.TypeResource, got.Children[0].Type)
	})

	t.Run("duplicate upload conflicts", func(t *testing.T) {
		resp := upload(t, server.URL+"/somewhere", "f.txt", "again", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestHandler_UploadDerivesMimeType(t *testing.T) {
	server, _ := setupHandlerTest(t)
	start := time.Now().Add(-time.Second)

	resp := upload(t, server.URL+"/a/b/c", "model2.js", "function f() {}", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeResource(t, resp)
	assert.Equal(t, "application/javascript", created.Metadata.ContentType)
	assert.False(t, created.Metadata.ModificationTime.Before(start))
}

func TestHandler_UploadValidation(t *testing.T) {
	server, _ := setupHandlerTest(t)

	t.Run("missing file", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("name", "x"))
		require.NoError(t, mw.Close())
		resp := doRequest(t, http.MethodPost, server.URL+"/", mw.FormDataContentType(), &buf)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("bad last_modified", func(t *testing.T) {
		resp := upload(t, server.URL+"/", "a.txt", "x", map[string]string{"last_modified": "yesterday"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("not multipart", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, server.URL+"/", "text/plain", strings.NewReader("x"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHandler_DeleteResource(t *testing.T) {
	server, _ := setupHandlerTest(t)

	require.Equal(t, http.StatusCreated, upload(t, server.URL+"/docs", "a.txt", "a", nil).StatusCode)

	resp := doRequest(t, http.MethodDelete, server.URL+"/docs", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, server.URL+"/docs/a.txt", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, server.URL+"/docs", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, server.URL+"/", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_Fixtures(t *testing.T) {
	server, _ := setupHandlerTest(t, presets.WithTestFixtures())

	resp := doRequest(t, http.MethodGet, server.URL+presets.FixtureFile, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, presets.FixtureFileContent, string(body))

	resp = doRequest(t, http.MethodGet, server.URL+presets.FixtureRoot+".json", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeResource(t, resp)
	assert.Equal(t, "Fixtures", got.Properties["title"])
	require.Len(t, got.Children, 2)
}

func TestJSONValue(t *testing.T) {
	tests := []struct {
		name    string
		raw     interface{}
		want    interface{}
		wantErr bool
	}{
		{"integer", json.Number("42"), int64(42), false},
		{"float", json.Number("1.5"), 1.5, false},
		{"strings", []interface{}{"a", "b"}, []string{"a", "b"}, false},
		{"mixed numbers", []interface{}{json.Number("1"), json.Number("2.5")}, []float64{1, 2.5}, false},
		{"mixed kinds", []interface{}{"a", true}, nil, true},
		{"nested array", []interface{}{[]interface{}{"a"}}, nil, true},
		{"object", map[string]interface{}{}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := jsonValue(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, rb.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
