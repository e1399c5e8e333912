package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	rb "github.com/tendant/resource-builder/pkg/resourcebuilder"
)

// maxUploadMemory bounds the part of a multipart upload kept in memory
const maxUploadMemory = 32 << 20

// Sessions opens resolver sessions. *resourcebuilder.ResolverFactory implements it.
type Sessions interface {
	Open() rb.ResourceResolver
}

// Handler serves the resource tree over HTTP. Every request runs in its own
// session.
type Handler struct {
	sessions Sessions
	factory  *rb.Factory
}

func NewHandler(sessions Sessions, factory *rb.Factory) *Handler {
	return &Handler{
		sessions: sessions,
		factory:  factory,
	}
}

// Routes returns the router for resource endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/*", h.GetResource)
	r.Put("/*", h.PutResource)
	r.Post("/*", h.UploadFile)
	r.Delete("/*", h.DeleteResource)
	return r
}

// ResourceResponse is the JSON rendering of a resource
type ResourceResponse struct {
	Path       string                 `json:"path"`
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Metadata   MetadataResponse       `json:"metadata"`
	Children   []ChildResponse        `json:"children,omitempty"`
}

// MetadataResponse carries the derived metadata of a resource
type MetadataResponse struct {
	ContentType      string    `json:"content_type,omitempty"`
	ContentLength    int64     `json:"content_length"`
	CreationTime     time.Time `json:"creation_time"`
	ModificationTime time.Time `json:"modification_time"`
}

// ChildResponse summarizes a child resource
type ChildResponse struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}

// BinaryResponse stands in for binary property values
type BinaryResponse struct {
	Size int64 `json:"size"`
}

func resourcePath(r *http.Request) string {
	p := strings.Trim(chi.URLParam(r, "*"), "/")
	if p == "" {
		return rb.RootPath
	}
	return rb.RootPath + p
}

// GetResource streams file payloads and renders everything else as JSON.
// A ".json" suffix that does not name an existing resource selects the JSON
// rendering of the resource without the suffix.
func (h *Handler) GetResource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := h.sessions.Open()
	path := resourcePath(r)

	res, err := session.GetResource(ctx, path)
	asJSON := false
	if errors.Is(err, rb.ErrNotFound) && strings.HasSuffix(path, ".json") && path != "/.json" {
		res, err = session.GetResource(ctx, strings.TrimSuffix(path, ".json"))
		asJSON = true
	}
	if err != nil {
		writeError(w, "Failed to get resource", path, err)
		return
	}

	if !asJSON && res.ResourceType() == rb.TypeFile {
		h.streamFile(w, r, res)
		return
	}

	resp, err := h.render(r, session, res)
	if err != nil {
		writeError(w, "Failed to list children", path, err)
		return
	}
	render.JSON(w, r, resp)
}

func (h *Handler) streamFile(w http.ResponseWriter, r *http.Request, res *rb.Resource) {
	body, err := res.Open(r.Context())
	if err != nil {
		writeError(w, "Failed to open file", res.Path, err)
		return
	}
	defer body.Close()

	contentType := res.Metadata.ContentType
	if contentType == "" {
		contentType = rb.DefaultMimeType
	}
	w.Header().Set("Content-Type", contentType)
	if res.Metadata.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.Metadata.ContentLength, 10))
	}
	if !res.Metadata.ModificationTime.IsZero() {
		w.Header().Set("Last-Modified", res.Metadata.ModificationTime.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		slog.Error("Failed to stream file", "path", res.Path, "error", err)
	}
}

func (h *Handler) render(r *http.Request, session rb.ResourceResolver, res *rb.Resource) (*ResourceResponse, error) {
	children, err := session.ListChildren(r.Context(), res)
	if err != nil {
		return nil, err
	}

	props := make(map[string]interface{}, len(res.Properties))
	for k, v := range res.Properties {
		if b, ok := v.(rb.Binary); ok {
			props[k] = BinaryResponse{Size: b.Size}
			continue
		}
		props[k] = v
	}

	resp := &ResourceResponse{
		Path:       res.Path,
		Name:       res.Name,
		Type:       res.ResourceType(),
		Properties: props,
		Metadata: MetadataResponse{
			ContentType:      res.Metadata.ContentType,
			ContentLength:    res.Metadata.ContentLength,
			CreationTime:     res.Metadata.CreationTime,
			ModificationTime: res.Metadata.ModificationTime,
		},
	}
	for _, c := range children {
		resp.Children = append(resp.Children, ChildResponse{Name: c.Name, Path: c.Path, Type: c.ResourceType()})
	}
	return resp, nil
}

// PutResource creates the resource and missing ancestors, or merges the
// given properties into an existing one. A null value removes a property.
func (h *Handler) PutResource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := resourcePath(r)

	var body map[string]interface{}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		slog.Error("Failed to decode request", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	props, err := propertiesFromJSON(body)
	if err != nil {
		writeError(w, "Invalid properties", path, err)
		return
	}

	session := h.sessions.Open()
	_, err = session.GetResource(ctx, path)
	created := errors.Is(err, rb.ErrNotFound)
	if err != nil && !created {
		writeError(w, "Failed to get resource", path, err)
		return
	}

	b, err := h.factory.ForResolver(ctx, session)
	if err != nil {
		writeError(w, "Failed to create builder", path, err)
		return
	}
	if path == rb.RootPath {
		b.WithProperties(props)
	} else {
		b.Resource(path, props)
	}
	if err := b.Commit(); err != nil {
		writeError(w, "Failed to write resource", path, err)
		return
	}

	slog.Info("Resource written", "path", path, "created", created)
	h.respondWith(w, r, session, path, created)
}

// UploadFile creates a file below the resource addressed by the URL from
// the multipart field "file". Optional fields: "name", "mime_type" and
// "last_modified" (RFC 3339).
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := resourcePath(r)

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		slog.Error("Failed to parse multipart form", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing 'file' field", http.StatusBadRequest)
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	var opts []rb.FileOption
	if mimeType := r.FormValue("mime_type"); mimeType != "" {
		opts = append(opts, rb.WithMimeType(mimeType))
	}
	if raw := r.FormValue("last_modified"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			file.Close()
			http.Error(w, "Invalid last_modified", http.StatusBadRequest)
			return
		}
		opts = append(opts, rb.WithLastModified(t))
	}

	session := h.sessions.Open()
	b, err := h.factory.ForResolver(ctx, session)
	if err != nil {
		file.Close()
		writeError(w, "Failed to create builder", path, err)
		return
	}
	if path != rb.RootPath {
		b.Resource(path)
	}
	// File closes the upload
	err = b.File(name, file, opts...).Commit()
	if err != nil {
		writeError(w, "Failed to upload file", path, err)
		return
	}

	filePath := rb.JoinPath(path, name)
	slog.Info("File uploaded", "path", filePath, "size", header.Size)
	h.respondWith(w, r, session, filePath, true)
}

// DeleteResource removes a resource and its subtree
func (h *Handler) DeleteResource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := resourcePath(r)
	session := h.sessions.Open()

	res, err := session.GetResource(ctx, path)
	if err != nil {
		writeError(w, "Failed to get resource", path, err)
		return
	}
	if err := session.Delete(ctx, res); err != nil {
		writeError(w, "Failed to delete resource", path, err)
		return
	}
	if err := session.Commit(ctx); err != nil {
		writeError(w, "Failed to delete resource", path, err)
		return
	}

	slog.Info("Resource deleted", "path", path)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondWith(w http.ResponseWriter, r *http.Request, session rb.ResourceResolver, path string, created bool) {
	res, err := session.GetResource(r.Context(), path)
	if err != nil {
		writeError(w, "Failed to get resource", path, err)
		return
	}
	resp, err := h.render(r, session, res)
	if err != nil {
		writeError(w, "Failed to list children", path, err)
		return
	}
	if created {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, resp)
}

// propertiesFromJSON converts a decoded JSON object into property values.
// Numbers become int64 when integral, float64 otherwise; arrays must hold
// values of a single kind.
func propertiesFromJSON(body map[string]interface{}) (rb.Properties, error) {
	props := make(rb.Properties, len(body))
	for name, raw := range body {
		v, err := jsonValue(raw)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		props[name] = v
	}
	return props, nil
}

func jsonValue(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil, string, bool:
		return v, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		return v.Float64()
	case []interface{}:
		return jsonArray(v)
	}
	return nil, fmt.Errorf("%w: unsupported value %T", rb.ErrInvalidArgument, raw)
}

func jsonArray(items []interface{}) (interface{}, error) {
	if len(items) == 0 {
		return []string{}, nil
	}
	values := make([]interface{}, len(items))
	for i, item := range items {
		v, err := jsonValue(item)
		if err != nil {
			return nil, err
		}
		switch v.(type) {
		case string, bool, int64, float64:
			values[i] = v
		default:
			return nil, fmt.Errorf("%w: arrays may only hold scalars", rb.ErrInvalidArgument)
		}
	}

	switch values[0].(type) {
	case string:
		return collect[string](values)
	case bool:
		return collect[bool](values)
	case int64:
		if out, err := collect[int64](values); err == nil {
			return out, nil
		}
		return floats(values)
	case float64:
		return floats(values)
	}
	return nil, fmt.Errorf("%w: unsupported array", rb.ErrInvalidArgument)
}

func collect[T any](values []interface{}) ([]T, error) {
	out := make([]T, len(values))
	for i, v := range values {
		t, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("%w: mixed array element types", rb.ErrInvalidArgument)
		}
		out[i] = t
	}
	return out, nil
}

// floats accepts a mix of integral and fractional numbers
func floats(values []interface{}) ([]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		switch n := v.(type) {
		case int64:
			out[i] = float64(n)
		case float64:
			out[i] = n
		default:
			return nil, fmt.Errorf("%w: mixed array element types", rb.ErrInvalidArgument)
		}
	}
	return out, nil
}

// writeError maps resource errors to HTTP status codes
func writeError(w http.ResponseWriter, msg, path string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rb.ErrInvalidArgument), errors.Is(err, rb.ErrIO):
		status = http.StatusBadRequest
	case errors.Is(err, rb.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, rb.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		slog.Error(msg, "path", path, "error", err)
	} else {
		slog.Warn(msg, "path", path, "status", status, "error", err)
	}
	http.Error(w, err.Error(), status)
}
