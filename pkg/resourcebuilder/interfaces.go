package resourcebuilder

import (
	"context"
	"io"
	"time"
)

// ResourceResolver is a session over the resource tree. Reads observe the
// session's own pending writes; nothing is visible to other sessions until
// Commit. A session is not safe for concurrent use.
type ResourceResolver interface {
	// GetResource returns the resource at an absolute path
	GetResource(ctx context.Context, path string) (*Resource, error)

	// ListChildren returns the children of a resource ordered by name
	ListChildren(ctx context.Context, parent *Resource) ([]*Resource, error)

	// Create adds a child named name under parent
	Create(ctx context.Context, parent *Resource, name string, props Properties) (*Resource, error)

	// SetProperties merges props into the resource; nil values remove properties
	SetProperties(ctx context.Context, res *Resource, props Properties) (*Resource, error)

	// Delete removes the resource and its subtree
	Delete(ctx context.Context, res *Resource) error

	// OpenBinary returns the payload of a binary property value
	OpenBinary(ctx context.Context, b Binary) (io.ReadCloser, error)

	// HasChanges reports whether writes are pending
	HasChanges() bool

	// Commit persists all pending writes atomically
	Commit(ctx context.Context) error

	// Revert discards all pending writes
	Revert()
}

// Repository defines the interface for node persistence
type Repository interface {
	// GetNode returns the node at path or ErrNotFound
	GetNode(ctx context.Context, path string) (*Node, error)

	// ListChildren returns the direct children of path ordered by name
	ListChildren(ctx context.Context, path string) ([]*Node, error)

	// Apply applies the changes in order; either all succeed or none do
	Apply(ctx context.Context, changes []Change) error
}

// BlobStore defines the interface for binary payload storage backends
type BlobStore interface {
	// Upload uploads content directly
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// UploadWithParams uploads content with additional parameters
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download downloads content directly
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete deletes content
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta retrieves metadata for an object
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)
}

// MimeTypeService maps file names to MIME types. An empty result means unknown.
type MimeTypeService interface {
	MimeType(name string) string
}

// EventSink receives notifications for committed changes
type EventSink interface {
	// ResourceAdded is fired when a resource was created
	ResourceAdded(ctx context.Context, path string) error

	// ResourceChanged is fired when properties of a resource were changed
	ResourceChanged(ctx context.Context, path string, properties []string) error

	// ResourceRemoved is fired when a resource subtree was removed
	ResourceRemoved(ctx context.Context, path string) error
}

// ObjectMeta contains metadata about an object in storage
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
	Metadata    map[string]string
}

// UploadParams contains parameters for uploading an object
type UploadParams struct {
	ObjectKey string
	MimeType  string
}
