package resourcebuilder

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Property names with a defined meaning
const (
	PropPrimaryType  = "primaryType"
	PropMimeType     = "mimeType"
	PropLastModified = "lastModified"
	PropData         = "data"
)

// Primary types
const (
	TypeUnstructured = "unstructured"
	TypeFile         = "file"
	TypeResource     = "resource"
)

// ContentNodeName is the name of the child that holds a file's payload.
const ContentNodeName = "content"

// DefaultMimeType is used for files whose type cannot be resolved.
const DefaultMimeType = "application/octet-stream"

// RootPath is the path of the tree root.
const RootPath = "/"

// Properties maps property names to values.
type Properties map[string]interface{}

// Copy returns a copy of p. Multi-value slices are copied too.
func (p Properties) Copy() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = copyValue(v)
	}
	return out
}

// GetString returns the named property if it holds a string.
func (p Properties) GetString(name string) (string, bool) {
	s, ok := p[name].(string)
	return s, ok
}

// GetTime returns the named property if it holds a time.Time.
func (p Properties) GetTime(name string) (time.Time, bool) {
	t, ok := p[name].(time.Time)
	return t, ok
}

// GetBinary returns the named property if it holds a Binary.
func (p Properties) GetBinary(name string) (Binary, bool) {
	b, ok := p[name].(Binary)
	return b, ok
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, string, bool, time.Time, Binary:
		return t
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && !rv.IsNil() {
		cp := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(cp, rv)
		return cp.Interface()
	}
	return v
}

// Binary is a binary property value. Payloads created with NewBinary are
// staged in memory until the session commits, after which the value refers
// to a blob store object by Key. A staged payload is never modified, so
// copies of a Binary share it.
type Binary struct {
	Key  string
	Size int64

	data   []byte
	staged bool
}

// NewBinary stages data as a binary property value.
func NewBinary(data []byte) Binary {
	return Binary{Size: int64(len(data)), data: data, staged: true}
}

// Staged reports whether the payload has not been persisted yet.
func (b Binary) Staged() bool {
	return b.staged
}

func (b Binary) String() string {
	if b.staged {
		return fmt.Sprintf("binary(staged, %d bytes)", b.Size)
	}
	return fmt.Sprintf("binary(%s, %d bytes)", b.Key, b.Size)
}

// Node is the persisted form of a resource as kept by a Repository.
type Node struct {
	ID         uuid.UUID
	Path       string
	Properties Properties
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Name returns the last path segment of the node.
func (n *Node) Name() string {
	return BaseName(n.Path)
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	cp := *n
	cp.Properties = n.Properties.Copy()
	return &cp
}

// ChangeType identifies the kind of a staged change.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Change is a single write applied to a Repository. For updates, a nil
// property value removes the property. Deletes remove the whole subtree.
type Change struct {
	Type       ChangeType
	Path       string
	NodeID     uuid.UUID
	Properties Properties
	At         time.Time
}

// ResourceMetadata carries derived, queryable information about a resource.
type ResourceMetadata struct {
	ContentType      string
	ContentLength    int64
	CreationTime     time.Time
	ModificationTime time.Time
}

// Resource is an addressable node of the tree as seen through a resolver.
type Resource struct {
	Path       string
	Name       string
	Properties Properties
	Metadata   ResourceMetadata

	resolver ResourceResolver
}

// Resolver returns the session the resource was resolved from.
func (r *Resource) Resolver() ResourceResolver {
	return r.resolver
}

// ResourceType returns the primary type of the resource.
func (r *Resource) ResourceType() string {
	if t, ok := r.Properties.GetString(PropPrimaryType); ok && t != "" {
		return t
	}
	return TypeUnstructured
}

// Open returns the binary payload of a file or resource node.
func (r *Resource) Open(ctx context.Context) (io.ReadCloser, error) {
	if r.resolver == nil {
		return nil, newResourceError("open", r.Path, ErrIllegalState)
	}
	target := r
	if r.ResourceType() == TypeFile {
		child, err := r.resolver.GetResource(ctx, JoinPath(r.Path, ContentNodeName))
		if err != nil {
			return nil, err
		}
		target = child
	}
	b, ok := target.Properties.GetBinary(PropData)
	if !ok {
		return nil, newResourceError("open", r.Path, fmt.Errorf("%w: no binary payload", ErrNotFound))
	}
	return r.resolver.OpenBinary(ctx, b)
}
