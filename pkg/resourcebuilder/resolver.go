package resourcebuilder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/resource-builder/pkg/resourcebuilder/objectkey"
)

// ResolverFactory opens resolver sessions over a shared repository and blob store.
type ResolverFactory struct {
	repository Repository
	blobStore  BlobStore
	keys       objectkey.Generator
	eventSink  EventSink
	logger     *slog.Logger
}

// Option represents a functional option for configuring the resolver factory
type Option func(*ResolverFactory)

// WithRepository sets the node repository
func WithRepository(repo Repository) Option {
	return func(f *ResolverFactory) {
		f.repository = repo
	}
}

// WithBlobStore sets the storage backend for binary payloads
func WithBlobStore(store BlobStore) Option {
	return func(f *ResolverFactory) {
		f.blobStore = store
	}
}

// WithKeyGenerator sets the object key strategy for binary payloads
func WithKeyGenerator(gen objectkey.Generator) Option {
	return func(f *ResolverFactory) {
		f.keys = gen
	}
}

// WithEventSink sets the sink notified after successful commits
func WithEventSink(sink EventSink) Option {
	return func(f *ResolverFactory) {
		f.eventSink = sink
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(f *ResolverFactory) {
		f.logger = logger
	}
}

// NewResolverFactory creates a resolver factory with the given options
func NewResolverFactory(options ...Option) (*ResolverFactory, error) {
	f := &ResolverFactory{}
	for _, option := range options {
		option(f)
	}

	if f.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if f.keys == nil {
		f.keys = objectkey.NewRecommendedGenerator()
	}
	if f.eventSink == nil {
		f.eventSink = NewNoopEventSink()
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f, nil
}

// Open starts a new session.
func (f *ResolverFactory) Open() ResourceResolver {
	s := &session{factory: f}
	s.reset()
	return s
}

// session implements ResourceResolver by staging writes over the repository
type session struct {
	factory *ResolverFactory

	// staged holds the current state of every node written in this session
	staged map[string]*Node
	// removed holds roots of subtrees deleted in this session
	removed map[string]bool
	changes []Change
	// obsolete holds blob keys to delete once the commit succeeded
	obsolete []string
}

func (s *session) reset() {
	s.staged = make(map[string]*Node)
	s.removed = make(map[string]bool)
	s.changes = nil
	s.obsolete = nil
}

func (s *session) isRemoved(path string) bool {
	for p := path; ; p = ParentPath(p) {
		if s.removed[p] {
			return true
		}
		if p == RootPath {
			return false
		}
	}
}

// node returns the session view of the node at path.
func (s *session) node(ctx context.Context, path string) (*Node, error) {
	if n, ok := s.staged[path]; ok {
		return n, nil
	}
	if s.isRemoved(path) {
		return nil, ErrNotFound
	}
	return s.factory.repository.GetNode(ctx, path)
}

func (s *session) GetResource(ctx context.Context, path string) (*Resource, error) {
	n, err := s.node(ctx, path)
	if err != nil {
		return nil, newResourceError("get", path, err)
	}
	return s.toResource(ctx, n), nil
}

func (s *session) ListChildren(ctx context.Context, parent *Resource) ([]*Resource, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: parent is nil", ErrInvalidArgument)
	}
	byPath := make(map[string]*Node)
	if !s.isRemoved(parent.Path) {
		persisted, err := s.factory.repository.ListChildren(ctx, parent.Path)
		if err != nil {
			// a parent created in this session has no persisted children yet
			if _, pending := s.staged[parent.Path]; !pending || !errors.Is(err, ErrNotFound) {
				return nil, newResourceError("list", parent.Path, err)
			}
		}
		for _, n := range persisted {
			if !s.isRemoved(n.Path) {
				byPath[n.Path] = n
			}
		}
	}
	for p, n := range s.staged {
		if p != RootPath && ParentPath(p) == parent.Path {
			byPath[p] = n
		}
	}

	out := make([]*Resource, 0, len(byPath))
	for _, n := range byPath {
		out = append(out, s.toResource(ctx, n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *session) Create(ctx context.Context, parent *Resource, name string, props Properties) (*Resource, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: parent is nil", ErrInvalidArgument)
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	path := JoinPath(parent.Path, name)
	if _, err := s.node(ctx, parent.Path); err != nil {
		return nil, newResourceError("create", path, fmt.Errorf("parent: %w", err))
	}
	_, err := s.node(ctx, path)
	switch {
	case err == nil:
		return nil, newResourceError("create", path, ErrConflict)
	case !errors.Is(err, ErrNotFound):
		return nil, newResourceError("create", path, err)
	}

	normalized, err := normalize(props)
	if err != nil {
		return nil, newResourceError("create", path, err)
	}
	for name, v := range normalized {
		if v == nil {
			delete(normalized, name)
		}
	}
	now := time.Now().UTC()
	n := &Node{
		ID:         uuid.New(),
		Path:       path,
		Properties: normalized,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.staged[path] = n
	s.changes = append(s.changes, Change{
		Type:       ChangeCreate,
		Path:       path,
		NodeID:     n.ID,
		Properties: normalized.Copy(),
		At:         now,
	})
	return s.toResource(ctx, n), nil
}

func (s *session) SetProperties(ctx context.Context, res *Resource, props Properties) (*Resource, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: resource is nil", ErrInvalidArgument)
	}
	current, err := s.node(ctx, res.Path)
	if err != nil {
		return nil, newResourceError("set", res.Path, err)
	}
	normalized, err := normalize(props)
	if err != nil {
		return nil, newResourceError("set", res.Path, err)
	}
	if len(normalized) == 0 {
		return s.toResource(ctx, current), nil
	}

	now := time.Now().UTC()
	updated := current.Clone()
	for name, v := range normalized {
		if old, ok := updated.Properties.GetBinary(name); ok && !old.Staged() {
			if b, same := v.(Binary); !same || b.Key != old.Key {
				s.obsolete = append(s.obsolete, old.Key)
			}
		}
		if v == nil {
			delete(updated.Properties, name)
			continue
		}
		updated.Properties[name] = v
	}
	updated.UpdatedAt = now
	s.staged[res.Path] = updated
	s.changes = append(s.changes, Change{
		Type:       ChangeUpdate,
		Path:       res.Path,
		Properties: normalized.Copy(),
		At:         now,
	})
	return s.toResource(ctx, updated), nil
}

func (s *session) Delete(ctx context.Context, res *Resource) error {
	if res == nil {
		return fmt.Errorf("%w: resource is nil", ErrInvalidArgument)
	}
	if res.Path == RootPath {
		return newResourceError("delete", res.Path, fmt.Errorf("%w: the root cannot be deleted", ErrInvalidArgument))
	}
	if _, err := s.node(ctx, res.Path); err != nil {
		return newResourceError("delete", res.Path, err)
	}
	keys, err := s.binaryKeys(ctx, res.Path)
	if err != nil {
		return newResourceError("delete", res.Path, err)
	}

	for p := range s.staged {
		if IsAncestor(res.Path, p) {
			delete(s.staged, p)
		}
	}
	// pending payloads below the deleted path are never uploaded
	for _, c := range s.changes {
		if c.Type == ChangeDelete || !IsAncestor(res.Path, c.Path) {
			continue
		}
		for name, v := range c.Properties {
			if b, ok := v.(Binary); ok && b.Staged() {
				delete(c.Properties, name)
			}
		}
	}
	s.removed[res.Path] = true
	s.obsolete = append(s.obsolete, keys...)
	s.changes = append(s.changes, Change{Type: ChangeDelete, Path: res.Path, At: time.Now().UTC()})
	return nil
}

// binaryKeys collects the persisted blob keys referenced in a subtree.
func (s *session) binaryKeys(ctx context.Context, path string) ([]string, error) {
	n, err := s.node(ctx, path)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, v := range n.Properties {
		if b, ok := v.(Binary); ok && !b.Staged() {
			keys = append(keys, b.Key)
		}
	}
	children, err := s.ListChildren(ctx, &Resource{Path: path})
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		sub, err := s.binaryKeys(ctx, c.Path)
		if err != nil {
			return nil, err
		}
		keys = append(keys, sub...)
	}
	return keys, nil
}

func (s *session) OpenBinary(ctx context.Context, b Binary) (io.ReadCloser, error) {
	if b.Staged() {
		return io.NopCloser(bytes.NewReader(b.data)), nil
	}
	if s.factory.blobStore == nil {
		return nil, fmt.Errorf("%w: no blob store configured", ErrIllegalState)
	}
	rc, err := s.factory.blobStore.Download(ctx, b.Key)
	if err != nil {
		return nil, &StorageError{Key: b.Key, Op: "download", Err: err}
	}
	return rc, nil
}

func (s *session) HasChanges() bool {
	return len(s.changes) > 0
}

func (s *session) Revert() {
	s.reset()
}

func (s *session) Commit(ctx context.Context) error {
	if len(s.changes) == 0 {
		return nil
	}
	logger := s.factory.logger

	persisted, uploaded, err := s.uploadBinaries(ctx)
	if err != nil {
		s.deleteBlobs(ctx, uploaded)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := s.factory.repository.Apply(ctx, persisted); err != nil {
		s.deleteBlobs(ctx, uploaded)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	logger.DebugContext(ctx, "committed resource changes", "changes", len(persisted), "binaries", len(uploaded))

	s.deleteBlobs(ctx, s.obsolete)
	s.notify(ctx, persisted)
	s.reset()
	return nil
}

// uploadBinaries stores every staged binary and returns a copy of the change
// log that refers to the stored objects.
func (s *session) uploadBinaries(ctx context.Context) ([]Change, []string, error) {
	var uploaded []string
	persisted := make([]Change, len(s.changes))
	nodeIDs := make(map[string]uuid.UUID)

	for i, c := range s.changes {
		persisted[i] = c
		if c.Type == ChangeCreate {
			nodeIDs[c.Path] = c.NodeID
		}
		if c.Properties == nil {
			continue
		}
		props := c.Properties.Copy()
		for name, v := range props {
			b, ok := v.(Binary)
			if !ok || !b.Staged() {
				continue
			}
			if s.factory.blobStore == nil {
				return nil, uploaded, fmt.Errorf("%w: no blob store configured for %s", ErrIllegalState, c.Path)
			}
			nodeID, ok := nodeIDs[c.Path]
			mimeType, _ := props.GetString(PropMimeType)
			if !ok || mimeType == "" {
				if n, err := s.node(ctx, c.Path); err == nil {
					if !ok {
						nodeID = n.ID
					}
					if mimeType == "" {
						mimeType, _ = n.Properties.GetString(PropMimeType)
					}
				}
			}
			meta := &objectkey.KeyMetadata{Path: c.Path, Property: name, ContentType: mimeType}
			if BaseName(c.Path) == ContentNodeName {
				meta.FileName = BaseName(ParentPath(c.Path))
			}
			key := s.factory.keys.GenerateKey(nodeID, uuid.New(), meta)
			if mimeType == "" {
				mimeType = DefaultMimeType
			}
			err := s.factory.blobStore.UploadWithParams(ctx, bytes.NewReader(b.data), UploadParams{ObjectKey: key, MimeType: mimeType})
			if err != nil {
				return nil, uploaded, &StorageError{Key: key, Op: "upload", Err: err}
			}
			uploaded = append(uploaded, key)
			props[name] = Binary{Key: key, Size: b.Size}
		}
		persisted[i].Properties = props
	}
	return persisted, uploaded, nil
}

func (s *session) deleteBlobs(ctx context.Context, keys []string) {
	if s.factory.blobStore == nil {
		return
	}
	for _, key := range keys {
		if err := s.factory.blobStore.Delete(ctx, key); err != nil {
			s.factory.logger.WarnContext(ctx, "failed to delete blob", "key", key, "error", err)
		}
	}
}

func (s *session) notify(ctx context.Context, changes []Change) {
	sink := s.factory.eventSink
	for _, c := range changes {
		var err error
		switch c.Type {
		case ChangeCreate:
			err = sink.ResourceAdded(ctx, c.Path)
		case ChangeUpdate:
			names := make([]string, 0, len(c.Properties))
			for name := range c.Properties {
				names = append(names, name)
			}
			sort.Strings(names)
			err = sink.ResourceChanged(ctx, c.Path, names)
		case ChangeDelete:
			err = sink.ResourceRemoved(ctx, c.Path)
		}
		if err != nil {
			s.factory.logger.WarnContext(ctx, "event sink failed", "path", c.Path, "change", c.Type, "error", err)
		}
	}
}

func (s *session) toResource(ctx context.Context, n *Node) *Resource {
	res := &Resource{
		Path:       n.Path,
		Name:       n.Name(),
		Properties: n.Properties.Copy(),
		Metadata: ResourceMetadata{
			CreationTime:     n.CreatedAt,
			ModificationTime: n.UpdatedAt,
			ContentLength:    -1,
		},
		resolver: s,
	}

	payload := n
	if res.ResourceType() == TypeFile {
		child, err := s.node(ctx, JoinPath(n.Path, ContentNodeName))
		if err != nil {
			return res
		}
		payload = child
	}
	if mimeType, ok := payload.Properties.GetString(PropMimeType); ok {
		res.Metadata.ContentType = mimeType
	}
	if t, ok := payload.Properties.GetTime(PropLastModified); ok {
		res.Metadata.ModificationTime = t
	}
	if b, ok := payload.Properties.GetBinary(PropData); ok {
		res.Metadata.ContentLength = b.Size
	}
	return res
}

// normalize validates props and stages raw byte slices as binaries.
func normalize(props Properties) (Properties, error) {
	out := make(Properties, len(props))
	for name, v := range props {
		if name == "" {
			return nil, fmt.Errorf("%w: empty property name", ErrInvalidArgument)
		}
		if err := ValidateValue(v); err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		if raw, ok := v.([]byte); ok {
			v = NewBinary(append([]byte(nil), raw...))
		}
		out[name] = copyValue(v)
	}
	return out, nil
}
