package resourcebuilder_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	rb "github.com/tendant/resource-builder/pkg/resourcebuilder"
	"github.com/tendant/resource-builder/pkg/resourcebuilder/objectkey"
	"github.com/tendant/resource-builder/pkg/resourcebuilder/repo/memory"
)

// faultyRepository wraps a repository and injects errors
type faultyRepository struct {
	rb.Repository
	getErr   error
	applyErr error
}

func (r *faultyRepository) GetNode(ctx context.Context, path string) (*rb.Node, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.Repository.GetNode(ctx, path)
}

func (r *faultyRepository) Apply(ctx context.Context, changes []rb.Change) error {
	if r.applyErr != nil {
		return r.applyErr
	}
	return r.Repository.Apply(ctx, changes)
}

// recordingSink keeps every event it receives
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) ResourceAdded(ctx context.Context, path string) error {
	return s.record("added " + path)
}

func (s *recordingSink) ResourceChanged(ctx context.Context, path string, properties []string) error {
	return s.record(fmt.Sprintf("changed %s %s", path, strings.Join(properties, ",")))
}

func (s *recordingSink) ResourceRemoved(ctx context.Context, path string) error {
	return s.record("removed " + path)
}

func (s *recordingSink) record(event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func getRoot(t *testing.T, session rb.ResourceResolver) *rb.Resource {
	t.Helper()
	root, err := session.GetResource(context.Background(), rb.RootPath)
	require.NoError(t, err)
	return root
}

func TestResolver_SessionIsolation(t *testing.T) {
	resolvers, _ := setupResolvers(t)
	ctx := context.Background()
	writer := resolvers.Open()
	reader := resolvers.Open()

	_, err := writer.Create(ctx, getRoot(t, writer), "a", rb.Properties{"title": "draft"})
	require.NoError(t, err)
	assert.True(t, writer.HasChanges())

	_, err = writer.GetResource(ctx, "/a")
	assert.NoError(t, err)
	_, err = reader.GetResource(ctx, "/a")
	assert.ErrorIs(t, err, rb.ErrNotFound)

	require.NoError(t, writer.Commit(ctx))
	assert.False(t, writer.HasChanges())

	res, err := reader.GetResource(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, "draft", res.Properties["title"])
}

func TestResolver_Revert(t *testing.T) {
	resolvers, _ := setupResolvers(t)
	ctx := context.Background()
	session := resolvers.Open()

	_, err := session.Create(ctx, getRoot(t, session), "gone", nil)
	require.NoError(t, err)

	session.Revert()
	assert.False(t, session.HasChanges())
	_, err = session.GetResource(ctx, "/gone")
	assert.ErrorIs(t, err, rb.ErrNotFound)
	assert.NoError(t, session.Commit(ctx))
}

func TestResolver_CreateErrors(t *testing.T) {
	resolvers, _ := setupResolvers(t)
	ctx := context.Background()
	session := resolvers.Open()
	root := getRoot(t, session)

	_, err := session.Create(ctx, nil, "x", nil)
	assert.ErrorIs(t, err, rb.ErrInvalidArgument)

	_, err = session.Create(ctx, root, "a/b", nil)
	assert.ErrorIs(t, err, rb.ErrInvalidArgument)

	_, err = session.Create(ctx, &rb.Resource{Path: "/missing"}, "x", nil)
	assert.ErrorIs(t, err, rb.ErrNotFound)

	_, err = session.Create(ctx, root, "dup", nil)
	require.NoError(t, err)
	_, err = session.Create(ctx, root, "dup", nil)
	assert.ErrorIs(t, err, rb.ErrConflict)

	err = session.Delete(ctx, root)
	assert.ErrorIs(t, err, rb.ErrInvalidArgument)
}

func TestResolver_ListChildrenOverlaysPendingWrites(t *testing.T) {
	resolvers, _ := setupResolvers(t)
	ctx := context.Background()

	setup := resolvers.Open()
	p, err := setup.Create(ctx, getRoot(t, setup), "p", nil)
	require.NoError(t, err)
	_, err = setup.Create(ctx, p, "x", nil)
	require.NoError(t, err)
	require.NoError(t, setup.Commit(ctx))

	session := resolvers.Open()
	p, err = session.GetResource(ctx, "/p")
	require.NoError(t, err)
	_, err = session.Create(ctx, p, "y", nil)
	require.NoError(t, err)
	x, err := session.GetResource(ctx, "/p/x")
	require.NoError(t, err)
	require.NoError(t, session.Delete(ctx, x))

	children, err := session.ListChildren(ctx, p)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "/p/y", children[0].Path)
}

func TestResolver_CommitFailureKeepsPendingWrites(t *testing.T) {
	repo := &faultyRepository{Repository: memory.New(), applyErr: errors.New("database unavailable")}
	resolvers, store := setupResolvers(t, rb.WithRepository(repo))
	ctx := context.Background()

	b, err := rb.NewFactory(nil).ForResolver(ctx, resolvers.Open())
	require.NoError(t, err)

	err = b.Resource("docs").File("a.txt", strings.NewReader("payload")).Commit()
	assert.ErrorIs(t, err, rb.ErrPersistence)
	assert.Equal(t, 0, store.Len(), "uploaded blobs are removed again")
	assert.True(t, b.Resolver().HasChanges())

	repo.applyErr = nil
	require.NoError(t, b.Resolver().Commit(ctx))
	assert.Equal(t, 1, store.Len())

	file, err := resolvers.Open().GetResource(ctx, "/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", readContent(t, file))
}

func TestResolver_DeleteRemovesBlobs(t *testing.T) {
	resolvers, store := setupResolvers(t)
	ctx := context.Background()

	b, err := rb.NewFactory(nil).ForResolver(ctx, resolvers.Open())
	require.NoError(t, err)
	require.NoError(t, b.Resource("docs").
		File("a.txt", strings.NewReader("a")).
		Resource("nested").
		File("b.txt", strings.NewReader("b")).
		Commit())
	require.Equal(t, 2, store.Len())

	session := resolvers.Open()
	docs, err := session.GetResource(ctx, "/docs")
	require.NoError(t, err)
	require.NoError(t, session.Delete(ctx, docs))
	assert.Equal(t, 2, store.Len(), "blobs stay until commit")

	require.NoError(t, session.Commit(ctx))
	assert.Equal(t, 0, store.Len())

	_, err = resolvers.Open().GetResource(ctx, "/docs/nested/b.txt")
	assert.ErrorIs(t, err, rb.ErrNotFound)
}

func TestResolver_ReplacingBinaryDeletesOldBlob(t *testing.T) {
	resolvers, store := setupResolvers(t)
	ctx := context.Background()

	b, err := rb.NewFactory(nil).ForResolver(ctx, resolvers.Open())
	require.NoError(t, err)
	require.NoError(t, b.File("a.txt", strings.NewReader("old")).Commit())

	session := resolvers.Open()
	content, err := session.GetResource(ctx, "/a.txt/"+rb.ContentNodeName)
	require.NoError(t, err)
	old, ok := content.Properties.GetBinary(rb.PropData)
	require.True(t, ok)

	_, err = session.SetProperties(ctx, content, rb.Properties{rb.PropData: []byte("new")})
	require.NoError(t, err)
	require.NoError(t, session.Commit(ctx))

	assert.Equal(t, 1, store.Len())
	_, err = store.GetObjectMeta(ctx, old.Key)
	assert.ErrorIs(t, err, rb.ErrNotFound)

	file, err := resolvers.Open().GetResource(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "new", readContent(t, file))
	assert.Equal(t, int64(3), file.Metadata.ContentLength)
}

func TestResolver_RewritingSameBinaryKeepsBlob(t *testing.T) {
	resolvers, store := setupResolvers(t)
	ctx := context.Background()

	b, err := rb.NewFactory(nil).ForResolver(ctx, resolvers.Open())
	require.NoError(t, err)
	require.NoError(t, b.File("a.txt", strings.NewReader("hello")).Commit())

	session := resolvers.Open()
	content, err := session.GetResource(ctx, "/a.txt/"+rb.ContentNodeName)
	require.NoError(t, err)
	_, err = session.SetProperties(ctx, content, content.Properties)
	require.NoError(t, err)
	require.NoError(t, session.Commit(ctx))

	assert.Equal(t, 1, store.Len())
	file, err := resolvers.Open().GetResource(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", readContent(t, file))
}

func TestResolver_ReplacedBinaryKeepsMimeType(t *testing.T) {
	resolvers, store := setupResolvers(t)
	ctx := context.Background()

	b, err := rb.NewFactory(nil).ForResolver(ctx, resolvers.Open())
	require.NoError(t, err)
	require.NoError(t, b.File("notes", strings.NewReader("old"), rb.WithMimeType("text/plain")).Commit())

	session := resolvers.Open()
	content, err := session.GetResource(ctx, "/notes/"+rb.ContentNodeName)
	require.NoError(t, err)
	_, err = session.SetProperties(ctx, content, rb.Properties{rb.PropData: []byte("new")})
	require.NoError(t, err)
	require.NoError(t, session.Commit(ctx))

	content, err = resolvers.Open().GetResource(ctx, "/notes/"+rb.ContentNodeName)
	require.NoError(t, err)
	data, ok := content.Properties.GetBinary(rb.PropData)
	require.True(t, ok)
	meta, err := store.GetObjectMeta(ctx, data.Key)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", meta.ContentType)
}

func TestResolver_PendingSubtree(t *testing.T) {
	t.Run("list children", func(t *testing.T) {
		resolvers, _ := setupResolvers(t)
		ctx := context.Background()
		session := resolvers.Open()

		a, err := session.Create(ctx, getRoot(t, session), "a", nil)
		require.NoError(t, err)
		_, err = session.Create(ctx, a, "b", nil)
		require.NoError(t, err)
		_, err = session.Create(ctx, a, "c", nil)
		require.NoError(t, err)

		children, err := session.ListChildren(ctx, a)
		require.NoError(t, err)
		require.Len(t, children, 2)
		assert.Equal(t, "b", children[0].Name)
		assert.Equal(t, "c", children[1].Name)
	})

	t.Run("delete uploads nothing", func(t *testing.T) {
		resolvers, store := setupResolvers(t)
		ctx := context.Background()
		session := resolvers.Open()

		b, err := rb.NewFactory(nil).ForResolver(ctx, session)
		require.NoError(t, err)
		require.NoError(t, b.Resource("x").File("a.txt", strings.NewReader("hello")).Err())

		file, err := session.GetResource(ctx, "/x/a.txt")
		require.NoError(t, err)
		require.NoError(t, session.Delete(ctx, file))
		require.NoError(t, session.Commit(ctx))

		assert.Equal(t, 0, store.Len())
		_, err = resolvers.Open().GetResource(ctx, "/x/a.txt")
		assert.ErrorIs(t, err, rb.ErrNotFound)
		_, err = resolvers.Open().GetResource(ctx, "/x")
		assert.NoError(t, err)
	})
}

func TestResolver_NotifiesEventSink(t *testing.T) {
	sink := &recordingSink{}
	resolvers, _ := setupResolvers(t, rb.WithEventSink(sink))
	ctx := context.Background()
	session := resolvers.Open()

	a, err := session.Create(ctx, getRoot(t, session), "a", nil)
	require.NoError(t, err)
	_, err = session.SetProperties(ctx, a, rb.Properties{"title": "t", "count": 1})
	require.NoError(t, err)
	assert.Empty(t, sink.events)

	require.NoError(t, session.Commit(ctx))

	a, err = session.GetResource(ctx, "/a")
	require.NoError(t, err)
	require.NoError(t, session.Delete(ctx, a))
	require.NoError(t, session.Commit(ctx))

	assert.Equal(t, []string{
		"added /a",
		"changed /a count,title",
		"removed /a",
	}, sink.events)
}

func TestResolver_FailedCommitSendsNoEvents(t *testing.T) {
	sink := &recordingSink{}
	repo := &faultyRepository{Repository: memory.New(), applyErr: errors.New("boom")}
	resolvers, _ := setupResolvers(t, rb.WithRepository(repo), rb.WithEventSink(sink))
	ctx := context.Background()
	session := resolvers.Open()

	_, err := session.Create(ctx, getRoot(t, session), "a", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, session.Commit(ctx), rb.ErrPersistence)
	assert.Empty(t, sink.events)
}

func TestResolver_UsesKeyGenerator(t *testing.T) {
	resolvers, store := setupResolvers(t, rb.WithKeyGenerator(objectkey.NewLegacyGenerator()))
	ctx := context.Background()

	b, err := rb.NewFactory(nil).ForResolver(ctx, resolvers.Open())
	require.NoError(t, err)
	require.NoError(t, b.File("report.pdf", strings.NewReader("%PDF")).Commit())

	content, err := resolvers.Open().GetResource(ctx, "/report.pdf/"+rb.ContentNodeName)
	require.NoError(t, err)
	data, ok := content.Properties.GetBinary(rb.PropData)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(data.Key, "R/"), data.Key)
	assert.True(t, strings.HasSuffix(data.Key, "/report.pdf"), data.Key)
	assert.Equal(t, 1, store.Len())
}
