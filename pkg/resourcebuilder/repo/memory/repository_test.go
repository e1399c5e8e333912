package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	rb "github.com/tendant/resource-builder/pkg/resourcebuilder"
	"github.com/tendant/resource-builder/pkg/resourcebuilder/repo/memory"
)

func create(path string, props rb.Properties) rb.Change {
	return rb.Change{Type: rb.ChangeCreate, Path: path, NodeID: uuid.New(), Properties: props, At: time.Now().UTC()}
}

func TestMemoryRepository_Root(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	root, err := repo.GetNode(ctx, rb.RootPath)
	require.NoError(t, err)
	assert.Equal(t, rb.RootPath, root.Path)
	assert.NotEqual(t, uuid.Nil, root.ID)

	children, err := repo.ListChildren(ctx, rb.RootPath)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestMemoryRepository_Apply(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	t.Run("Create", func(t *testing.T) {
		err := repo.Apply(ctx, []rb.Change{
			create("/a", nil),
			create("/a/b", rb.Properties{"title": "B"}),
			create("/a/c", nil),
		})
		require.NoError(t, err)

		n, err := repo.GetNode(ctx, "/a/b")
		require.NoError(t, err)
		assert.Equal(t, "B", n.Properties["title"])

		children, err := repo.ListChildren(ctx, "/a")
		require.NoError(t, err)
		require.Len(t, children, 2)
		assert.Equal(t, "/a/b", children[0].Path)
		assert.Equal(t, "/a/c", children[1].Path)
	})

	t.Run("Update merges and removes", func(t *testing.T) {
		err := repo.Apply(ctx, []rb.Change{{
			Type:       rb.ChangeUpdate,
			Path:       "/a/b",
			Properties: rb.Properties{"title": nil, "count": int64(3)},
			At:         time.Now().UTC(),
		}})
		require.NoError(t, err)

		n, err := repo.GetNode(ctx, "/a/b")
		require.NoError(t, err)
		assert.NotContains(t, n.Properties, "title")
		assert.Equal(t, int64(3), n.Properties["count"])
	})

	t.Run("Create existing conflicts", func(t *testing.T) {
		err := repo.Apply(ctx, []rb.Change{create("/a", nil)})
		assert.ErrorIs(t, err, rb.ErrConflict)
	})

	t.Run("Create without parent fails", func(t *testing.T) {
		err := repo.Apply(ctx, []rb.Change{create("/x/y", nil)})
		assert.ErrorIs(t, err, rb.ErrNotFound)
	})

	t.Run("Delete removes subtree", func(t *testing.T) {
		err := repo.Apply(ctx, []rb.Change{{Type: rb.ChangeDelete, Path: "/a", At: time.Now().UTC()}})
		require.NoError(t, err)

		_, err = repo.GetNode(ctx, "/a")
		assert.ErrorIs(t, err, rb.ErrNotFound)
		_, err = repo.GetNode(ctx, "/a/b")
		assert.ErrorIs(t, err, rb.ErrNotFound)
	})

	t.Run("Delete root is rejected", func(t *testing.T) {
		err := repo.Apply(ctx, []rb.Change{{Type: rb.ChangeDelete, Path: rb.RootPath}})
		assert.ErrorIs(t, err, rb.ErrInvalidArgument)
		_, err = repo.GetNode(ctx, rb.RootPath)
		assert.NoError(t, err)
	})
}

func TestMemoryRepository_ApplyIsAtomic(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	err := repo.Apply(ctx, []rb.Change{
		create("/ok", nil),
		create("/missing/child", nil),
	})
	require.Error(t, err)

	_, err = repo.GetNode(ctx, "/ok")
	assert.ErrorIs(t, err, rb.ErrNotFound)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	require.NoError(t, repo.Apply(ctx, []rb.Change{create("/n", rb.Properties{"k": "v"})}))

	n, err := repo.GetNode(ctx, "/n")
	require.NoError(t, err)
	n.Properties["k"] = "changed"

	again, err := repo.GetNode(ctx, "/n")
	require.NoError(t, err)
	assert.Equal(t, "v", again.Properties["k"])
}
