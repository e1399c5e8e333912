package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	rb "github.com/tendant/resource-builder/pkg/resourcebuilder"
)

// Repository implements resourcebuilder.Repository using in-memory storage
type Repository struct {
	mu    sync.RWMutex
	nodes map[string]*rb.Node // path -> node, never mutated once stored
}

// New creates a new in-memory repository holding only the root node
func New() rb.Repository {
	now := time.Now().UTC()
	return &Repository{
		nodes: map[string]*rb.Node{
			rb.RootPath: {
				ID:         uuid.New(),
				Path:       rb.RootPath,
				Properties: rb.Properties{},
				CreatedAt:  now,
				UpdatedAt:  now,
			},
		},
	}
}

func (r *Repository) GetNode(ctx context.Context, path string) (*rb.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, exists := r.nodes[path]
	if !exists {
		return nil, rb.ErrNotFound
	}
	// Return a copy to prevent external modifications
	return n.Clone(), nil
}

func (r *Repository) ListChildren(ctx context.Context, path string) ([]*rb.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.nodes[path]; !exists {
		return nil, rb.ErrNotFound
	}
	var children []*rb.Node
	for p, n := range r.nodes {
		if p != rb.RootPath && rb.ParentPath(p) == path {
			children = append(children, n.Clone())
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Path < children[j].Path })
	return children, nil
}

// Apply applies changes to a copy of the tree and swaps it in only when all
// of them succeeded.
func (r *Repository) Apply(ctx context.Context, changes []rb.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := maps.Clone(r.nodes)
	for _, c := range changes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := apply(next, c); err != nil {
			return fmt.Errorf("%s %s: %w", c.Type, c.Path, err)
		}
	}
	r.nodes = next
	return nil
}

func apply(nodes map[string]*rb.Node, c rb.Change) error {
	switch c.Type {
	case rb.ChangeCreate:
		if _, exists := nodes[c.Path]; exists {
			return rb.ErrConflict
		}
		if c.Path == rb.RootPath {
			return rb.ErrConflict
		}
		if _, exists := nodes[rb.ParentPath(c.Path)]; !exists {
			return fmt.Errorf("parent: %w", rb.ErrNotFound)
		}
		props := rb.Properties{}
		for k, v := range c.Properties {
			if v != nil {
				props[k] = v
			}
		}
		nodes[c.Path] = &rb.Node{
			ID:         c.NodeID,
			Path:       c.Path,
			Properties: props.Copy(),
			CreatedAt:  c.At,
			UpdatedAt:  c.At,
		}

	case rb.ChangeUpdate:
		current, exists := nodes[c.Path]
		if !exists {
			return rb.ErrNotFound
		}
		updated := current.Clone()
		for k, v := range c.Properties {
			if v == nil {
				delete(updated.Properties, k)
				continue
			}
			updated.Properties[k] = v
		}
		updated.Properties = updated.Properties.Copy()
		updated.UpdatedAt = c.At
		nodes[c.Path] = updated

	case rb.ChangeDelete:
		if _, exists := nodes[c.Path]; !exists {
			return rb.ErrNotFound
		}
		if c.Path == rb.RootPath {
			return fmt.Errorf("%w: the root cannot be deleted", rb.ErrInvalidArgument)
		}
		for p := range nodes {
			if rb.IsAncestor(c.Path, p) {
				delete(nodes, p)
			}
		}

	default:
		return fmt.Errorf("%w: unknown change type %q", rb.ErrInvalidArgument, c.Type)
	}
	return nil
}
