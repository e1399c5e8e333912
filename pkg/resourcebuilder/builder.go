package resourcebuilder

import (
	"context"
	"errors"
	"fmt"
)

// Builder creates resources below a parent resource. Each call works against
// the current resource (the cursor) and stages its writes in the bound
// resolver; Commit persists them.
//
// The first error is recorded and turns every later call into a no-op. It is
// reported by Err and returned by Commit. A Builder is not safe for
// concurrent use.
type Builder struct {
	ctx       context.Context
	resolver  ResourceResolver
	mimeTypes MimeTypeService

	parent  *Resource
	current *Resource

	intermediateType string
	err              error
}

func newBuilder(ctx context.Context, parent *Resource, mimeTypes MimeTypeService) *Builder {
	return &Builder{
		ctx:       ctx,
		resolver:  parent.Resolver(),
		mimeTypes: mimeTypes,
		parent:    parent,
		current:   parent,
	}
}

// Resource creates the resource at path, relative to the current resource,
// or relative to the builder's parent when path starts with "/". Missing
// intermediate resources are created without properties; args, alternating
// names and values, are set on the last one, which becomes the current
// resource.
func (b *Builder) Resource(path string, args ...interface{}) *Builder {
	if b.err != nil {
		return b
	}
	props, err := PropertiesFromArgs(args...)
	if err != nil {
		return b.fail(newResourceError("resource", path, err))
	}
	segments, anchored, err := splitPath(path)
	if err != nil {
		return b.fail(newResourceError("resource", path, err))
	}

	cur := b.current
	if anchored {
		cur = b.parent
	}
	for i, name := range segments {
		leaf := i == len(segments)-1
		next, err := b.ensure(cur, name, leaf, props)
		if err != nil {
			return b.fail(err)
		}
		cur = next
	}
	b.current = cur
	return b
}

// ensure returns the child name of parent, creating it when missing.
func (b *Builder) ensure(parent *Resource, name string, leaf bool, props Properties) (*Resource, error) {
	path := JoinPath(parent.Path, name)
	existing, err := b.resolver.GetResource(b.ctx, path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing == nil {
		var initial Properties
		switch {
		case leaf:
			initial = props
		case b.intermediateType != "":
			initial = Properties{PropPrimaryType: b.intermediateType}
		}
		return b.resolver.Create(b.ctx, parent, name, initial)
	}

	if !leaf {
		return existing, nil
	}
	if want, ok := props.GetString(PropPrimaryType); ok && want != existing.ResourceType() {
		return nil, newResourceError("resource", path,
			fmt.Errorf("%w: exists with type %s, requested %s", ErrConflict, existing.ResourceType(), want))
	}
	if len(props) == 0 {
		return existing, nil
	}
	return b.resolver.SetProperties(b.ctx, existing, props)
}

// WithProperties sets properties on the current resource.
func (b *Builder) WithProperties(args ...interface{}) *Builder {
	if b.err != nil {
		return b
	}
	props, err := PropertiesFromArgs(args...)
	if err != nil {
		return b.fail(newResourceError("properties", b.current.Path, err))
	}
	current, err := b.resolver.GetResource(b.ctx, b.current.Path)
	if err != nil {
		return b.fail(err)
	}
	updated, err := b.resolver.SetProperties(b.ctx, current, props)
	if err != nil {
		return b.fail(err)
	}
	b.current = updated
	return b
}

// SiblingResource moves to the parent of the current resource and creates
// path there, as Resource does.
func (b *Builder) SiblingResource(path string, args ...interface{}) *Builder {
	if b.err != nil {
		return b
	}
	if b.current.Path == b.parent.Path {
		return b.fail(newResourceError("sibling", b.current.Path,
			fmt.Errorf("%w: cannot move above the builder's parent", ErrIllegalState)))
	}
	up, err := b.resolver.GetResource(b.ctx, ParentPath(b.current.Path))
	if err != nil {
		return b.fail(err)
	}
	b.current = up
	return b.Resource(path, args...)
}

// AtParent moves back to the builder's parent.
func (b *Builder) AtParent() *Builder {
	if b.err != nil {
		return b
	}
	b.current = b.parent
	return b
}

// WithIntermediatePrimaryType sets the primary type given to intermediate
// resources created by later Resource calls. An empty type resets it.
func (b *Builder) WithIntermediatePrimaryType(primaryType string) *Builder {
	b.intermediateType = primaryType
	return b
}

// Commit persists all writes staged in the resolver. Committing again with
// nothing staged is a no-op.
func (b *Builder) Commit() error {
	if b.err != nil {
		return b.err
	}
	if err := b.resolver.Commit(b.ctx); err != nil {
		if !errors.Is(err, ErrPersistence) {
			err = fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		b.err = err
		return err
	}
	return nil
}

// Err returns the first error recorded by the builder.
func (b *Builder) Err() error {
	return b.err
}

// CurrentParent returns the current resource.
func (b *Builder) CurrentParent() *Resource {
	return b.current
}

// Parent returns the resource the builder was created for.
func (b *Builder) Parent() *Resource {
	return b.parent
}

// Resolver returns the session the builder writes to.
func (b *Builder) Resolver() ResourceResolver {
	return b.resolver
}

func (b *Builder) fail(err error) *Builder {
	b.err = err
	return b
}
