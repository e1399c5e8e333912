package resourcebuilder

import (
	"context"
	"fmt"
)

// Factory hands out builders. It holds no mutable state and may be shared.
type Factory struct {
	mimeTypes MimeTypeService
}

// NewFactory creates a factory whose builders resolve file MIME types with
// mimeTypes. A nil service types every file as DefaultMimeType.
func NewFactory(mimeTypes MimeTypeService) *Factory {
	return &Factory{mimeTypes: mimeTypes}
}

// ForParent returns a builder whose current resource is parent. Writes go to
// the resolver parent was obtained from.
func (f *Factory) ForParent(ctx context.Context, parent *Resource) (*Builder, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: parent is nil", ErrInvalidArgument)
	}
	if parent.Resolver() == nil {
		return nil, fmt.Errorf("%w: parent %s is not bound to a resolver", ErrInvalidArgument, parent.Path)
	}
	return newBuilder(ctx, parent, f.mimeTypes), nil
}

// ForResolver returns a builder for the root resource of r.
func (f *Factory) ForResolver(ctx context.Context, r ResourceResolver) (*Builder, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: resolver is nil", ErrInvalidArgument)
	}
	root, err := r.GetResource(ctx, RootPath)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read root resource: %w", ErrIllegalState, err)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: cannot read root resource", ErrIllegalState)
	}
	return f.ForParent(ctx, root)
}
