package scan

import (
	"context"

	rb "github.com/tendant/resource-builder/pkg/resourcebuilder"
)

// ResourceProcessor processes individual resources found during a scan.
// depth is the distance from the scan root, which has depth 0.
//
// Return an error to mark the resource as failed; the scan continues with
// the next resource.
type ResourceProcessor interface {
	Process(ctx context.Context, res *rb.Resource, depth int) error
}

// ProcessorFunc adapts a function to the ResourceProcessor interface.
type ProcessorFunc func(ctx context.Context, res *rb.Resource, depth int) error

func (f ProcessorFunc) Process(ctx context.Context, res *rb.Resource, depth int) error {
	return f(ctx, res, depth)
}
