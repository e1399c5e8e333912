package scan

import (
	"context"
	"fmt"

	rb "github.com/tendant/resource-builder/pkg/resourcebuilder"
)

// Scanner walks a resource tree and processes each resource with the provided processor.
type Scanner struct {
	resolver rb.ResourceResolver
}

// New creates a new Scanner reading through resolver.
func New(resolver rb.ResourceResolver) *Scanner {
	return &Scanner{resolver: resolver}
}

// ScanOptions configures the scan operation.
type ScanOptions struct {
	// Root is the path the walk starts at (default: "/")
	Root string

	// Processor defines the processing logic (required unless DryRun is true)
	Processor ResourceProcessor

	// MaxDepth limits how far below Root the walk descends. Zero means no limit.
	MaxDepth int

	// SkipContent leaves out the content child of file resources
	SkipContent bool

	// DryRun if true, doesn't process resources, just counts what would be processed
	DryRun bool

	// OnProgress is called after each resource is handled (optional)
	OnProgress func(processed, found int64)
}

// ScanResult contains statistics about the scan operation.
type ScanResult struct {
	// TotalFound is the number of resources visited
	TotalFound int64

	// TotalProcessed is the number of resources successfully processed
	TotalProcessed int64

	// TotalFailed is the number of resources that failed processing
	TotalFailed int64

	// FailedPaths contains the paths of resources that failed processing
	FailedPaths []string
}

// Scan visits Root and its descendants depth first, parents before children
// and siblings in name order. A resource that fails processing is recorded
// and the walk continues; failing to read the tree aborts it.
func (s *Scanner) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	result := &ScanResult{}

	if !opts.DryRun && opts.Processor == nil {
		return result, fmt.Errorf("%w: processor is required when DryRun is false", rb.ErrInvalidArgument)
	}
	if opts.Root == "" {
		opts.Root = rb.RootPath
	}

	root, err := s.resolver.GetResource(ctx, opts.Root)
	if err != nil {
		return result, fmt.Errorf("failed to read scan root: %w", err)
	}
	return result, s.walk(ctx, root, 0, opts, result)
}

func (s *Scanner) walk(ctx context.Context, res *rb.Resource, depth int, opts ScanOptions, result *ScanResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	result.TotalFound++
	if opts.DryRun {
		result.TotalProcessed++
	} else if err := opts.Processor.Process(ctx, res, depth); err != nil {
		result.TotalFailed++
		result.FailedPaths = append(result.FailedPaths, res.Path)
	} else {
		result.TotalProcessed++
	}
	if opts.OnProgress != nil {
		opts.OnProgress(result.TotalProcessed+result.TotalFailed, result.TotalFound)
	}

	if opts.MaxDepth > 0 && depth >= opts.MaxDepth {
		return nil
	}
	if opts.SkipContent && res.ResourceType() == rb.TypeFile {
		return nil
	}

	children, err := s.resolver.ListChildren(ctx, res)
	if err != nil {
		return fmt.Errorf("failed to list children of %s: %w", res.Path, err)
	}
	for _, child := range children {
		if err := s.walk(ctx, child, depth+1, opts, result); err != nil {
			return err
		}
	}
	return nil
}

// ForEach is a convenience method that processes each resource below root with a callback function.
//
// Example:
//
//	scanner.ForEach(ctx, "/content", func(ctx context.Context, res *rb.Resource, depth int) error {
//	    fmt.Printf("%s\n", res.Path)
//	    return nil
//	})
func (s *Scanner) ForEach(ctx context.Context, root string, fn func(context.Context, *rb.Resource, int) error) (*ScanResult, error) {
	return s.Scan(ctx, ScanOptions{
		Root:      root,
		Processor: ProcessorFunc(fn),
	})
}
