package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	rb "github.com/tendant/resource-builder/pkg/resourcebuilder"
	"github.com/tendant/resource-builder/pkg/resourcebuilder/config"
	"github.com/tendant/resource-builder/pkg/resourcebuilder/scan"
)

// Client runs resource operations in-process against the configured stack
type Client struct {
	resolvers *rb.ResolverFactory
	factory   *rb.Factory
	cleanup   func()
}

// NewClientFromFlags loads the configuration from the environment and builds
// a client. Verbose output switches logging to debug.
func NewClientFromFlags(cmd *cobra.Command) (*Client, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")

	opts := []config.Option{config.FromEnv()}
	if verbose {
		opts = append(opts, config.WithLogLevel("debug"), config.WithEventLogging(true))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewClient(cmd.Context(), cfg)
}

// NewClient builds a client from cfg
func NewClient(ctx context.Context, cfg *config.ServerConfig) (*Client, error) {
	logger := cfg.NewLogger(os.Stderr)
	resolvers, cleanup, err := cfg.BuildResolverFactory(ctx, logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		resolvers: resolvers,
		factory:   cfg.BuildFactory(),
		cleanup:   cleanup,
	}, nil
}

// Close releases database connections
func (c *Client) Close() {
	c.cleanup()
}

// Put creates the resource at path, with missing ancestors, and merges props into it
func (c *Client) Put(ctx context.Context, path string, props rb.Properties) (*rb.Resource, error) {
	b, err := c.factory.ForResolver(ctx, c.resolvers.Open())
	if err != nil {
		return nil, err
	}
	rel := relativePath(path)
	if rel == "" {
		b.WithProperties(props)
	} else {
		b.Resource(rel, props)
	}
	if err := b.Commit(); err != nil {
		return nil, err
	}
	return c.Get(ctx, b.CurrentParent().Path)
}

// AddFile creates a file named name below parent from data
func (c *Client) AddFile(ctx context.Context, parent, name string, data io.Reader, mimeType string) (*rb.Resource, error) {
	b, err := c.factory.ForResolver(ctx, c.resolvers.Open())
	if err != nil {
		return nil, err
	}
	if rel := relativePath(parent); rel != "" {
		b.Resource(rel)
	}
	var opts []rb.FileOption
	if mimeType != "" {
		opts = append(opts, rb.WithMimeType(mimeType))
	}
	if err := b.File(name, data, opts...).Commit(); err != nil {
		return nil, err
	}
	return c.Get(ctx, rb.JoinPath(b.CurrentParent().Path, name))
}

// Get returns the resource at path
func (c *Client) Get(ctx context.Context, path string) (*rb.Resource, error) {
	return c.resolvers.Open().GetResource(ctx, absolutePath(path))
}

// List returns the children of the resource at path
func (c *Client) List(ctx context.Context, path string) ([]*rb.Resource, error) {
	session := c.resolvers.Open()
	res, err := session.GetResource(ctx, absolutePath(path))
	if err != nil {
		return nil, err
	}
	return session.ListChildren(ctx, res)
}

// Download copies the payload of the file at path to w
func (c *Client) Download(ctx context.Context, path string, w io.Writer) (int64, error) {
	res, err := c.Get(ctx, path)
	if err != nil {
		return 0, err
	}
	rc, err := res.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return io.Copy(w, rc)
}

// Walk calls fn for the resource at path and its descendants. File content
// nodes are skipped. A maxDepth of zero walks the whole subtree.
func (c *Client) Walk(ctx context.Context, path string, maxDepth int, fn scan.ProcessorFunc) error {
	result, err := scan.New(c.resolvers.Open()).Scan(ctx, scan.ScanOptions{
		Root:        absolutePath(path),
		Processor:   fn,
		MaxDepth:    maxDepth,
		SkipContent: true,
	})
	if err != nil {
		return err
	}
	if result.TotalFailed > 0 {
		return fmt.Errorf("failed to process %d resources: %s", result.TotalFailed, strings.Join(result.FailedPaths, ", "))
	}
	return nil
}

// Delete removes the resource at path and its subtree
func (c *Client) Delete(ctx context.Context, path string) error {
	session := c.resolvers.Open()
	res, err := session.GetResource(ctx, absolutePath(path))
	if err != nil {
		return err
	}
	if err := session.Delete(ctx, res); err != nil {
		return err
	}
	return session.Commit(ctx)
}

func relativePath(path string) string {
	return strings.Trim(path, "/")
}

func absolutePath(path string) string {
	return rb.RootPath + relativePath(path)
}

// exitMessage turns resource errors into short messages
func exitMessage(err error) error {
	switch {
	case errors.Is(err, rb.ErrNotFound):
		return fmt.Errorf("not found: %w", err)
	case errors.Is(err, rb.ErrConflict):
		return fmt.Errorf("conflict: %w", err)
	}
	return err
}
