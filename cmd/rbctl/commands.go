package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	rb "github.com/tendant/resource-builder/pkg/resourcebuilder"
)

// NewPutCommand creates the put command
func NewPutCommand() *cobra.Command {
	var primaryType string
	var remove []string
	var raw bool

	cmd := &cobra.Command{
		Use:   "put <path> [name=value ...]",
		Short: "Create or update a resource",
		Long: `Create the resource at path, with any missing ancestors, and set the given
properties on it. Values are typed as integer, float or boolean when they
parse as one, unless --raw is set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseProperties(args[1:], raw)
			if err != nil {
				return err
			}
			if primaryType != "" {
				props[rb.PropPrimaryType] = primaryType
			}
			for _, name := range remove {
				props[name] = nil
			}

			client, err := NewClientFromFlags(cmd)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			res, err := client.Put(cmd.Context(), args[0], props)
			if err != nil {
				return exitMessage(err)
			}
			return printResource(cmd.OutOrStdout(), res, nil)
		},
	}

	cmd.Flags().StringVarP(&primaryType, "type", "t", "", "primary type of the resource")
	cmd.Flags().StringSliceVar(&remove, "remove", nil, "property names to remove")
	cmd.Flags().BoolVar(&raw, "raw", false, "store all values as strings")

	return cmd
}

// NewFileCommand creates the file command
func NewFileCommand() *cobra.Command {
	var name string
	var mimeType string

	cmd := &cobra.Command{
		Use:   "file <parent-path> <local-file>",
		Short: "Upload a local file below a resource",
		Long:  `Create a file resource below parent-path from a local file. The MIME type is derived from the name unless --mime-type is set.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()
			if name == "" {
				name = filepath.Base(args[1])
			}

			client, err := NewClientFromFlags(cmd)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			res, err := client.AddFile(cmd.Context(), args[0], name, f, mimeType)
			if err != nil {
				return exitMessage(err)
			}
			return printResource(cmd.OutOrStdout(), res, nil)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "resource name (default: base name of the file)")
	cmd.Flags().StringVarP(&mimeType, "mime-type", "m", "", "MIME type of the file")

	return cmd
}

// NewGetCommand creates the get command
func NewGetCommand() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Show a resource or download a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewClientFromFlags(cmd)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			ctx := cmd.Context()
			if outputPath != "" {
				out, err := os.Create(outputPath)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer out.Close()

				n, err := client.Download(ctx, args[0], out)
				if err != nil {
					return exitMessage(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %d bytes to %s\n", n, outputPath)
				return nil
			}

			res, err := client.Get(ctx, args[0])
			if err != nil {
				return exitMessage(err)
			}
			children, err := client.List(ctx, args[0])
			if err != nil {
				return exitMessage(err)
			}
			return printResource(cmd.OutOrStdout(), res, children)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the file payload to this path")

	return cmd
}

// NewListCommand creates the ls command
func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "List the children of a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewClientFromFlags(cmd)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			children, err := client.List(cmd.Context(), args[0])
			if err != nil {
				return exitMessage(err)
			}
			w := cmd.OutOrStdout()
			for _, c := range children {
				fmt.Fprintf(w, "%-12s %s\n", c.ResourceType(), c.Path)
			}
			return nil
		},
	}
}

// NewTreeCommand creates the tree command
func NewTreeCommand() *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "tree [path]",
		Short: "Print a resource subtree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := rb.RootPath
			if len(args) == 1 {
				root = args[0]
			}

			client, err := NewClientFromFlags(cmd)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			w := cmd.OutOrStdout()
			err = client.Walk(cmd.Context(), root, depth, func(ctx context.Context, res *rb.Resource, level int) error {
				name := res.Name
				if name == "" {
					name = rb.RootPath
				}
				_, err := fmt.Fprintf(w, "%s%s [%s]\n", strings.Repeat("  ", level), name, res.ResourceType())
				return err
			})
			return exitMessage(err)
		},
	}

	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "maximum depth below path (0 = unlimited)")

	return cmd
}

// NewRemoveCommand creates the rm command
func NewRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a resource and its subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewClientFromFlags(cmd)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			if err := client.Delete(cmd.Context(), args[0]); err != nil {
				return exitMessage(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", absolutePath(args[0]))
			return nil
		},
	}
}

// parseProperties parses name=value arguments
func parseProperties(args []string, raw bool) (rb.Properties, error) {
	props := make(rb.Properties, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid property %q, expected name=value", arg)
		}
		if raw {
			props[name] = value
			continue
		}
		props[name] = parseValue(value)
	}
	return props, nil
}

func parseValue(s string) interface{} {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

type resourceOutput struct {
	Path       string                 `json:"path"`
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Metadata   rb.ResourceMetadata    `json:"metadata"`
	Children   []string               `json:"children,omitempty"`
}

func printResource(w io.Writer, res *rb.Resource, children []*rb.Resource) error {
	out := resourceOutput{
		Path:       res.Path,
		Type:       res.ResourceType(),
		Properties: make(map[string]interface{}, len(res.Properties)),
		Metadata:   res.Metadata,
	}
	for name, v := range res.Properties {
		if b, ok := v.(rb.Binary); ok {
			out.Properties[name] = b.String()
			continue
		}
		out.Properties[name] = v
	}
	for _, c := range children {
		out.Children = append(out.Children, c.Name)
	}
	sort.Strings(out.Children)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
