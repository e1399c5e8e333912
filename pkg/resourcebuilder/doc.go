// Package resourcebuilder provides a fluent API for creating hierarchical
// resources (nodes with properties, files and subtrees) in a resource tree.
//
// A Factory hands out a Builder bound either to an explicit parent Resource
// or to the root of a ResourceResolver session. Each chained Builder call
// stages writes in the session; Commit flushes them:
//
//	b, err := factory.ForResolver(ctx, resolver)
//	if err != nil {
//		return err
//	}
//	err = b.Resource("apps/site", "title", "Site").
//		File("main.js", f).
//		Commit()
//
// The first failure in a chain is kept by the builder; later calls become
// no-ops and Commit returns it.
//
// Sessions are opened from a ResolverFactory, which layers staged writes over
// a Repository (node persistence) and a BlobStore (binary payloads).
// Implementations of both live under the repo and storage subpackages.
//
// Node Layout
//
// The primary type of a node is held in its "primaryType" property; nodes
// without one are generic "unstructured" containers. A file is a "file" node
// with a single "content" child of type "resource" carrying the "mimeType",
// "lastModified" and "data" properties.
package resourcebuilder
