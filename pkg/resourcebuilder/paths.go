package resourcebuilder

import (
	"fmt"
	"strings"
)

// JoinPath appends name to the absolute path parent.
func JoinPath(parent, name string) string {
	if parent == RootPath || parent == "" {
		return RootPath + name
	}
	return parent + "/" + name
}

// ParentPath returns the parent of an absolute path. The root is its own parent.
func ParentPath(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return RootPath
	}
	return p[:i]
}

// BaseName returns the last segment of an absolute path, "" for the root.
func BaseName(p string) string {
	return p[strings.LastIndexByte(p, '/')+1:]
}

// IsAncestor reports whether ancestor is p or one of its ancestors.
func IsAncestor(ancestor, p string) bool {
	if ancestor == RootPath || ancestor == p {
		return true
	}
	return strings.HasPrefix(p, ancestor+"/")
}

// ValidateName checks a single path segment.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty path segment", ErrInvalidArgument)
	case name == "." || name == "..":
		return fmt.Errorf("%w: relative segment %q not allowed", ErrInvalidArgument, name)
	case strings.ContainsRune(name, '/'):
		return fmt.Errorf("%w: segment %q contains a separator", ErrInvalidArgument, name)
	}
	return nil
}

// splitPath splits a builder path into validated segments. A leading "/"
// marks the path as anchored at the builder's original parent.
func splitPath(p string) (segments []string, anchored bool, err error) {
	anchored = strings.HasPrefix(p, "/")
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return nil, anchored, fmt.Errorf("%w: empty path", ErrInvalidArgument)
	}
	segments = strings.Split(p, "/")
	for _, s := range segments {
		if err := ValidateName(s); err != nil {
			return nil, anchored, err
		}
	}
	return segments, anchored, nil
}
