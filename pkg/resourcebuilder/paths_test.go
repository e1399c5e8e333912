package resourcebuilder

import (
	"testing"
)

func TestPathHelpers(t *testing.T) {
	if got := JoinPath("/", "a"); got != "/a" {
		t.Errorf("JoinPath root: got %q", got)
	}
	if got := JoinPath("/a/b", "c"); got != "/a/b/c" {
		t.Errorf("JoinPath: got %q", got)
	}
	if got := ParentPath("/a/b"); got != "/a" {
		t.Errorf("ParentPath: got %q", got)
	}
	if got := ParentPath("/a"); got != "/" {
		t.Errorf("ParentPath top level: got %q", got)
	}
	if got := ParentPath("/"); got != "/" {
		t.Errorf("ParentPath root: got %q", got)
	}
	if got := BaseName("/a/b"); got != "b" {
		t.Errorf("BaseName: got %q", got)
	}
	if got := BaseName("/"); got != "" {
		t.Errorf("BaseName root: got %q", got)
	}
}

func TestIsAncestor(t *testing.T) {
	tests := []struct {
		ancestor, path string
		want           bool
	}{
		{"/", "/a", true},
		{"/a", "/a", true},
		{"/a", "/a/b", true},
		{"/a", "/ab", false},
		{"/a/b", "/a", false},
	}
	for _, tt := range tests {
		if got := IsAncestor(tt.ancestor, tt.path); got != tt.want {
			t.Errorf("IsAncestor(%q, %q) = %v, want %v", tt.ancestor, tt.path, got, tt.want)
		}
	}
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path     string
		segments []string
		anchored bool
		wantErr  bool
	}{
		{"a", []string{"a"}, false, false},
		{"a/b/c", []string{"a", "b", "c"}, false, false},
		{"/a/b", []string{"a", "b"}, true, false},
		{"", nil, false, true},
		{"/", nil, true, true},
		{"a//b", nil, false, true},
		{"a/../b", nil, false, true},
		{"./a", nil, false, true},
		{"a/", nil, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			segments, anchored, err := splitPath(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.path)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if anchored != tt.anchored {
				t.Errorf("anchored = %v, want %v", anchored, tt.anchored)
			}
			if len(segments) != len(tt.segments) {
				t.Fatalf("segments = %v, want %v", segments, tt.segments)
			}
			for i := range segments {
				if segments[i] != tt.segments[i] {
					t.Errorf("segments = %v, want %v", segments, tt.segments)
				}
			}
		})
	}
}
