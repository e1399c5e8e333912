package mimetype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestService_MimeType(t *testing.T) {
	s := New()

	tests := []struct {
		name     string
		fileName string
		expected string
	}{
		{"javascript", "model2.js", "application/javascript"},
		{"upper case extension", "INDEX.HTML", "text/html"},
		{"nested name", "a/b/c/image.png", "image/png"},
		{"no extension", "README", ""},
		{"unknown extension", "data.zz-unknown", ""},
		{"dot only", "archive.", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, s.MimeType(tt.fileName))
		})
	}
}

func TestService_Register(t *testing.T) {
	s := New()

	s.Register("foo", "application/x-foo")
	s.Register(".JS", "text/javascript")

	assert.Equal(t, "application/x-foo", s.MimeType("bar.foo"))
	assert.Equal(t, "text/javascript", s.MimeType("app.js"))

	// instances do not share registrations
	assert.Equal(t, "application/javascript", New().MimeType("app.js"))
}
