package resourcebuilder

import (
	"errors"
	"fmt"
	"io"
	"time"
)

type fileOptions struct {
	mimeType     string
	lastModified time.Time
}

// FileOption configures a File call
type FileOption func(*fileOptions)

// WithMimeType sets the MIME type instead of deriving it from the file name
func WithMimeType(mimeType string) FileOption {
	return func(o *fileOptions) {
		o.mimeType = mimeType
	}
}

// WithLastModified sets the last modification time instead of the current time
func WithLastModified(t time.Time) FileOption {
	return func(o *fileOptions) {
		o.lastModified = t
	}
}

// File creates a file named name under the current resource from data. The
// current resource does not change. If data is an io.Closer it is closed
// before File returns.
func (b *Builder) File(name string, data io.Reader, opts ...FileOption) *Builder {
	if c, ok := data.(io.Closer); ok {
		defer c.Close()
	}
	if b.err != nil {
		return b
	}

	path := JoinPath(b.current.Path, name)
	if err := ValidateName(name); err != nil {
		return b.fail(newResourceError("file", path, err))
	}
	if data == nil {
		return b.fail(newResourceError("file", path, fmt.Errorf("%w: data is nil", ErrInvalidArgument)))
	}

	o := fileOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.mimeType == "" && b.mimeTypes != nil {
		o.mimeType = b.mimeTypes.MimeType(name)
	}
	if o.mimeType == "" {
		o.mimeType = DefaultMimeType
	}
	if o.lastModified.IsZero() {
		o.lastModified = time.Now()
	}

	content, err := io.ReadAll(data)
	if err != nil {
		return b.fail(newResourceError("file", path, fmt.Errorf("%w: %w", ErrIO, err)))
	}

	_, err = b.resolver.GetResource(b.ctx, path)
	switch {
	case err == nil:
		return b.fail(newResourceError("file", path, ErrConflict))
	case !errors.Is(err, ErrNotFound):
		return b.fail(err)
	}

	file, err := b.resolver.Create(b.ctx, b.current, name, Properties{PropPrimaryType: TypeFile})
	if err != nil {
		return b.fail(err)
	}
	_, err = b.resolver.Create(b.ctx, file, ContentNodeName, Properties{
		PropPrimaryType:  TypeResource,
		PropMimeType:     o.mimeType,
		PropLastModified: o.lastModified,
		PropData:         NewBinary(content),
	})
	if err != nil {
		return b.fail(err)
	}
	return b
}
