// Package mimetype maps file names to MIME types by extension.
package mimetype

import (
	"mime"
	"path"
	"strings"
	"sync"
)

// builtin holds types that must not depend on the host's mime tables.
var builtin = map[string]string{
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".tar":  "application/x-tar",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".ico":  "image/x-icon",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".wasm": "application/wasm",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// Service resolves MIME types by extension. Registered types take precedence
// over the built-in table, and the platform's mime database is consulted last.
// It is safe for concurrent use.
type Service struct {
	mu    sync.RWMutex
	types map[string]string
}

// New creates a Service preloaded with the built-in table.
func New() *Service {
	types := make(map[string]string, len(builtin))
	for ext, t := range builtin {
		types[ext] = t
	}
	return &Service{types: types}
}

// Register maps an extension, with or without the leading dot, to mimeType.
func (s *Service) Register(ext, mimeType string) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[ext] = mimeType
}

// MimeType returns the type for name's extension, or "" when unknown.
func (s *Service) MimeType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return ""
	}

	s.mu.RLock()
	t, ok := s.types[ext]
	s.mu.RUnlock()
	if ok {
		return t
	}

	if t := mime.TypeByExtension(ext); t != "" {
		// drop parameters such as charset
		if media, _, err := mime.ParseMediaType(t); err == nil {
			return media
		}
		return t
	}
	return ""
}
