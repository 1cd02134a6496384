package source

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf8"
)

// DefaultMaxFileSize is the largest blob considered for ingestion.
const DefaultMaxFileSize int64 = 1024 * 1024

// maxFileSizeLimit caps any configured MaxFileSize.
const maxFileSizeLimit int64 = 10 * 1024 * 1024

// defaultSkipDirs are directories that should always be skipped.
// These typically contain generated code, dependencies, or version control data.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true, // Rust/Java build output
}

// Filter decides which tree entries are eligible for file ingestion.
type Filter struct {
	// Include patterns. When set, a path must match at least one.
	Include []string
	// Exclude patterns take precedence over Include. A pattern ending in
	// "/**" excludes the whole directory.
	Exclude []string
	// MaxFileSize in bytes. Defaults to DefaultMaxFileSize.
	MaxFileSize int64
}

// Validate checks the patterns and size limit and applies defaults.
func (f *Filter) Validate() error {
	if f.MaxFileSize == 0 {
		f.MaxFileSize = DefaultMaxFileSize
	}
	if f.MaxFileSize < 0 || f.MaxFileSize > maxFileSizeLimit {
		return fmt.Errorf("max_file_size must be between 1 and %d bytes", maxFileSizeLimit)
	}
	for _, group := range [][]string{f.Include, f.Exclude} {
		for _, pattern := range group {
			if _, err := path.Match(pattern, "test"); err != nil {
				return fmt.Errorf("invalid pattern %q: %w", pattern, err)
			}
		}
	}
	return nil
}

// Eligible reports whether a tree entry should be ingested.
func (f *Filter) Eligible(e TreeEntry) bool {
	maxSize := f.MaxFileSize
	if maxSize == 0 {
		maxSize = DefaultMaxFileSize
	}
	if e.Size > maxSize {
		return false
	}

	for _, dir := range strings.Split(path.Dir(e.Path), "/") {
		if defaultSkipDirs[dir] {
			return false
		}
	}

	base := path.Base(e.Path)
	for _, pattern := range f.Exclude {
		if matched, _ := path.Match(pattern, base); matched {
			return false
		}
		if matched, _ := path.Match(pattern, e.Path); matched {
			return false
		}
		if strings.HasSuffix(pattern, "/**") {
			prefix := strings.TrimSuffix(pattern, "/**")
			if strings.HasPrefix(e.Path, prefix+"/") {
				return false
			}
		}
	}

	if len(f.Include) == 0 {
		return true
	}
	for _, pattern := range f.Include {
		if matched, _ := path.Match(pattern, base); matched {
			return true
		}
		if matched, _ := path.Match(pattern, e.Path); matched {
			return true
		}
	}
	return false
}

// IsText reports whether content looks like text. Binary blobs (invalid
// UTF-8 or containing NUL bytes) are not ingested.
func IsText(content []byte) bool {
	if !utf8.Valid(content) {
		return false
	}
	for _, b := range content {
		if b == 0 {
			return false
		}
	}
	return true
}
