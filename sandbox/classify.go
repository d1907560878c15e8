package sandbox

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// probeSize is how many leading bytes are inspected for a NUL byte.
const probeSize = 1024

// excludedNames are file and directory names never offered to the model.
var excludedNames = map[string]bool{
	// Python
	".DS_Store": true, "Thumbs.db": true, ".gitignore": true, ".python-version": true,
	"uv.lock": true, ".uv": true, "uvenv": true, ".uvenv": true, ".venv": true, "venv": true,
	"__pycache__": true, ".pytest_cache": true, ".coverage": true, ".mypy_cache": true,
	// Node.js and web
	"node_modules": true, "package-lock.json": true, "yarn.lock": true, "pnpm-lock.yaml": true,
	".next": true, ".nuxt": true, "dist": true, "build": true, ".cache": true, ".parcel-cache": true,
	".turbo": true, ".vercel": true, ".output": true, ".contentlayer": true,
	// Build outputs
	"out": true, "coverage": true, ".nyc_output": true, "storybook-static": true,
	// Environment files
	".env": true, ".env.local": true, ".env.development": true, ".env.production": true,
	// Version control
	".git": true, ".svn": true, ".hg": true, "CVS": true,
}

// excludedExtensions are lower-case suffixes, compound ones included.
var excludedExtensions = []string{
	// Binary and media
	".png", ".jpg", ".jpeg", ".gif", ".ico", ".svg", ".webp", ".avif",
	".mp4", ".webm", ".mov", ".mp3", ".wav", ".ogg",
	".zip", ".tar", ".gz", ".7z", ".rar",
	".exe", ".dll", ".so", ".dylib", ".bin",
	// Documents
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	// Python
	".pyc", ".pyo", ".pyd", ".egg", ".whl",
	".uv", ".uvenv",
	// Databases and logs
	".db", ".sqlite", ".sqlite3", ".log",
	// IDE
	".idea", ".vscode",
	// Bundles and maps
	".map", ".chunk.js", ".chunk.css",
	".min.js", ".min.css", ".bundle.js", ".bundle.css",
	// Cache and temp
	".cache", ".tmp", ".temp",
	// Fonts
	".ttf", ".otf", ".woff", ".woff2", ".eot",
}

var excludedExtensionSet = func() map[string]bool {
	m := make(map[string]bool, len(excludedExtensions))
	for _, ext := range excludedExtensions {
		m[ext] = true
	}
	return m
}()

// textExtensions are treated as text without probing the content.
var textExtensions = map[string]bool{
	".txt": true, ".py": true, ".js": true, ".ts": true, ".html": true, ".css": true,
	".json": true, ".xml": true, ".yaml": true, ".yml": true, ".md": true, ".rst": true,
	".sh": true, ".bat": true, ".gitignore": true, ".env": true, ".toml": true,
	".go": true, ".mod": true, ".sum": true,
}

// IsExcluded reports whether path names a denylisted file or directory, has
// a denylisted extension, is a hidden dot-file, or sits below a denylisted
// directory. Every ancestor in path is checked, so callers pass paths
// relative to the directory they are walking.
func IsExcluded(path string) bool {
	name := filepath.Base(path)
	if excludedNames[name] {
		return true
	}

	lower := strings.ToLower(name)
	if excludedExtensionSet[filepath.Ext(lower)] {
		return true
	}
	for _, ext := range excludedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	if strings.HasPrefix(name, ".") && name != "." && name != ".." {
		return true
	}

	dir := filepath.Dir(path)
	for dir != "." && dir != string(filepath.Separator) && dir != filepath.VolumeName(dir)+string(filepath.Separator) {
		if excludedNames[filepath.Base(dir)] {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return false
}

// IsTextLike reports whether the file at path should be treated as text.
// Known extensions decide first, then the extension's MIME type, and finally
// a probe of the leading bytes for NUL.
func IsTextLike(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if excludedExtensionSet[ext] {
		return false
	}
	if textExtensions[ext] {
		return true
	}
	if mt := mime.TypeByExtension(ext); strings.HasPrefix(mt, "text/") {
		return true
	}
	return !isBinary(path)
}

// isBinary reads up to probeSize bytes and reports whether a NUL byte
// appears. Unreadable files count as binary.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	buf := make([]byte, probeSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}

// DetectMIME returns the content-sniffed MIME type of data.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}
