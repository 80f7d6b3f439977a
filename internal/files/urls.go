package files

import (
	"net/url"
	"path/filepath"
	"strings"
)

// PathToURL converts a filesystem path into an encoded file:// URL.
func PathToURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

// LocalPathFromURL returns the filesystem path of a file:// URL, or "" when
// rawURL is malformed or does not point at a local file.
func LocalPathFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if !strings.EqualFold(parsed.Scheme, "file") {
		return ""
	}
	if parsed.Host != "" && !strings.EqualFold(parsed.Host, "localhost") {
		return ""
	}
	p := parsed.Path
	if p == "" {
		return ""
	}
	// file:///C:/x -> C:/x
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}

// FilenameFromURL returns the base name of a local file URL, or "" when the
// URL does not resolve to a local file.
func FilenameFromURL(rawURL string) string {
	p := LocalPathFromURL(rawURL)
	if p == "" {
		return ""
	}
	name := filepath.Base(p)
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
