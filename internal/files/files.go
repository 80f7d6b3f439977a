package files

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Record is a snapshot of one file's metadata taken at enumeration time.
type Record struct {
	Name  string  `json:"name"`
	Path  string  `json:"path"`
	Size  int64   `json:"size"`
	MTime float64 `json:"mtime"`
	CTime float64 `json:"ctime"`
}

// imageExts lists extensions picked up when a directory is enumerated.
var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".bmp": true, ".svg": true, ".avif": true, ".ico": true, ".tif": true, ".tiff": true,
}

// IsImage reports whether the path has an image extension.
func IsImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// Metadata stats path and returns its record.
func Metadata(path string) (Record, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Record{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return Record{
		Name:  filepath.Base(path),
		Path:  path,
		Size:  st.Size(),
		MTime: unixSeconds(st.ModTime().UnixNano()),
		CTime: changeTime(st),
	}, nil
}

// Collect expands the given arguments into records. Files are taken as given;
// directories contribute their image files (not recursive), sorted by name.
// Unreadable entries are logged and skipped.
func Collect(args []string) []Record {
	out := make([]Record, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			slog.Warn("cannot resolve path", "path", arg, "error", err)
			continue
		}
		st, err := os.Stat(abs)
		if err != nil {
			slog.Warn("cannot stat path", "path", abs, "error", err)
			continue
		}
		if !st.IsDir() {
			rec, err := Metadata(abs)
			if err != nil {
				slog.Warn("skipping file", "path", abs, "error", err)
				continue
			}
			out = append(out, rec)
			continue
		}

		entries, err := os.ReadDir(abs)
		if err != nil {
			slog.Warn("cannot list directory", "path", abs, "error", err)
			continue
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || !IsImage(e.Name()) {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			rec, err := Metadata(filepath.Join(abs, name))
			if err != nil {
				slog.Debug("skipping file", "path", name, "error", err)
				continue
			}
			out = append(out, rec)
		}
	}
	slog.Debug("files collected", "args", len(args), "records", len(out))
	return out
}

func unixSeconds(nanos int64) float64 {
	return float64(nanos) / 1e9
}
