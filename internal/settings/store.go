package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// FileName is the settings file name inside the config directory.
const FileName = "settings.json"

// Known settings keys.
const (
	KeyThumbnailSize     = "thumbnail_size"
	KeyShowCaptions      = "show_captions"
	KeyShowSingleCaption = "show_single_caption"
)

// Config is the viewer settings blob. Values are JSON-compatible; numbers
// decoded from disk are json.Number so they are written back unchanged.
type Config map[string]any

// Defaults returns a fresh copy of the default settings.
func Defaults() Config {
	return Config{
		KeyThumbnailSize:     128,
		KeyShowCaptions:      true,
		KeyShowSingleCaption: true,
	}
}

// DefaultPath returns the settings file location under configDir.
func DefaultPath(configDir string) string {
	return filepath.Join(configDir, FileName)
}

// Store loads the settings file once and flushes it on every update.
// It is meant to be used from the control loop only.
type Store struct {
	path string
	cfg  Config
}

// NewStore creates a store backed by the file at path. Nothing is read until
// the first call to Read.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Read returns the cached settings, loading them on first use. A missing file
// yields the defaults; a file that is not valid JSON is an error.
func (s *Store) Read() (Config, error) {
	if s.cfg != nil {
		return s.cfg, nil
	}

	cfg := Defaults()
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("settings file absent, using defaults", "path", s.path)
	case err != nil:
		return nil, fmt.Errorf("settings: read %s: %w", s.path, err)
	default:
		val, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("settings: parse %s: %w", s.path, err)
		}
		if obj, ok := val.(map[string]any); ok {
			for k, v := range obj {
				cfg[k] = v
			}
		} else {
			slog.Warn("settings file is not a JSON object, ignoring", "path", s.path)
		}
	}

	s.cfg = cfg
	return s.cfg, nil
}

// Update merges patch into the cached settings and rewrites the file.
func (s *Store) Update(patch map[string]any) error {
	cfg, err := s.Read()
	if err != nil {
		return err
	}
	for k, v := range patch {
		cfg[k] = v
	}

	data, err := Encode(cfg)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("settings: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("settings: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("settings: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("settings: replace %s: %w", s.path, err)
	}

	slog.Debug("settings saved", "path", s.path, "keys", len(patch))
	return nil
}

// ThumbnailSize returns thumbnail_size, falling back to the default when the
// stored value is missing, non-numeric or not positive.
func (s *Store) ThumbnailSize() int {
	cfg, err := s.Read()
	if err != nil {
		return 128
	}
	n, ok := asInt(cfg[KeyThumbnailSize])
	if !ok || n <= 0 {
		return 128
	}
	return n
}

// ShowCaptions returns show_captions (default true).
func (s *Store) ShowCaptions() bool {
	return s.boolOr(KeyShowCaptions, true)
}

// ShowSingleCaption returns show_single_caption (default true).
func (s *Store) ShowSingleCaption() bool {
	return s.boolOr(KeyShowSingleCaption, true)
}

func (s *Store) boolOr(key string, def bool) bool {
	cfg, err := s.Read()
	if err != nil {
		return def
	}
	b, ok := cfg[key].(bool)
	if !ok {
		return def
	}
	return b
}

// Encode renders settings the way they are stored on disk: two-space
// indentation, sorted keys, non-ASCII and HTML characters left as-is.
func Encode(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any(cfg)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var val any
	if err := dec.Decode(&val); err != nil {
		return nil, err
	}
	return val, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	case json.Number:
		i, err := strconv.Atoi(n.String())
		return i, err == nil
	default:
		return 0, false
	}
}
