package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestReadMissingFileReturnsDefaults(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope", FileName))

	cfg, err := s.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	want := Config{KeyThumbnailSize: 128, KeyShowCaptions: true, KeyShowSingleCaption: true}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("Read() = %v; want %v", cfg, want)
	}
}

func TestReadReturnsCachedConfig(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), FileName))

	first, err := s.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	first["marker"] = "x"

	second, err := s.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if second["marker"] != "x" {
		t.Fatalf("Read() returned a different map; want the cached one")
	}
}

func TestReadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(`{"thumbnail_size": 256, "theme": "dark"}`), 0o644); err != nil {
		t.Fatalf("os.WriteFile() failed: %v", err)
	}

	s := NewStore(path)
	cfg, err := s.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := s.ThumbnailSize(); got != 256 {
		t.Fatalf("ThumbnailSize() = %d; want 256", got)
	}
	if cfg["theme"] != "dark" {
		t.Fatalf("theme = %v; want dark", cfg["theme"])
	}
	if cfg[KeyShowCaptions] != true {
		t.Fatalf("show_captions = %v; want default true", cfg[KeyShowCaptions])
	}
}

func TestReadIgnoresNonObjectJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(`[1, 2, 3]`), 0o644); err != nil {
		t.Fatalf("os.WriteFile() failed: %v", err)
	}

	cfg, err := NewStore(path).Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, Defaults()) {
		t.Fatalf("Read() = %v; want defaults", cfg)
	}
}

func TestReadPropagatesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(`{"thumbnail_size": `), 0o644); err != nil {
		t.Fatalf("os.WriteFile() failed: %v", err)
	}

	if _, err := NewStore(path).Read(); err == nil {
		t.Fatal("Read() error = nil; want parse error")
	} else if !strings.Contains(err.Error(), "settings: parse") {
		t.Fatalf("Read() error = %q; want to contain %q", err, "settings: parse")
	}
}

func TestUpdateThenFreshReadYieldsMergedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", FileName)
	s := NewStore(path)

	patches := []map[string]any{
		{KeyThumbnailSize: 200},
		{KeyShowCaptions: false, "extra": "ünïcode <b>"},
		{KeyThumbnailSize: 64},
	}
	want := Defaults()
	for _, p := range patches {
		if err := s.Update(p); err != nil {
			t.Fatalf("Update(%v) error = %v", p, err)
		}
		for k, v := range p {
			want[k] = v
		}

		fresh, err := NewStore(path).Read()
		if err != nil {
			t.Fatalf("fresh Read() error = %v", err)
		}
		if got, want := normalize(t, fresh), normalize(t, want); !reflect.DeepEqual(got, want) {
			t.Fatalf("fresh Read() = %v; want %v", got, want)
		}
	}
}

func TestUpdateWritesSortedPrettyUnescapedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s := NewStore(path)

	if err := s.Update(map[string]any{"a_key": "日本 & co"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("os.ReadFile() failed: %v", err)
	}
	want := `{
  "a_key": "日本 & co",
  "show_captions": true,
  "show_single_caption": true,
  "thumbnail_size": 128
}`
	if string(data) != want {
		t.Fatalf("file = %s; want %s", data, want)
	}
}

func TestUpdateKeepsLargeIntegersExact(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(`{"big": 9007199254740993}`), 0o644); err != nil {
		t.Fatalf("os.WriteFile() failed: %v", err)
	}
	s := NewStore(path)
	if err := s.Update(map[string]any{KeyShowCaptions: false}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("os.ReadFile() failed: %v", err)
	}
	if !strings.Contains(string(data), `"big": 9007199254740993`) {
		t.Fatalf("file = %s; want big integer preserved", data)
	}
}

func TestTypedAccessorsFallBackOnBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(`{"thumbnail_size": "huge", "show_captions": "no"}`), 0o644); err != nil {
		t.Fatalf("os.WriteFile() failed: %v", err)
	}
	s := NewStore(path)
	if got := s.ThumbnailSize(); got != 128 {
		t.Fatalf("ThumbnailSize() = %d; want 128", got)
	}
	if got := s.ShowCaptions(); !got {
		t.Fatalf("ShowCaptions() = %v; want true", got)
	}
	if got := s.ShowSingleCaption(); !got {
		t.Fatalf("ShowSingleCaption() = %v; want true", got)
	}
}

// normalize round-trips through JSON so int and json.Number compare equal.
func normalize(t *testing.T, cfg Config) map[string]any {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("json.Marshal() failed: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v", err)
	}
	return out
}
