package wallpaper

import (
	"context"
	"errors"
	"os/exec"
	"reflect"
	"runtime"
	"strings"
	"testing"
)

func TestArgv(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{DefaultCommand, []string{"swww", "img", "/a/b.png"}},
		{"feh --bg-fill", []string{"feh", "--bg-fill", "/a/b.png"}},
		{"gsettings set org.gnome.desktop.background picture-uri file://{path}", []string{"gsettings", "set", "org.gnome.desktop.background", "picture-uri", "file:///a/b.png"}},
		{"", nil},
	}
	for _, tt := range tests {
		if got := Parse(tt.line).Argv("/a/b.png"); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("Parse(%q).Argv() = %v; want %v", tt.line, got, tt.want)
		}
	}
}

func TestSetMissingProgram(t *testing.T) {
	err := Parse("iv-no-such-wallpaper-tool img {path}").Set(context.Background(), "/tmp/x.png")
	if !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("Set() error = %v; want exec.ErrNotFound", err)
	}
}

func TestSetEmptyCommand(t *testing.T) {
	if err := (Command{}).Set(context.Background(), "/tmp/x.png"); !errors.Is(err, ErrNoCommand) {
		t.Fatalf("Set() error = %v; want %v", err, ErrNoCommand)
	}
}

func TestSetFailingProgramIncludesStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	c := Command{Args: []string{"sh", "-c", "echo no display >&2; exit 3", "{path}"}}
	err := c.Set(context.Background(), "/tmp/x.png")
	if err == nil {
		t.Fatal("Set() error = nil; want exit failure")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("Set() error = %v; want exit status 3", err)
	}
	if !strings.Contains(err.Error(), "no display") {
		t.Fatalf("Set() error = %q; want stderr included", err)
	}
}

func TestSetSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses true")
	}
	if err := Parse("true").Set(context.Background(), "/tmp/x.png"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
}
