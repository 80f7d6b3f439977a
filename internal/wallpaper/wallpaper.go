package wallpaper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// DefaultCommand is used when no wallpaper command is configured.
const DefaultCommand = "swww img {path}"

// ErrNoCommand is returned by Set when the command is empty.
var ErrNoCommand = errors.New("wallpaper: no command configured")

// Command is an external program that sets the desktop wallpaper. The image
// path replaces every {path} argument, or is appended when none is present.
type Command struct {
	Args []string
}

// Parse splits a whitespace-separated command line.
func Parse(line string) Command {
	return Command{Args: strings.Fields(line)}
}

// Name returns the program name, or "" for an empty command.
func (c Command) Name() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// Argv returns the full argument vector for path.
func (c Command) Argv(path string) []string {
	if len(c.Args) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.Args)+1)
	substituted := false
	for _, a := range c.Args {
		if strings.Contains(a, "{path}") {
			a = strings.ReplaceAll(a, "{path}", path)
			substituted = true
		}
		out = append(out, a)
	}
	if !substituted {
		out = append(out, path)
	}
	return out
}

// Set runs the command for path and waits for it to exit. A missing program
// yields an error matching exec.ErrNotFound.
func (c Command) Set(ctx context.Context, path string) error {
	argv := c.Argv(path)
	if len(argv) == 0 {
		return ErrNoCommand
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = &stderr

	slog.Debug("setting wallpaper", "command", argv[0], "path", path)
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	slog.Info("wallpaper set", "path", path)
	return nil
}
