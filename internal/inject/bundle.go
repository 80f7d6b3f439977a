package inject

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Bundle describes the client script: sources in Dir matching SourceGlob are
// compiled by Compiler into Output whenever Output is older than the newest
// source. Compiler arguments may contain {entry}, {output} and {cache}.
type Bundle struct {
	Dir        string
	SourceGlob string
	Entry      string
	Output     string
	CacheDir   string
	Compiler   []string
}

// Build compiles the bundle if needed and returns the compiled source.
func (b Bundle) Build(ctx context.Context) (string, error) {
	output := b.path(b.Output)

	newest, err := b.newestSource()
	if err != nil {
		return "", err
	}

	outInfo, statErr := os.Stat(output)
	stale := errors.Is(statErr, fs.ErrNotExist) || (statErr == nil && outInfo.ModTime().Before(newest))
	if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return "", fmt.Errorf("inject: stat %s: %w", output, statErr)
	}

	if stale && !newest.IsZero() {
		if err := b.compile(ctx, output); err != nil {
			return "", err
		}
	} else if stale {
		return "", fmt.Errorf("inject: client script %s not found and no sources to build it from", output)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return "", fmt.Errorf("inject: read %s: %w", output, err)
	}
	return string(data), nil
}

func (b Bundle) newestSource() (time.Time, error) {
	if b.SourceGlob == "" {
		return time.Time{}, nil
	}
	matches, err := filepath.Glob(b.path(b.SourceGlob))
	if err != nil {
		return time.Time{}, fmt.Errorf("inject: glob %s: %w", b.SourceGlob, err)
	}
	var newest time.Time
	for _, m := range matches {
		st, err := os.Stat(m)
		if err != nil {
			continue
		}
		if st.ModTime().After(newest) {
			newest = st.ModTime()
		}
	}
	return newest, nil
}

func (b Bundle) compile(ctx context.Context, output string) error {
	if len(b.Compiler) == 0 {
		return fmt.Errorf("inject: client script %s is out of date and no compiler is configured", output)
	}
	replacer := strings.NewReplacer(
		"{entry}", b.path(b.Entry),
		"{output}", output,
		"{cache}", b.CacheDir,
	)
	args := make([]string, len(b.Compiler))
	for i, a := range b.Compiler {
		args[i] = replacer.Replace(a)
	}

	slog.Info("compiling client script", "command", args[0], "output", output)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = b.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("inject: failed to compile the client side script: %w", err)
	}
	return nil
}

func (b Bundle) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.Dir, p)
}

// ClientLoader builds the client script at most once per process.
type ClientLoader struct {
	bundle Bundle

	once   sync.Once
	script *Script
	err    error
}

// NewClientLoader returns a loader for bundle.
func NewClientLoader(bundle Bundle) *ClientLoader {
	return &ClientLoader{bundle: bundle}
}

// Script returns the cached client script, building it on first call. A build
// failure is cached as well.
func (l *ClientLoader) Script(ctx context.Context) (*Script, error) {
	l.once.Do(func() {
		src, err := l.bundle.Build(ctx)
		if err != nil {
			l.err = err
			return
		}
		l.script = NewScript(filepath.Base(l.bundle.Output), src)
	})
	return l.script, l.err
}
