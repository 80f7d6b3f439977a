// Package profile holds the process-wide rendering profile shared by every
// viewer session.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgnsrekt/iv/internal/files"
	"github.com/dgnsrekt/iv/internal/inject"
	"github.com/dgnsrekt/iv/internal/settings"
)

// engineMarker is the user agent token identifying a headless engine.
const engineMarker = "HeadlessChrome"

// Profile owns the on-disk cache and storage directories and the scripts
// installed into every page.
type Profile struct {
	CacheDir   string
	StorageDir string
	Scripts    *inject.MemoryCollection

	mu        sync.RWMutex
	userAgent string
}

// New creates the profile rooted at <cacheRoot>/<app>, creating the cache and
// storage directories.
func New(cacheRoot, app string) (*Profile, error) {
	base := filepath.Join(cacheRoot, app)
	p := &Profile{
		CacheDir:   filepath.Join(base, "cache"),
		StorageDir: filepath.Join(base, "storage"),
		Scripts:    inject.NewMemoryCollection(),
	}
	for _, dir := range []string{p.CacheDir, p.StorageDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("profile: create %s: %w", dir, err)
		}
	}
	slog.Debug("profile ready", "cache_dir", p.CacheDir, "storage_dir", p.StorageDir)
	return p, nil
}

// StripEngineMarker rewrites a headless user agent so it reads like a regular
// browser.
func StripEngineMarker(ua string) string {
	return strings.ReplaceAll(ua, engineMarker, "Chrome")
}

// SetUserAgent stores ua with the engine marker removed.
func (p *Profile) SetUserAgent(ua string) {
	p.mu.Lock()
	p.userAgent = StripEngineMarker(ua)
	p.mu.Unlock()
}

// UserAgent returns the profile user agent, or "" if none was set.
func (p *Profile) UserAgent() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userAgent
}

// InstallClient loads the client script once and installs it.
func (p *Profile) InstallClient(ctx context.Context, loader *inject.ClientLoader) error {
	script, err := loader.Script(ctx)
	if err != nil {
		return err
	}
	return inject.Install(p.Scripts, script)
}

// InstallData replaces the data script with one built from records and cfg.
func (p *Profile) InstallData(records []files.Record, cfg settings.Config) error {
	script, err := inject.BuildDataScript(records, cfg)
	if err != nil {
		return err
	}
	return inject.Install(p.Scripts, script)
}
