// Package actions implements the handlers page code can invoke through the
// bridge.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"golang.org/x/time/rate"

	"github.com/dgnsrekt/iv/internal/bridge"
	"github.com/dgnsrekt/iv/internal/event"
	"github.com/dgnsrekt/iv/internal/files"
	"github.com/dgnsrekt/iv/internal/notify"
	"github.com/dgnsrekt/iv/internal/settings"
)

// Handler names understood by the host.
const (
	UpdateSettings  = "update_settings"
	ShowingGrid     = "showing_grid"
	ShowingImage    = "showing_image"
	UnhandledError  = "unhandled_error"
	RefreshGrid     = "refresh_grid"
	SetWallpaper    = "set_wallpaper"
	ExitApplication = "exit_application"
)

const wallpaperTimeout = 30 * time.Second

// WallpaperSetter sets the desktop wallpaper to a local image.
type WallpaperSetter interface {
	Name() string
	Set(ctx context.Context, path string) error
}

// Options configures a Host.
type Options struct {
	Settings  *settings.Store
	Wallpaper WallpaperSetter
	Notifier  notify.Notifier
	Quit      func()

	// ShowErrorDialogs enables the unhandled_error notice. Errors are always
	// logged.
	ShowErrorDialogs bool
	// ErrorLimit bounds how often unhandled_error notices are shown. Defaults
	// to one every ten seconds.
	ErrorLimit *rate.Limiter

	Logger *slog.Logger
}

// Host holds the state page actions act upon.
type Host struct {
	opts Options
	log  *slog.Logger

	title   *string
	titles  event.Feed[*string]
	refresh event.Feed[struct{}]
}

// New returns a Host. A nil Notifier logs notices.
func New(opts Options) *Host {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{Logger: opts.Logger}
	}
	if opts.ErrorLimit == nil {
		opts.ErrorLimit = rate.NewLimiter(rate.Every(10*time.Second), 1)
	}
	return &Host{opts: opts, log: opts.Logger}
}

// Register binds every host action on b.
func (h *Host) Register(b *bridge.Bridge) {
	b.Register(UpdateSettings, h.updateSettings)
	b.Register(ShowingGrid, h.showingGrid)
	b.Register(ShowingImage, h.showingImage)
	b.Register(UnhandledError, h.unhandledError)
	b.Register(RefreshGrid, h.refreshGrid)
	b.Register(SetWallpaper, h.setWallpaper)
	b.Register(ExitApplication, h.exitApplication)
}

// Title returns the current title; nil means no image is shown.
func (h *Host) Title() *string {
	return h.title
}

// OnTitle subscribes to title changes.
func (h *Host) OnTitle(fn func(*string)) func() {
	return h.titles.Subscribe(fn)
}

// OnRefresh subscribes to refresh requests.
func (h *Host) OnRefresh(fn func()) func() {
	return h.refresh.Subscribe(func(struct{}) { fn() })
}

func (h *Host) setTitle(t *string) {
	h.title = t
	h.titles.Emit(t)
}

func (h *Host) updateSettings(_ context.Context, p bridge.Payload) error {
	if h.opts.Settings == nil {
		return errors.New("no settings store")
	}
	return h.opts.Settings.Update(p)
}

func (h *Host) showingGrid(context.Context, bridge.Payload) error {
	h.setTitle(nil)
	return nil
}

func (h *Host) showingImage(_ context.Context, p bridge.Payload) error {
	raw, _ := p.String("url")
	name := files.FilenameFromURL(raw)
	if name == "" {
		h.log.Debug("showing image with unresolvable url", "url", raw)
	}
	h.setTitle(&name)
	return nil
}

func (h *Host) unhandledError(ctx context.Context, p bridge.Payload) error {
	msg, ok := p.String("msg")
	if !ok {
		msg = fmt.Sprint(p["msg"])
	}
	h.log.Error("unhandled error in page", "msg", msg)
	if !h.opts.ShowErrorDialogs {
		return nil
	}
	if !h.opts.ErrorLimit.Allow() {
		h.log.Debug("unhandled error notice suppressed by rate limit")
		return nil
	}
	h.notice(ctx, "Unhandled error", msg)
	return nil
}

func (h *Host) refreshGrid(context.Context, bridge.Payload) error {
	h.refresh.Emit(struct{}{})
	return nil
}

func (h *Host) setWallpaper(ctx context.Context, p bridge.Payload) error {
	raw, _ := p.String("url")
	path := files.LocalPathFromURL(raw)
	if path == "" {
		h.notice(ctx, "Wallpaper Error", fmt.Sprintf("Failed to set wallpaper: %q is not a local file", raw))
		return nil
	}
	if h.opts.Wallpaper == nil {
		h.notice(ctx, "Wallpaper Error", "Failed to set wallpaper: no wallpaper command configured")
		return nil
	}

	setCtx, cancel := context.WithTimeout(ctx, wallpaperTimeout)
	defer cancel()
	err := h.opts.Wallpaper.Set(setCtx, path)
	switch {
	case err == nil:
	case errors.Is(err, exec.ErrNotFound):
		name := h.opts.Wallpaper.Name()
		h.notice(ctx, "Wallpaper Error", fmt.Sprintf("%s command not found. Please install %s.", name, name))
	default:
		h.notice(ctx, "Wallpaper Error", fmt.Sprintf("Failed to set wallpaper: %v", err))
	}
	return nil
}

func (h *Host) exitApplication(context.Context, bridge.Payload) error {
	if h.opts.Quit != nil {
		h.opts.Quit()
	}
	return nil
}

func (h *Host) notice(ctx context.Context, title, message string) {
	if err := h.opts.Notifier.Critical(ctx, title, message); err != nil {
		h.log.Warn("failed to show notice", "title", title, "error", err)
	}
}
