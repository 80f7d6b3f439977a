// Package session pairs a rendering page with a message bridge and the host
// actions that serve it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dgnsrekt/iv/internal/actions"
	"github.com/dgnsrekt/iv/internal/bridge"
	"github.com/dgnsrekt/iv/internal/cdpcontrol"
	"github.com/dgnsrekt/iv/internal/files"
	"github.com/dgnsrekt/iv/internal/inject"
	"github.com/dgnsrekt/iv/internal/loop"
	"github.com/dgnsrekt/iv/internal/notify"
	"github.com/dgnsrekt/iv/internal/profile"
	"github.com/dgnsrekt/iv/internal/settings"
)

// Page functions the host calls.
const (
	FuncImageChanged = "image_changed"
	FuncRefreshFiles = "refresh_files"
)

// Page is the rendering surface a session drives. *cdpcontrol.Page satisfies
// it.
type Page interface {
	TargetID() string
	Evaluate(ctx context.Context, expression string, world inject.World) (cdpcontrol.Value, error)
	Scripts() inject.Collection
	Navigate(ctx context.Context, url string) error
	SetUserAgent(ctx context.Context, userAgent string) error
	Alert(ctx context.Context, title, message string) error
	OnTitleChanged(fn func(title string)) func()
	OnConsole(fn func(cdpcontrol.ConsoleEvent)) func()
	OnCrash(fn func(cdpcontrol.CrashEvent)) func()
	OnDestroyed(fn func()) func()
}

var _ Page = (*cdpcontrol.Page)(nil)

// Deps holds what a session is built from.
type Deps struct {
	Loop     *loop.Loop
	Page     Page
	Profile  *profile.Profile
	Settings *settings.Store
	// Client is the compiled client script; nil skips it.
	Client *inject.ClientLoader
	// Args are the file and directory arguments the grid is built from.
	Args    []string
	PageURL string

	// Actions configures the host actions. Its Settings and Quit fields are
	// filled from Deps. Notices are logged on the loop, then delivered to
	// Actions.Notifier and a page alert on their own goroutine.
	Actions actions.Options
	Quit    func()
	// Publish receives session events. Optional.
	Publish func(Event)
	Logger  *slog.Logger
}

// View is one open viewer session. Apart from Open, Close and Drain, its
// methods must be called on the loop.
type View struct {
	id       string
	loop     *loop.Loop
	page     Page
	profile  *profile.Profile
	settings *settings.Store
	args     []string
	publish  func(Event)
	log      *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc

	bridge  *bridge.Bridge
	host    *actions.Host
	notices *notify.Async
	files   []files.Record

	// refreshGen orders Refresh results; only the newest is delivered.
	refreshGen atomic.Uint64

	// mirrorMu serializes script installs into the page.
	mirrorMu  sync.Mutex
	closeOnce sync.Once
}

// Open builds the session on deps.Page and loads the viewer page. It performs
// blocking calls against the page and must not be called on the loop.
func Open(ctx context.Context, deps Deps) (*View, error) {
	if deps.Loop == nil || deps.Page == nil || deps.Profile == nil || deps.Settings == nil {
		return nil, errors.New("session: loop, page, profile and settings are required")
	}
	id := uuid.NewString()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id, "target_id", deps.Page.TargetID())

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	v := &View{
		id:       id,
		loop:     deps.Loop,
		page:     deps.Page,
		profile:  deps.Profile,
		settings: deps.Settings,
		args:     deps.Args,
		publish:  deps.Publish,
		log:      logger,
		ctx:      sctx,
		cancel:   cancel,
	}

	if err := v.installScripts(ctx, deps.Client); err != nil {
		cancel()
		return nil, err
	}

	v.bridge = bridge.New(surface{view: v}, bridge.WithLogger(logger), bridge.WithContext(sctx))

	opts := deps.Actions
	opts.Settings = deps.Settings
	opts.Quit = deps.Quit
	opts.Logger = logger
	v.notices = &notify.Async{
		Notifier: notify.Multi{opts.Notifier, notify.Func(deps.Page.Alert)},
		Timeout:  noticeTimeout,
		Logger:   logger,
	}
	opts.Notifier = notify.Multi{notify.Log{Logger: logger}, v.notices}
	v.host = actions.New(opts)
	v.host.Register(v.bridge)

	v.subscribe(deps.Quit)

	if ua := deps.Profile.UserAgent(); ua != "" {
		if err := deps.Page.SetUserAgent(ctx, ua); err != nil {
			logger.Warn("failed to set user agent", "error", err)
		}
	}
	if deps.PageURL != "" {
		if err := deps.Page.Navigate(ctx, deps.PageURL); err != nil {
			v.closeOffLoop()
			return nil, fmt.Errorf("session: load %s: %w", deps.PageURL, err)
		}
	}

	logger.Info("session opened", "files", len(v.files), "url", deps.PageURL)
	return v, nil
}

func (v *View) installScripts(ctx context.Context, client *inject.ClientLoader) error {
	if client != nil {
		if err := v.profile.InstallClient(ctx, client); err != nil {
			return fmt.Errorf("session: %w", err)
		}
	}
	cfg, err := v.settings.Read()
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	v.files = files.Collect(v.args)
	if err := v.profile.InstallData(v.files, cfg); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return v.mirror(v.profile.Scripts.All()...)
}

// mirror installs scripts into the page so they run on every new document.
func (v *View) mirror(scripts ...*inject.Script) error {
	v.mirrorMu.Lock()
	defer v.mirrorMu.Unlock()
	if err := inject.Install(v.page.Scripts(), scripts...); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

// mirrorIfCurrent installs a refresh's data script unless a newer refresh
// has started; the newer one installs its own.
func (v *View) mirrorIfCurrent(gen uint64, data []*inject.Script) error {
	v.mirrorMu.Lock()
	defer v.mirrorMu.Unlock()
	if v.refreshGen.Load() != gen {
		return nil
	}
	if err := inject.Install(v.page.Scripts(), data...); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

func (v *View) subscribe(quit func()) {
	post := func(fn func()) {
		if !v.loop.Post(fn) {
			v.log.Debug("loop closed, dropping page event")
		}
	}

	v.bridge.AddDisposer(v.page.OnTitleChanged(func(string) {
		post(v.bridge.Poll)
	}))
	v.bridge.AddDisposer(v.page.OnConsole(func(ev cdpcontrol.ConsoleEvent) {
		msg := bridge.ConsoleMessage{Level: ev.Level, Message: ev.Message, Source: ev.Source, Line: ev.Line}
		post(func() { v.bridge.LogConsole(msg) })
	}))
	v.bridge.AddDisposer(v.page.OnCrash(func(ev cdpcontrol.CrashEvent) {
		post(func() { v.crashed(ev) })
	}))
	v.bridge.AddDisposer(v.page.OnDestroyed(func() {
		post(func() {
			v.log.Info("viewer page closed")
			v.emit(Event{Type: EventClosed})
			if quit != nil {
				quit()
			}
		})
	}))
	v.bridge.AddDisposer(v.host.OnTitle(func(title *string) {
		v.emit(Event{Type: EventTitle, Title: title})
	}))
	v.bridge.AddDisposer(v.host.OnRefresh(v.Refresh))
}

func (v *View) crashed(ev cdpcontrol.CrashEvent) {
	title, verb := "Render process exited", "exited"
	if ev.Crashed {
		title, verb = "Render process crashed", "crashed"
	}
	msg := fmt.Sprintf("The render process %s while displaying the images with exit code: %s", verb, ev.ExitCodeText())
	v.log.Error(title, "status", ev.Status, "exit_code", ev.ExitCode)
	v.emit(Event{Type: EventCrash, Message: msg})
	_ = v.notices.Critical(v.ctx, title, msg)
}

func (v *View) emit(ev Event) {
	if v.publish == nil {
		return
	}
	ev.SessionID = v.id
	v.publish(ev)
}

// ID returns the session id.
func (v *View) ID() string {
	return v.id
}

// Title returns the current window title; nil while the grid is shown.
func (v *View) Title() *string {
	return v.host.Title()
}

// Files returns the records last sent to the page.
func (v *View) Files() []files.Record {
	return v.files
}

// Bridge returns the session's message bridge.
func (v *View) Bridge() *bridge.Bridge {
	return v.bridge
}

// ImageChanged tells the page an image's metadata changed.
func (v *View) ImageChanged(key string, metadata any) error {
	return v.bridge.Call(FuncImageChanged, key, metadata)
}

// RefreshFiles sends records to the page.
func (v *View) RefreshFiles(records []files.Record) error {
	if records == nil {
		records = []files.Record{}
	}
	return v.bridge.Call(FuncRefreshFiles, records)
}

// Refresh re-enumerates the file arguments, updates the data script for
// future documents and pushes the records to the current one.
func (v *View) Refresh() {
	if v.bridge.State() == bridge.TornDown {
		return
	}
	records := files.Collect(v.args)
	v.files = records
	cfg, err := v.settings.Read()
	if err != nil {
		v.log.Warn("refresh: settings unavailable, using defaults", "error", err)
		cfg = settings.Defaults()
	}
	if err := v.profile.InstallData(records, cfg); err != nil {
		v.log.Error("refresh: failed to build data script", "error", err)
		return
	}
	data := v.profile.Scripts.Find(inject.DataScriptName)
	gen := v.refreshGen.Add(1)

	go func() {
		if err := v.mirrorIfCurrent(gen, data); err != nil {
			v.log.Warn("refresh: failed to update page scripts", "error", err)
		}
		v.loop.Post(func() {
			if v.refreshGen.Load() != gen {
				v.log.Debug("refresh: superseded, not sending files", "generation", gen)
				return
			}
			if err := v.RefreshFiles(records); err != nil && !errors.Is(err, bridge.ErrTornDown) {
				v.log.Warn("refresh: failed to send files", "error", err)
			}
		})
	}()
	v.emit(Event{Type: EventRefresh})
	v.log.Info("files refreshed", "files", len(records))
}

// closeOffLoop closes v from a goroutine other than the loop's. While the
// loop runs, the teardown is queued behind page events already posted.
func (v *View) closeOffLoop() {
	if !v.loop.Running() {
		v.Close()
		return
	}
	done := make(chan struct{})
	if !v.loop.Post(func() { v.Close(); close(done) }) {
		v.Close()
		return
	}
	select {
	case <-done:
	case <-v.loop.Done():
		v.Close()
	}
}

// Drain waits for notices still being delivered. Call it after the loop has
// stopped.
func (v *View) Drain() {
	v.notices.Wait()
}

// Close tears the session down. It is safe to call more than once, from the
// loop or after the loop has stopped.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.bridge.Teardown()
		v.cancel()
		v.log.Info("session closed")
	})
}

// surface runs scripts on the page off the loop and posts completions back.
type surface struct {
	view *View
}

func (s surface) RunJavaScript(source string, world inject.World, done bridge.ResultFunc) {
	v := s.view
	go func() {
		val, err := v.page.Evaluate(v.ctx, source, world)
		text := val.Text()
		if !v.loop.Post(func() { done(text, err) }) {
			v.log.Debug("loop closed, dropping script result")
		}
	}()
}
