package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
	"time"
)

const (
	readyTimeout = 15 * time.Second
	stopGrace    = 5 * time.Second
)

// browserNames are looked up on PATH in order.
var browserNames = []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}

const macChrome = "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"

// Config describes the browser process hosting the viewer page.
type Config struct {
	CDPAddress string
	CDPPort    int
	// StorageDir is the persistent profile (--user-data-dir).
	StorageDir string
	// CacheDir holds the HTTP disk cache (--disk-cache-dir).
	CacheDir   string
	Headless   bool
	WindowSize string
	// Binary overrides browser detection.
	Binary string
}

// Launcher spawns a browser with remote debugging enabled, or adopts one that
// already listens on the configured port.
type Launcher struct {
	cfg     Config
	cmd     *exec.Cmd
	running bool
	exited  chan struct{}
}

func NewLauncher(cfg Config) *Launcher {
	if cfg.WindowSize == "" {
		cfg.WindowSize = "1280,800"
	}
	return &Launcher{cfg: cfg}
}

func (l *Launcher) hostPort() string {
	return net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort))
}

func findBrowser() (string, error) {
	for _, name := range browserNames {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	if runtime.GOOS == "darwin" {
		if _, err := os.Stat(macChrome); err == nil {
			return macChrome, nil
		}
	}
	return "", fmt.Errorf("no chromium-based browser on PATH (looked for %v)", browserNames)
}

func isPortInUse(address string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Args returns the browser command line. The initial page is always
// about:blank; the viewer navigates it after attaching.
func (l *Launcher) Args() []string {
	c := l.cfg
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(c.CDPPort),
		"--remote-debugging-address=" + c.CDPAddress,
		"--user-data-dir=" + c.StorageDir,
		"--window-size=" + c.WindowSize,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
		"--disable-breakpad",
		"--allow-file-access-from-files",
	}
	if c.CacheDir != "" {
		args = append(args, "--disk-cache-dir="+c.CacheDir)
	}
	if c.Headless {
		args = append(args, "--headless=new")
	}
	return append(args, "about:blank")
}

// Launch starts the browser and blocks until its DevTools endpoint answers.
// If something already listens on the CDP port, Launch adopts it and returns.
func (l *Launcher) Launch(ctx context.Context) error {
	if isPortInUse(l.cfg.CDPAddress, l.cfg.CDPPort) {
		slog.Info("reusing browser already listening", "addr", l.hostPort())
		return nil
	}

	bin := l.cfg.Binary
	if bin == "" {
		var err error
		if bin, err = findBrowser(); err != nil {
			return err
		}
	}
	for _, dir := range []string{l.cfg.StorageDir, l.cfg.CacheDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create profile dir: %w", err)
		}
	}

	cmd := exec.Command(bin, l.Args()...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", bin, err)
	}
	l.cmd, l.running = cmd, true
	l.exited = make(chan struct{})
	go func(exited chan struct{}) {
		err := cmd.Wait()
		slog.Debug("browser process exited", "pid", cmd.Process.Pid, "error", err)
		close(exited)
	}(l.exited)
	slog.Info("browser started", "path", bin, "pid", cmd.Process.Pid)

	if err := l.waitReady(ctx); err != nil {
		l.Stop()
		return fmt.Errorf("waiting for CDP: %w", err)
	}
	slog.Info("CDP endpoint ready", "addr", l.hostPort())
	return nil
}

// waitReady polls /json/version with a growing interval.
func (l *Launcher) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	url := "http://" + l.hostPort() + "/json/version"
	client := &http.Client{Timeout: time.Second}
	delay := 50 * time.Millisecond
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if resp, err := client.Do(req); err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("no answer from %s within %s", url, readyTimeout)
			}
			return ctx.Err()
		case <-l.exited:
			return errors.New("browser exited before CDP became ready")
		case <-time.After(delay):
		}
		delay = min(delay*2, 500*time.Millisecond)
	}
}

// Running reports whether this launcher spawned the browser.
func (l *Launcher) Running() bool {
	return l.running
}

// Exited is closed when a spawned browser exits; nil if none was spawned.
func (l *Launcher) Exited() <-chan struct{} {
	return l.exited
}

// Stop sends SIGTERM and escalates to SIGKILL after a grace period. It is a
// no-op when the browser was adopted rather than spawned.
func (l *Launcher) Stop() {
	if l.cmd == nil || l.cmd.Process == nil || !l.running {
		return
	}
	pid := l.cmd.Process.Pid
	slog.Info("stopping browser", "pid", pid)
	_ = l.cmd.Process.Signal(syscall.SIGTERM)

	t := time.NewTimer(stopGrace)
	defer t.Stop()
	select {
	case <-l.exited:
	case <-t.C:
		slog.Warn("browser ignored SIGTERM, killing", "pid", pid)
		_ = l.cmd.Process.Kill()
		<-l.exited
	}
	l.running = false
}
