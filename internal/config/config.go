package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppName names the per-user config and cache directories.
const AppName = "iv"

const defaultCompiler = "rapydscript compile -C {cache} --js-version 6 {entry} -o {output}"

// Config holds all configuration for the viewer host.
type Config struct {
	// Per-user directories
	ConfigDir string
	CacheDir  string

	// Browser and CDP connection
	CDPAddress    string
	CDPPort       int
	LaunchBrowser bool
	Headless      bool
	EvalTimeoutMS int

	// Client page and script bundle
	ClientDir      string
	ClientCompiler []string
	PageURL        string

	// Host actions
	WallpaperCommand string
	ShowErrorDialogs bool
	NTFYEndpoint     string

	// Control API; empty APIAddr disables it
	APIAddr             string
	APIPortCandidates   []string
	APIPortAutoFallback bool

	Watch    bool
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		ConfigDir:           getEnvOrDefault("IV_CONFIG_DIR", defaultDir(os.UserConfigDir, AppName)),
		CacheDir:            getEnvOrDefault("IV_CACHE_DIR", defaultDir(os.UserCacheDir, "")),
		CDPAddress:          getEnvOrDefault("IV_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:             getEnvIntOrDefault("IV_CDP_PORT", 9231),
		LaunchBrowser:       getEnvBoolOrDefault("IV_BROWSER_LAUNCH", true),
		Headless:            getEnvBoolOrDefault("IV_BROWSER_HEADLESS", false),
		EvalTimeoutMS:       getEnvIntOrDefault("IV_EVAL_TIMEOUT_MS", 5000),
		ClientDir:           getEnvOrDefault("IV_CLIENT_DIR", "./client"),
		ClientCompiler:      strings.Fields(getEnvOrDefault("IV_CLIENT_COMPILER", defaultCompiler)),
		PageURL:             os.Getenv("IV_PAGE_URL"),
		WallpaperCommand:    getEnvOrDefault("IV_WALLPAPER_COMMAND", "swww img {path}"),
		ShowErrorDialogs:    getEnvBoolOrDefault("IV_SHOW_ERROR_DIALOGS", false),
		NTFYEndpoint:        os.Getenv("IV_NTFY_ENDPOINT"),
		APIAddr:             os.Getenv("IV_API_ADDR"),
		APIPortCandidates:   splitList(os.Getenv("IV_API_PORT_CANDIDATES")),
		APIPortAutoFallback: getEnvBoolOrDefault("IV_API_PORT_AUTO_FALLBACK", true),
		Watch:               getEnvBoolOrDefault("IV_WATCH", false),
		LogLevel:            strings.ToLower(getEnvOrDefault("IV_LOG_LEVEL", "info")),
		LogFile:             getEnvOrDefault("IV_LOG_FILE", ""),
	}
	if cfg.EvalTimeoutMS < 100 {
		cfg.EvalTimeoutMS = 100
	}
	if cfg.CDPPort <= 0 || cfg.CDPPort > 65535 {
		return nil, fmt.Errorf("config: IV_CDP_PORT out of range: %d", cfg.CDPPort)
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.CacheDir, AppName, "logs", "iv.log")
	}

	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// SettingsPath is the viewer settings file.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.ConfigDir, "settings.json")
}

// EvalTimeout is the per-evaluation timeout.
func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMS) * time.Millisecond
}

// ClientPageURL returns PageURL, or the client directory's index.html.
func (c *Config) ClientPageURL() string {
	if c.PageURL != "" {
		return c.PageURL
	}
	abs, err := filepath.Abs(filepath.Join(c.ClientDir, "index.html"))
	if err != nil {
		abs = filepath.Join(c.ClientDir, "index.html")
	}
	return "file://" + filepath.ToSlash(abs)
}

func defaultDir(base func() (string, error), sub string) string {
	dir, err := base()
	if err != nil {
		dir = filepath.Join(os.TempDir(), AppName)
		slog.Debug("no per-user directory, using temp dir", "dir", dir, "error", err)
		return dir
	}
	if sub == "" {
		return dir
	}
	return filepath.Join(dir, sub)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
