package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
)

// Artwork sources, tried in the configured order.
const (
	SourceCache    = "cache"
	SourceEmbedded = "embedded"
	SourceFolder   = "folder"
	SourceURL      = "url"
)

// Config holds coverart runtime configuration loaded from TOML.
type Config struct {
	Cache   CacheConfig   `toml:"cache"`
	Pool    PoolConfig    `toml:"pool"`
	IO      IOConfig      `toml:"io"`
	HTTP    HTTPConfig    `toml:"http"`
	Artwork ArtworkConfig `toml:"artwork"`
	Stream  StreamConfig  `toml:"stream"`
	Metrics MetricsConfig `toml:"metrics"`
	Debug   DebugConfig   `toml:"debug"`
	Log     LogConfig     `toml:"log"`
	UI      UIConfig      `toml:"ui"`
}

type CacheConfig struct {
	Dir              string   `toml:"dir"`
	MemorySize       ByteSize `toml:"memory_size"`
	MaxMemoryEntries int      `toml:"max_memory_entries"`
	DiskSize         ByteSize `toml:"disk_size"` // 0 = unbounded
	MaxAgeDays       int      `toml:"max_age_days"`
}

type PoolConfig struct {
	Workers int `toml:"workers"` // 0 = one per CPU
}

type IOConfig struct {
	Pollers     int      `toml:"pollers"`
	MaxReadSize ByteSize `toml:"max_read_size"`
}

type HTTPConfig struct {
	ConnectTimeoutMS       int      `toml:"connect_timeout_ms"`
	SendTimeoutMS          int      `toml:"send_timeout_ms"`
	ReceiveHeaderTimeoutMS int      `toml:"receive_header_timeout_ms"`
	ReceiveTimeoutMS       int      `toml:"receive_timeout_ms"`
	MaxBodySize            ByteSize `toml:"max_body_size"`
	UserAgent              string   `toml:"user_agent"`
}

// ArtworkConfig holds artwork resolution and display settings.
type ArtworkConfig struct {
	Enabled     bool     `toml:"enabled"`
	Width       int      `toml:"width"`
	Height      int      `toml:"height"`
	Sources     []string `toml:"sources"`
	FolderNames []string `toml:"folder_names"`
	// URLTemplate is expanded with {artist}, {album} and {title}.
	URLTemplate string `toml:"url_template"`
}

type StreamConfig struct {
	DelayMS        int    `toml:"delay_ms"`
	NowPlayingFile string `toml:"now_playing_file"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type DebugConfig struct {
	StrictThreadChecks bool `toml:"strict_thread_checks"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type UIConfig struct {
	Theme   string `toml:"theme"`
	NoEmoji bool   `toml:"no_emoji"`
}

// ByteSize is a size in bytes written as "64MiB", "64Mi", "1GB" or a plain
// number.
type ByteSize uint64

func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", text, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			MemorySize:       64 << 20,
			MaxMemoryEntries: 512,
			DiskSize:         512 << 20,
			MaxAgeDays:       30,
		},
		IO: IOConfig{Pollers: 2, MaxReadSize: 50 << 20},
		HTTP: HTTPConfig{
			ConnectTimeoutMS:       10_000,
			SendTimeoutMS:          10_000,
			ReceiveHeaderTimeoutMS: 15_000,
			ReceiveTimeoutMS:       30_000,
			MaxBodySize:            20 << 20,
			UserAgent:              "coverart/1.0",
		},
		Artwork: ArtworkConfig{
			Enabled:     true,
			Width:       40,
			Height:      20,
			Sources:     []string{SourceCache, SourceEmbedded, SourceFolder, SourceURL},
			FolderNames: []string{"cover", "folder", "front", "album", "albumart"},
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9464"},
		Log:     LogConfig{Level: "info"},
		UI:      UIConfig{Theme: "rainbow"},
	}
}

// Load reads configuration from disk over the defaults. If path is empty, a
// default OS-specific location is used and a missing file yields the defaults.
func Load(path string) (*Config, string, error) {
	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = DefaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve config path: %w", err)
		}
	}

	cfg := Default()
	data, err := os.ReadFile(cfgPath)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, cfgPath, fmt.Errorf("parse config: %w", err)
		}
	case path == "" && errors.Is(err, os.ErrNotExist):
	default:
		return nil, cfgPath, fmt.Errorf("read config: %w", err)
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, cfgPath, err
	}
	if err := Validate(cfg); err != nil {
		return nil, cfgPath, err
	}
	return &cfg, cfgPath, nil
}

// DefaultPath returns the OS-specific config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	name := "coverart"
	if runtime.GOOS == "windows" {
		name = "Coverart"
	}
	return filepath.Join(dir, name, "config.toml"), nil
}

func applyDefaults(cfg *Config) error {
	if cfg.Cache.Dir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("resolve cache dir: %w", err)
		}
		cfg.Cache.Dir = filepath.Join(dir, "coverart")
	}
	if strings.HasPrefix(cfg.Cache.Dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Cache.Dir = filepath.Join(home, cfg.Cache.Dir[2:])
		}
	}
	if len(cfg.Artwork.Sources) == 0 {
		cfg.Artwork.Sources = Default().Artwork.Sources
	}
	for i, s := range cfg.Artwork.Sources {
		cfg.Artwork.Sources[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return nil
}

// Validate performs semantic validation of cfg.
func Validate(cfg Config) error {
	if cfg.Cache.Dir == "" {
		return errors.New("cache.dir is required")
	}
	if cfg.Cache.MaxMemoryEntries < 0 || cfg.Cache.MaxAgeDays < 0 {
		return errors.New("cache limits must not be negative")
	}
	if cfg.Pool.Workers < 0 {
		return errors.New("pool.workers must not be negative")
	}
	if cfg.IO.Pollers < 0 {
		return errors.New("io.pollers must not be negative")
	}
	for name, v := range map[string]int{
		"http.connect_timeout_ms":        cfg.HTTP.ConnectTimeoutMS,
		"http.send_timeout_ms":           cfg.HTTP.SendTimeoutMS,
		"http.receive_header_timeout_ms": cfg.HTTP.ReceiveHeaderTimeoutMS,
		"http.receive_timeout_ms":        cfg.HTTP.ReceiveTimeoutMS,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if cfg.Artwork.Width <= 0 || cfg.Artwork.Height <= 0 {
		return errors.New("artwork.width and artwork.height must be positive")
	}
	seen := make(map[string]bool)
	for _, s := range cfg.Artwork.Sources {
		switch s {
		case SourceCache, SourceEmbedded, SourceFolder, SourceURL:
		default:
			return fmt.Errorf("unknown artwork source %q", s)
		}
		if seen[s] {
			return fmt.Errorf("artwork source %q listed twice", s)
		}
		seen[s] = true
	}
	if seen[SourceURL] && cfg.Artwork.URLTemplate != "" && !strings.Contains(cfg.Artwork.URLTemplate, "://") {
		return fmt.Errorf("artwork.url_template %q is not a URL", cfg.Artwork.URLTemplate)
	}
	if cfg.Stream.DelayMS < 0 {
		return errors.New("stream.delay_ms must not be negative")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log.level %q", cfg.Log.Level)
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (h HTTPConfig) ConnectTimeout() time.Duration       { return ms(h.ConnectTimeoutMS) }
func (h HTTPConfig) SendTimeout() time.Duration          { return ms(h.SendTimeoutMS) }
func (h HTTPConfig) ReceiveHeaderTimeout() time.Duration { return ms(h.ReceiveHeaderTimeoutMS) }
func (h HTTPConfig) ReceiveTimeout() time.Duration       { return ms(h.ReceiveTimeoutMS) }

// Delay is the stream delay applied before showing a new title.
func (s StreamConfig) Delay() time.Duration { return ms(s.DelayMS) }

// MaxAge is the disk cache expiry; 0 disables it.
func (c CacheConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}
