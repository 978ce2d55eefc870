package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
[cache]
dir = "`+filepath.ToSlash(dir)+`"
memory_size = "8MiB"
disk_size = "1Gi"
max_age_days = 7

[pool]
workers = 3

[http]
receive_timeout_ms = 5000
user_agent = "test-agent"

[artwork]
sources = ["Embedded", "cache"]

[stream]
delay_ms = 1500
`)
	cfg, got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != path {
		t.Errorf("expected path %s, got %s", path, got)
	}
	if cfg.Cache.MemorySize != 8<<20 || cfg.Cache.DiskSize != 1<<30 {
		t.Errorf("sizes not parsed: %v / %v", cfg.Cache.MemorySize, cfg.Cache.DiskSize)
	}
	if cfg.Cache.MaxAge() != 7*24*time.Hour {
		t.Errorf("unexpected max age %v", cfg.Cache.MaxAge())
	}
	if cfg.Pool.Workers != 3 || cfg.HTTP.UserAgent != "test-agent" {
		t.Errorf("unexpected values %+v %+v", cfg.Pool, cfg.HTTP)
	}
	if cfg.HTTP.ReceiveTimeout() != 5*time.Second || cfg.HTTP.ConnectTimeout() != 10*time.Second {
		t.Errorf("timeouts: receive %v connect %v", cfg.HTTP.ReceiveTimeout(), cfg.HTTP.ConnectTimeout())
	}
	if len(cfg.Artwork.Sources) != 2 || cfg.Artwork.Sources[0] != SourceEmbedded {
		t.Errorf("sources not normalized: %v", cfg.Artwork.Sources)
	}
	if !cfg.Artwork.Enabled || cfg.Artwork.Width != 40 {
		t.Errorf("artwork defaults lost: %+v", cfg.Artwork)
	}
	if cfg.Stream.Delay() != 1500*time.Millisecond {
		t.Errorf("unexpected delay %v", cfg.Stream.Delay())
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad toml", "[cache\n"},
		{"bad size", "[cache]\nmemory_size = \"lots\"\n"},
		{"unknown source", "[artwork]\nsources = [\"itunes\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for an explicit missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Cache.Dir = t.TempDir()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"missing cache dir", func(c *Config) { c.Cache.Dir = "" }, true},
		{"negative workers", func(c *Config) { c.Pool.Workers = -1 }, true},
		{"negative timeout", func(c *Config) { c.HTTP.SendTimeoutMS = -5 }, true},
		{"zero artwork size", func(c *Config) { c.Artwork.Width = 0 }, true},
		{"duplicate source", func(c *Config) { c.Artwork.Sources = []string{"cache", "cache"} }, true},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled, c.Metrics.Addr = true, "" }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, true},
		{"bad url template", func(c *Config) { c.Artwork.URLTemplate = "covers/{album}" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.Artwork.Sources = append([]string(nil), valid.Artwork.Sources...)
			tt.mutate(&cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{"1024", 1024, false},
		{"64Mi", 64 << 20, false},
		{"64MiB", 64 << 20, false},
		{"1 GB", 1_000_000_000, false},
		{"huge", 0, true},
	}
	for _, tt := range tests {
		var b ByteSize
		err := b.UnmarshalText([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("UnmarshalText(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if b != tt.want {
			t.Errorf("UnmarshalText(%q) = %d, want %d", tt.in, b, tt.want)
		}
	}
}
