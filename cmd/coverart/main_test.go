package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tunez/coverart/internal/asyncio"
	"github.com/tunez/coverart/internal/config"
	"github.com/tunez/coverart/internal/logging"
)

func TestManagerOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Dir = filepath.Join(t.TempDir(), "cache")
	cfg.Cache.MaxAgeDays = 2
	cfg.HTTP.ConnectTimeoutMS = 1500
	cfg.Debug.StrictThreadChecks = true

	opts := managerOptions(&cfg, logging.Discard(), nil)
	if opts.CacheDir != cfg.Cache.Dir {
		t.Errorf("cache dir %q", opts.CacheDir)
	}
	if opts.MaxMemoryBytes != 64<<20 || opts.MaxDiskBytes != 512<<20 || opts.MaxReadSize != 50<<20 {
		t.Errorf("sizes not carried over: %+v", opts)
	}
	if opts.MaxAge != 48*time.Hour {
		t.Errorf("max age %v", opts.MaxAge)
	}
	if opts.HTTP.ConnectTimeout != 1500*time.Millisecond || opts.HTTP.MaxBodyBytes != 20<<20 || opts.HTTP.UserAgent != "coverart/1.0" {
		t.Errorf("http options %+v", opts.HTTP)
	}
	if !opts.StrictThreadChecks {
		t.Error("strict thread checks not carried over")
	}
}

func TestNewResolverFollowsEnabled(t *testing.T) {
	mgr, err := asyncio.New(asyncio.Options{Workers: 1, CacheDir: t.TempDir(), Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("asyncio.New: %v", err)
	}
	t.Cleanup(mgr.Shutdown)

	cfg := config.Default()
	if newResolver(&cfg, mgr, logging.Discard()) == nil {
		t.Fatal("expected a resolver with artwork enabled")
	}
	cfg.Artwork.Enabled = false
	if r := newResolver(&cfg, mgr, logging.Discard()); r != nil {
		t.Fatal("expected no resolver with artwork turned off")
	}
}
