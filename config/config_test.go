package config

import (
	"flag"
	"testing"
)

func TestParseFlagsOverrideDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Parse(fs, []string{
		"-backend-url=http://example.com/sparql",
		"-max-memory-bytes=1024",
		"-num-threads=4",
		"-listen-port=9090",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.BackendURL != "http://example.com/sparql" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.MaxMemoryBytes != 1024 {
		t.Errorf("MaxMemoryBytes = %d", cfg.MaxMemoryBytes)
	}
	if cfg.NumThreads != 4 {
		t.Errorf("NumThreads = %d", cfg.NumThreads)
	}
	if cfg.ListenPort != 9090 {
		t.Errorf("ListenPort = %d", cfg.ListenPort)
	}
}

func TestParseCachePathAndRowCachePathAreIndependent(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Parse(fs, []string{
		"-cache-path=/data/geom.cache",
		"-row-cache-path=/data/rows.bbolt",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.CachePath != "/data/geom.cache" {
		t.Errorf("CachePath = %q", cfg.CachePath)
	}
	if cfg.RowCachePath != "/data/rows.bbolt" {
		t.Errorf("RowCachePath = %q", cfg.RowCachePath)
	}
}

func TestParseDefaultsNumThreadsToNumCPU(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Parse(fs, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.NumThreads <= 0 {
		t.Errorf("NumThreads = %d, want > 0", cfg.NumThreads)
	}
	if cfg.ListenPort != 8080 {
		t.Errorf("ListenPort default = %d, want 8080", cfg.ListenPort)
	}
}
