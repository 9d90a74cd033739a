// Package config defines the daemon's runtime configuration, filled
// from flags by the cmd/ entry points and overridable by environment
// variables for containerised deployment.
package config

import (
	"flag"
	"os"
	"runtime"
	"strconv"
)

// Config holds every option the core recognises: the backend to
// query, where (if anywhere) to persist the geometry cache and the
// attribute row cache, the memory ceiling, worker count, and the HTTP
// listen port.
type Config struct {
	BackendURL     string
	CachePath      string // primary geometry cache: preloaded at startup, default target of /load
	RowCachePath   string // bbolt-backed attribute row cache
	MaxMemoryBytes int64
	NumThreads     int
	ListenPort     int
}

// Parse registers flags on fs (pass flag.CommandLine for the real
// process) and returns the resulting Config, with environment
// variables TRIPLEMAP_* overriding defaults before flags are parsed so
// that an explicit flag still wins.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config

	fs.StringVar(&cfg.BackendURL, "backend-url", envOr("TRIPLEMAP_BACKEND_URL", ""), "base URL of the triple store backend")
	fs.StringVar(&cfg.CachePath, "cache-path", envOr("TRIPLEMAP_CACHE_PATH", ""), "path to preload the geometry cache from at startup, and the default /load persistence target (empty = in-memory only)")
	fs.StringVar(&cfg.RowCachePath, "row-cache-path", envOr("TRIPLEMAP_ROW_CACHE_PATH", ""), "path to a bbolt-backed attribute row cache (empty = no row cache)")
	fs.Int64Var(&cfg.MaxMemoryBytes, "max-memory-bytes", envOrInt64("TRIPLEMAP_MAX_MEMORY_BYTES", 0), "memory ceiling in bytes (0 = unlimited)")
	fs.IntVar(&cfg.NumThreads, "num-threads", envOrInt("TRIPLEMAP_NUM_THREADS", 0), "worker count stored in Config (0 = runtime.NumCPU()); the requestor's fork-join sections do not read it and always use runtime.NumCPU()")
	fs.IntVar(&cfg.ListenPort, "listen-port", envOrInt("TRIPLEMAP_LISTEN_PORT", 8080), "HTTP listen port")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = runtime.NumCPU()
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
