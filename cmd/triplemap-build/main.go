// Command triplemap-build ingests a SPARQL backend's geometry column
// into a persisted cache file, ready for triplemapd or
// triplemap-nearest to load without repeating the WKT and binary-id
// passes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/kvnloo/triplemap/backend"
	"github.com/kvnloo/triplemap/geomcache"
)

func main() {
	backendURL := flag.String("backend-url", "", "base URL of the triple store backend")
	out := flag.String("out", "cache.bin", "output cache file path")
	flag.Parse()

	if *backendURL == "" {
		log.Fatal("-backend-url is required")
	}

	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	start := time.Now()

	cache := geomcache.New(*backendURL, zl)
	client := backend.New(*backendURL, nil)

	fmt.Printf("Building cache from %s...\n", *backendURL)
	if err := cache.Build(context.Background(), client); err != nil {
		log.Fatalf("build: %v", err)
	}

	if err := cache.SerializeToDisk(*out); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}

	fmt.Printf("Done in %v, wrote %s\n", time.Since(start), *out)
}
