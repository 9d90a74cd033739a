// Command triplemap-nearest loads a persisted geometry cache, runs a
// live query's object materialisation against a backend, and reports
// the nearest object to a given projected point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/kvnloo/triplemap/backend"
	"github.com/kvnloo/triplemap/geomcache"
	"github.com/kvnloo/triplemap/requestor"
	"github.com/kvnloo/triplemap/spatial"
)

func main() {
	backendURL := flag.String("backend-url", "", "base URL of the triple store backend")
	cachePath := flag.String("cache", "cache.bin", "persisted cache file to load")
	query := flag.String("query", "", "SPARQL query to materialise")
	x := flag.Float64("x", 0, "X coordinate in projected units")
	y := flag.Float64("y", 0, "Y coordinate in projected units")
	rad := flag.Float64("r", 100, "search radius in projected units")
	flag.Parse()

	if *backendURL == "" || *query == "" {
		log.Fatal("-backend-url and -query are required")
	}

	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	start := time.Now()

	cache := geomcache.New(*backendURL, zl)
	if err := cache.FromDisk(*cachePath); err != nil {
		log.Fatalf("load %s: %v", *cachePath, err)
	}

	client := backend.New(*backendURL, nil)
	req := requestor.New(cache, client, *query, 0, zl)

	ctx := context.Background()
	if err := req.Request(ctx); err != nil {
		log.Fatalf("materialise query: %v", err)
	}

	res := req.GetNearest(spatial.FPoint{X: *x, Y: *y}, *rad)
	if !res.Hit {
		fmt.Println("No object found within radius.")
		return
	}

	row, err := req.RequestRow(ctx, int64(res.Row))
	if err != nil {
		log.Fatalf("fetch row: %v", err)
	}

	attrs := map[string]string{}
	for _, kv := range row {
		attrs[kv[0]] = kv[1]
	}
	out, _ := json.MarshalIndent(map[string]any{
		"point":    res.Point,
		"isPoint":  res.IsPoint,
		"isArea":   res.IsArea,
		"distance": res.Dist,
		"attrs":    attrs,
	}, "", "  ")

	fmt.Printf("Found in %v:\n%s\n", time.Since(start), out)
}
