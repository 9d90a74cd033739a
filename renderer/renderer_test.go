package renderer

import (
	"bytes"
	"context"
	"encoding/binary"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kvnloo/triplemap/backend"
	"github.com/kvnloo/triplemap/geomcache"
	"github.com/kvnloo/triplemap/requestor"
	"github.com/kvnloo/triplemap/spatial"
)

func buildReadyRequestor(t *testing.T) *requestor.Requestor {
	t.Helper()
	src := geomcache.New("http://backend.example", zerolog.Nop())
	src.Points = []spatial.FPoint{{X: 100, Y: 100}}
	src.QidToID = []geomcache.IdMapping{{QID: 1, ID: 0}}
	src.Sort()

	path := filepath.Join(t.TempDir(), "c.bin")
	if err := src.SerializeToDisk(path); err != nil {
		t.Fatalf("SerializeToDisk: %v", err)
	}
	cache := geomcache.New("http://backend.example", zerolog.Nop())
	if err := cache.FromDisk(path); err != nil {
		t.Fatalf("FromDisk: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, 1)
		w.Write(buf)
	}))
	t.Cleanup(srv.Close)

	cl := backend.New(srv.URL, srv.Client())
	req := requestor.New(cache, cl, "SELECT ?g WHERE { ?s ?p ?g . }", 0, zerolog.Nop())
	if err := req.Request(context.Background()); err != nil {
		t.Fatalf("Request: %v", err)
	}
	return req
}

func TestRenderTileProducesValidPNG(t *testing.T) {
	req := buildReadyRequestor(t)
	rd := New(nil)

	bbox := spatial.FBox{LL: spatial.FPoint{X: -1000, Y: -1000}, UR: spatial.FPoint{X: 1000, Y: 1000}}
	out, err := rd.RenderTile(req, bbox, 64, 64)
	if err != nil {
		t.Fatalf("RenderTile: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not a valid PNG: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 64 {
		t.Fatalf("got %v, want 64x64", img.Bounds())
	}
}

func TestRenderTileEmptyBBoxProducesBlankTile(t *testing.T) {
	req := buildReadyRequestor(t)
	rd := New(nil)

	bbox := spatial.FBox{LL: spatial.FPoint{X: 1e9, Y: 1e9}, UR: spatial.FPoint{X: 1e9 + 1000, Y: 1e9 + 1000}}
	out, err := rd.RenderTile(req, bbox, 16, 16)
	if err != nil {
		t.Fatalf("RenderTile: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected non-empty PNG bytes even for a blank tile")
	}
}
