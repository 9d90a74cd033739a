package requestor

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kvnloo/triplemap/backend"
	"github.com/kvnloo/triplemap/geomcache"
	"github.com/kvnloo/triplemap/mcoord"
	"github.com/kvnloo/triplemap/spatial"
)

// buildTestCache assembles a small ready Cache with two points (QIDs
// 10, 20) and one line (QID 30), round-tripped through disk since
// Ready can only be set via Build or FromDisk.
func buildTestCache(t *testing.T) *geomcache.Cache {
	t.Helper()
	src := geomcache.New("http://backend.example", zerolog.Nop())
	src.Points = []spatial.FPoint{{X: 0, Y: 0}, {X: 1000, Y: 1000}}
	src.LinePoints = mcoord.EncodeLine(nil, spatial.FLine{
		{X: 5000, Y: 5000}, {X: 6000, Y: 6000},
	}, false)
	src.Lines = []uint64{0}
	src.QidToID = []geomcache.IdMapping{
		{QID: 10, ID: 0},
		{QID: 20, ID: 1},
		{QID: 30, ID: geomcache.LineID(0)},
	}
	src.Sort()

	path := filepath.Join(t.TempDir(), "c.bin")
	if err := src.SerializeToDisk(path); err != nil {
		t.Fatalf("SerializeToDisk: %v", err)
	}
	dst := geomcache.New("http://backend.example", zerolog.Nop())
	if err := dst.FromDisk(path); err != nil {
		t.Fatalf("FromDisk: %v", err)
	}
	return dst
}

func binaryIDServer(qids []uint64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 8*len(qids))
		for i, q := range qids {
			binary.LittleEndian.PutUint64(buf[i*8:], q)
		}
		w.Write(buf)
	}))
}

func TestRequestBuildsGridsAndBounds(t *testing.T) {
	cache := buildTestCache(t)
	srv := binaryIDServer([]uint64{10, 20, 30})
	defer srv.Close()

	cl := backend.New(srv.URL, srv.Client())
	req := New(cache, cl, "SELECT ?g WHERE { ?s ?p ?g . }", 0, zerolog.Nop())

	if err := req.Request(context.Background()); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !req.Ready() {
		t.Fatal("expected Ready after Request")
	}
	if len(req.Objects()) != 3 {
		t.Fatalf("got %d objects, want 3", len(req.Objects()))
	}

	// Calling Request again must be a no-op (idempotence invariant).
	if err := req.Request(context.Background()); err != nil {
		t.Fatalf("second Request: %v", err)
	}
}

func TestRequestFailsWhenCacheNotReady(t *testing.T) {
	cache := geomcache.New("http://backend.example", zerolog.Nop())
	cl := backend.New("http://backend.example", nil)
	req := New(cache, cl, "SELECT ?g WHERE { ?s ?p ?g . }", 0, zerolog.Nop())

	err := req.Request(context.Background())
	if err != ErrCacheNotReady {
		t.Fatalf("got %v, want ErrCacheNotReady", err)
	}
}

func TestGetNearestFindsPoint(t *testing.T) {
	cache := buildTestCache(t)
	srv := binaryIDServer([]uint64{10, 20, 30})
	defer srv.Close()

	cl := backend.New(srv.URL, srv.Client())
	req := New(cache, cl, "SELECT ?g WHERE { ?s ?p ?g . }", 0, zerolog.Nop())
	if err := req.Request(context.Background()); err != nil {
		t.Fatalf("Request: %v", err)
	}

	res := req.GetNearest(spatial.FPoint{X: 0, Y: 0}, 10)
	if !res.Hit || !res.IsPoint {
		t.Fatalf("got %+v, want a point hit", res)
	}
	if res.Row != 0 {
		t.Errorf("row = %d, want 0", res.Row)
	}
}

func TestGetNearestMisses(t *testing.T) {
	cache := buildTestCache(t)
	srv := binaryIDServer([]uint64{10, 20, 30})
	defer srv.Close()

	cl := backend.New(srv.URL, srv.Client())
	req := New(cache, cl, "SELECT ?g WHERE { ?s ?p ?g . }", 0, zerolog.Nop())
	if err := req.Request(context.Background()); err != nil {
		t.Fatalf("Request: %v", err)
	}

	res := req.GetNearest(spatial.FPoint{X: 1e9, Y: 1e9}, 10)
	if res.Hit {
		t.Fatalf("expected a miss, got %+v", res)
	}
}

func TestGeomPointGeomsCollectsSameRow(t *testing.T) {
	cache := geomcache.New("http://backend.example", zerolog.Nop())
	cl := backend.New("http://backend.example", nil)
	req := New(cache, cl, "q", 0, zerolog.Nop())
	req.objects = []geomcache.ObjectRef{
		{GID: 0, Row: 5},
		{GID: 1, Row: 5},
		{GID: 2, Row: 6},
	}
	req.cache = cache
	cache.Points = []spatial.FPoint{{}, {}, {}}

	got := req.GeomPointGeoms(0)
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 gids for row 5", got)
	}
}
