package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func emptyCorpusServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept := r.Header.Get("Accept")
		if accept == "application/octet-stream" {
			return // zero rows
		}
		w.Write([]byte("?g\n"))
	}))
}

func TestNewSessionBuildsCacheOnFirstUse(t *testing.T) {
	srv := emptyCorpusServer()
	defer srv.Close()

	mgr, err := NewManager(0, 16, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	entry, err := mgr.NewSession(context.Background(), srv.URL, "SELECT ?g WHERE { ?s ?p ?g . }")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if !entry.Req.Ready() {
		t.Fatal("expected the session's Requestor to be ready")
	}

	got, ok := mgr.Get(entry.ID)
	if !ok || got.ID != entry.ID {
		t.Fatalf("Get(%q) = %v, %v", entry.ID, got, ok)
	}
}

func TestNewSessionSharesCacheAcrossSessions(t *testing.T) {
	srv := emptyCorpusServer()
	defer srv.Close()

	mgr, err := NewManager(0, 16, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	a, err := mgr.NewSession(context.Background(), srv.URL, "SELECT ?g WHERE { ?s ?p ?g . }")
	if err != nil {
		t.Fatalf("first NewSession: %v", err)
	}
	b, err := mgr.NewSession(context.Background(), srv.URL, "SELECT ?g WHERE { ?s ?p2 ?g . }")
	if err != nil {
		t.Fatalf("second NewSession: %v", err)
	}
	if a.ID == b.ID {
		t.Fatal("expected distinct session ids")
	}
	if len(mgr.caches) != 1 {
		t.Fatalf("got %d caches, want 1 shared by both sessions", len(mgr.caches))
	}
}

func TestRemoveDropsSession(t *testing.T) {
	srv := emptyCorpusServer()
	defer srv.Close()

	mgr, err := NewManager(0, 16, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	entry, err := mgr.NewSession(context.Background(), srv.URL, "SELECT ?g WHERE { ?s ?p ?g . }")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	mgr.Remove(entry.ID)
	if _, ok := mgr.Get(entry.ID); ok {
		t.Fatal("expected the session to be gone after Remove")
	}
}

func TestOutOfMemoryCeilingRejectsWhenNothingEvictable(t *testing.T) {
	srv := emptyCorpusServer()
	defer srv.Close()

	mgr, err := NewManager(1, 16, zerolog.Nop()) // 1 byte ceiling, impossible to satisfy
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	_, err = mgr.NewSession(context.Background(), srv.URL, "SELECT ?g WHERE { ?s ?p ?g . }")
	if err == nil {
		t.Fatal("expected the 1-byte ceiling to reject the session: each of the three grids has at least one 8-byte cell")
	}
}
