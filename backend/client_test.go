package backend

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRewriteQueryKeepsLastVar(t *testing.T) {
	in := "SELECT ?s ?p ?g WHERE { ?s ?p ?g . }"
	out := RewriteQuery(in)
	if !strings.Contains(out, "SELECT ?g WHERE") {
		t.Fatalf("rewrite dropped the non-geometry vars: %q", out)
	}
	if !strings.Contains(out, "LIMIT") {
		t.Fatalf("rewrite did not append a LIMIT: %q", out)
	}
}

func TestRewriteQueryPreservesExistingLimit(t *testing.T) {
	in := "SELECT ?g WHERE { ?s ?p ?g . } LIMIT 10"
	out := RewriteQuery(in)
	if strings.Count(out, "LIMIT") != 1 {
		t.Fatalf("expected exactly one LIMIT, got %q", out)
	}
}

func TestStreamTSVSinglePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("?g\nPOINT(0 0)\nPOINT(1 1)\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	var rows []TSVRow
	err := c.StreamTSV(context.Background(), "SELECT ?g WHERE { ?s ?p ?g . }", func(r TSVRow) error {
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}

func TestFetchRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("name\tgeom\nAlice\tPOINT(0 0)\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	header, row, err := c.FetchRow(context.Background(), "SELECT ?name ?geom WHERE { ?s ?p ?geom . }", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(header) != 2 || header[0] != "name" {
		t.Fatalf("header = %v", header)
	}
	if len(row) != 2 || row[0] != "Alice" {
		t.Fatalf("row = %v", row)
	}
}

func TestFetchRowPastEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("name\tgeom\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	_, row, err := c.FetchRow(context.Background(), "SELECT ?name ?geom WHERE { ?s ?p ?geom . }", 5)
	if err != nil {
		t.Fatal(err)
	}
	if row != nil {
		t.Fatalf("expected nil row past the end, got %v", row)
	}
}

func TestStreamTSVWithHeaderCapturesColumns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("name\tgeom\nAlice\tPOINT(0 0)\nBob\tPOINT(1 1)\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	var rows []TSVRow
	var lastHeader []string
	err := c.StreamTSVWithHeader(context.Background(), "SELECT ?name ?geom WHERE { ?s ?p ?geom . }", func(header []string, r TSVRow) error {
		lastHeader = header
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(lastHeader) != 2 || lastHeader[1] != "geom" {
		t.Fatalf("header = %v", lastHeader)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
}

func TestStreamBinaryIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 24)
		binary.LittleEndian.PutUint64(buf[0:], 10)
		binary.LittleEndian.PutUint64(buf[8:], 20)
		binary.LittleEndian.PutUint64(buf[16:], 30)
		w.Write(buf)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	var got []uint64
	err := c.StreamBinaryIDs(context.Background(), "SELECT ?g WHERE { ?s ?p ?g . }", func(qid uint64) error {
		got = append(got, qid)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []uint64{10, 20, 30}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("id %d = %d, want %d", i, got[i], want[i])
		}
	}
}
