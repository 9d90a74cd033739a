package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/kvnloo/triplemap/spatial"
)

const defaultTileSize = 256

// queryResponse matches the external contract's `query` route: `qid`
// here is the newly created (or reused) session id, not a geometry
// QID — the route table names it that way and this keeps the wire
// shape identical.
type queryResponse struct {
	Qid    string        `json:"qid"`
	Bounds [2][2]float64 `json:"bounds"`
}

// handleQuery kicks off or reuses a session for backend-url+query and
// returns its session id and projected bounds.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	backendURL := r.URL.Query().Get("backend-url")
	sparql := r.URL.Query().Get("query")
	if backendURL == "" || sparql == "" {
		http.Error(w, "backend-url and query are required", http.StatusBadRequest)
		return
	}

	entry, err := s.Sessions.NewSession(r.Context(), backendURL, sparql)
	if err != nil {
		writeError(w, err)
		return
	}

	b := entry.Req.Bounds()
	writeJSON(w, queryResponse{
		Qid: entry.ID,
		Bounds: [2][2]float64{
			{b.LL.X, b.LL.Y},
			{b.UR.X, b.UR.Y},
		},
	})
}

// handleHeatmap renders a PNG tile for session `qid` over the
// requested bbox/size.
func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	q := query{r.URL.Query()}
	entry, ok := s.Sessions.Get(q.Get("qid"))
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	bbox, err := parseBBox(q.Get("bbox"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	width := q.intOr("width", defaultTileSize)
	height := q.intOr("height", defaultTileSize)

	png, err := s.Renderer.RenderTile(entry.Req, bbox, width, height)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.TilesRendered.Inc()
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

type posResponse struct {
	Hit   bool          `json:"hit"`
	LL    [2]float64    `json:"ll,omitempty"`
	Attrs [][2]string   `json:"attrs,omitempty"`
}

// handlePos answers a point-and-click nearest-object lookup: `x`, `y`
// in projected units, `id` the session id, `rad` the search radius.
func (s *Server) handlePos(w http.ResponseWriter, r *http.Request) {
	q := query{r.URL.Query()}
	entry, ok := s.Sessions.Get(q.Get("id"))
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	x, err1 := strconv.ParseFloat(q.Get("x"), 64)
	y, err2 := strconv.ParseFloat(q.Get("y"), 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "x and y must be numeric", http.StatusBadRequest)
		return
	}
	rad := q.floatOr("rad", 10)

	res := entry.Req.GetNearest(spatial.FPoint{X: x, Y: y}, rad)
	if !res.Hit {
		writeJSON(w, posResponse{Hit: false})
		return
	}

	row, err := entry.Req.RequestRow(r.Context(), int64(res.Row))
	if err != nil {
		writeError(w, err)
		return
	}

	ll := project.Mercator.ToWGS84(orb.Point{res.Point.X, res.Point.Y})
	resp := posResponse{Hit: true, LL: [2]float64{ll.Y(), ll.X()}}
	for _, kv := range row {
		resp.Attrs = append(resp.Attrs, [2]string{kv[0], kv[1]})
	}
	writeJSON(w, resp)
}

// handleLoad triggers persistence of session `qid`'s backing cache to
// the path given in the `path` query parameter, falling back to the
// server's configured default cache path when `path` is omitted.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	q := query{r.URL.Query()}
	entry, ok := s.Sessions.Get(q.Get("qid"))
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	path := q.Get("path")
	if path == "" {
		path = s.DefaultCachePath
	}
	if path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	if err := entry.Req.PersistCache(path); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearSession evicts a session immediately.
func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("qid")
	if id == "" {
		http.Error(w, "qid is required", http.StatusBadRequest)
		return
	}
	s.Sessions.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

func parseBBox(raw string) (spatial.FBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return spatial.FBox{}, fmt.Errorf("bbox must have 4 comma-separated values, got %q", raw)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return spatial.FBox{}, fmt.Errorf("bbox value %q: %w", p, err)
		}
		vals[i] = v
	}
	return spatial.FBox{
		LL: spatial.FPoint{X: vals[0], Y: vals[1]},
		UR: spatial.FPoint{X: vals[2], Y: vals[3]},
	}, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// query is a thin wrapper over url.Values adding typed accessors with
// defaults, since url.Values itself has no int/float helpers.
type query struct{ v url.Values }

func (q query) Get(key string) string { return q.v.Get(key) }

func (q query) intOr(key string, def int) int {
	v := q.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (q query) floatOr(key string, def float64) float64 {
	v := q.Get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
