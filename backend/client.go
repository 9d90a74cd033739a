// Package backend implements the wire protocol spoken to the remote
// triple store: a plain HTTP GET carrying the SPARQL query as a
// parameter, negotiated either as tab-separated text (for the WKT
// ingest pass and attribute row fetches) or as a raw little-endian
// stream of 8-byte QIDs (the binary-id pass).
package backend

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrTransport wraps network-level failures talking to the backend.
	ErrTransport = errors.New("backend: transport error")
	// ErrProtocol wraps any response that doesn't match the expected
	// framing (missing header, truncated octet-stream, ...).
	ErrProtocol = errors.New("backend: unexpected response framing")
)

// ChunkRows is the OFFSET paging size used by the WKT ingest pass:
// large enough to amortise HTTP overhead, small enough to bound memory
// for one chunk's scratch buffers.
const ChunkRows = 1_000_000

// Client talks to one backend URL.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New constructs a Client. httpClient may be nil to use http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{BaseURL: baseURL, HTTP: httpClient}
}

func (c *Client) buildURL(query string, maxRows int64) string {
	v := url.Values{}
	v.Set("query", query)
	v.Set("send", strconv.FormatInt(maxRows, 10))
	return c.BaseURL + "/?" + v.Encode()
}

func (c *Client) get(ctx context.Context, query string, maxRows int64, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(query, maxRows), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Encoding", "gzip, deflate, br, identity")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrProtocol, resp.StatusCode)
	}
	return resp, nil
}

// TSVRow is one row of a tab-separated response: the raw cell text,
// split on tabs, header stripped.
type TSVRow []string

// StreamTSV issues a paged SELECT for query (one GET per ChunkRows-sized
// page, OFFSET-advanced) and invokes fn for every data row across all
// pages in order. fn returning an error aborts the whole stream.
func (c *Client) StreamTSV(ctx context.Context, query string, fn func(TSVRow) error) error {
	offset := int64(0)
	for {
		pageQuery := fmt.Sprintf("%s LIMIT %d OFFSET %d", query, ChunkRows, offset)
		resp, err := c.get(ctx, pageQuery, ChunkRows, "text/tab-separated-values")
		if err != nil {
			return err
		}

		n, err := streamTSVBody(resp.Body, fn)
		resp.Body.Close()
		if err != nil {
			return err
		}
		if n < ChunkRows {
			return nil
		}
		offset += ChunkRows
	}
}

// streamTSVBody reads the response line by line, restartable across
// arbitrary byte-boundary fragmentation by construction (bufio.Scanner
// already buffers a partial line across reads), dropping the header
// line and handing each data row to fn in order.
func streamTSVBody(body io.Reader, fn func(TSVRow) error) (int, error) {
	return streamTSVBodyHeader(body, nil, fn)
}

// streamTSVBodyHeader is streamTSVBody plus an optional out-param for
// the header line, used by StreamTSVWithHeader.
func streamTSVBodyHeader(body io.Reader, header *[]string, fn func(TSVRow) error) (int, error) {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	first := true
	n := 0
	for sc.Scan() {
		line := sc.Text()
		if first {
			first = false
			if header != nil {
				*header = strings.Split(line, "\t")
			}
			continue // header line
		}
		if line == "" {
			continue
		}
		if err := fn(strings.Split(line, "\t")); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return n, nil
}

// StreamTSVWithHeader behaves like StreamTSV but additionally passes
// the column header — read once from the first page — alongside every
// data row. Used by Requestor.RequestRows to label attribute rows as
// they arrive rather than only after the stream completes.
func (c *Client) StreamTSVWithHeader(ctx context.Context, query string, fn func(header []string, row TSVRow) error) error {
	var header []string
	offset := int64(0)
	for {
		pageQuery := fmt.Sprintf("%s LIMIT %d OFFSET %d", query, ChunkRows, offset)
		resp, err := c.get(ctx, pageQuery, ChunkRows, "text/tab-separated-values")
		if err != nil {
			return err
		}

		var pageHeader *[]string
		if offset == 0 {
			pageHeader = &header
		}
		n, err := streamTSVBodyHeader(resp.Body, pageHeader, func(row TSVRow) error {
			return fn(header, row)
		})
		resp.Body.Close()
		if err != nil {
			return err
		}
		if n < ChunkRows {
			return nil
		}
		offset += ChunkRows
	}
}

// FetchRow issues query with a single-row OFFSET/LIMIT suffix and
// returns the header column names alongside the one data row. Used by
// Requestor.RequestRow for on-demand attribute lookups.
func (c *Client) FetchRow(ctx context.Context, query string, offset int64) ([]string, TSVRow, error) {
	rowQuery := fmt.Sprintf("%s OFFSET %d LIMIT 1", query, offset)
	resp, err := c.get(ctx, rowQuery, 1, "text/tab-separated-values")
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		return nil, nil, fmt.Errorf("%w: empty response", ErrProtocol)
	}
	header := strings.Split(sc.Text(), "\t")

	if !sc.Scan() {
		return header, nil, nil // offset past the end of the result
	}
	return header, strings.Split(sc.Text(), "\t"), nil
}

// StreamBinaryIDs issues the application/octet-stream variant of query
// and invokes fn once per 8-byte little-endian QID, in backend order.
func (c *Client) StreamBinaryIDs(ctx context.Context, query string, fn func(qid uint64) error) error {
	resp, err := c.get(ctx, query, 1<<63-1, "application/octet-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	r := bufio.NewReaderSize(resp.Body, 64*1024)
	buf := make([]byte, 8)
	for {
		if _, err := readFull(r, buf); err != nil {
			if errors.Is(err, errEOF) {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		if err := fn(binary.LittleEndian.Uint64(buf)); err != nil {
			return err
		}
	}
}

var errEOF = errors.New("eof")

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) && total == 0 {
				return total, errEOF
			}
			if errors.Is(err, io.EOF) {
				return total, io.ErrUnexpectedEOF
			}
			return total, err
		}
	}
	return total, nil
}

// outerSelect matches the outer "SELECT ... WHERE {" of a SPARQL query,
// capturing the projection variable list. Only the first match is used;
// nested sub-SELECTs are not handled.
var outerSelect = regexp.MustCompile(`(?i)select\s+(.*?)\s+where\s*\{`)

// RewriteQuery keeps only the last projected variable of qry's outer
// SELECT and appends LIMIT 2^64-1 if the query has no LIMIT of its own.
// It is a best-effort regex rewrite, not a SPARQL parser; complex
// nested SELECTs may not rewrite correctly.
func RewriteQuery(qry string) string {
	m := outerSelect.FindStringSubmatchIndex(qry)
	if m == nil {
		return qry
	}
	vars := qry[m[2]:m[3]]
	lastVar := lastProjectionVar(vars)
	if lastVar == "" {
		return qry
	}
	rewritten := qry[:m[2]] + lastVar + qry[m[3]:]

	if !regexp.MustCompile(`(?i)\blimit\s+\d+`).MatchString(rewritten) {
		rewritten += " LIMIT 18446744073709551615"
	}
	return rewritten
}

func lastProjectionVar(vars string) string {
	fields := strings.Fields(vars)
	if len(fields) == 0 {
		return ""
	}
	last := fields[len(fields)-1]
	if !strings.HasPrefix(last, "?") && !strings.HasPrefix(last, "$") {
		return ""
	}
	return last
}
