// Package wfdproto implements the wire-level pieces of the Wi-Fi Display
// source role: RTSP 1.0 message framing, the WFD subelement and capability
// codecs (C1/C2), the resolution table (C3), and the M1-M16 dispatch table
// (C4). None of it owns a socket or mutates session state directly — the
// session package (C5) drives all of this from its single command
// goroutine.
package wfdproto

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alxayo/wfd-out-session/internal/bufpool"
	wfderrors "github.com/alxayo/wfd-out-session/internal/errors"
)

const protocolVersion = "RTSP/1.0"

// HeaderCSeq and friends are canonical header names (RTSP is usually
// case-insensitive on the wire; this core always emits this casing, and
// looks headers up case-insensitively on parse).
const (
	HeaderCSeq          = "CSeq"
	HeaderRequire       = "Require"
	HeaderPublic        = "Public"
	HeaderTransport     = "Transport"
	HeaderSession       = "Session"
	HeaderRange         = "Range"
	HeaderContentLength = "Content-Length"
	HeaderContentType   = "Content-Type"
)

// Headers is a case-insensitive RTSP header bag that preserves the first
// occurrence's casing on output.
type Headers struct {
	order []string
	vals  map[string]string // keyed by canonical lower-case
	cased map[string]string // lower-case -> as-set casing
}

func newHeaders() Headers {
	return Headers{vals: make(map[string]string), cased: make(map[string]string)}
}

// NewHeaders constructs an empty, ready-to-use Headers value. Exported so
// callers outside this package (tests synthesizing inbound requests, future
// transports) can build a Request/Response without a zero-value map panic.
func NewHeaders() Headers {
	return newHeaders()
}

// Set stores a header value, overwriting any prior value for the same key.
func (h *Headers) Set(key, value string) {
	lk := strings.ToLower(key)
	if _, exists := h.vals[lk]; !exists {
		h.order = append(h.order, lk)
		h.cased[lk] = key
	}
	h.vals[lk] = value
}

// Get returns a header value (case-insensitive lookup).
func (h Headers) Get(key string) (string, bool) {
	v, ok := h.vals[strings.ToLower(key)]
	return v, ok
}

// Request is a parsed RTSP request line plus headers and body.
type Request struct {
	Method  string
	URL     string
	CSeq    int
	Headers Headers
	Body    []byte
}

// Response is a parsed/constructed RTSP status line plus headers and body.
type Response struct {
	StatusCode int
	StatusText string
	CSeq       int
	Headers    Headers
	Body       []byte
}

// NewResponse constructs a Response mirroring the given request's CSeq,
// per RTSP 1.0's mandatory CSeq-echo requirement (PART D of the design
// expansion).
func NewResponse(req *Request, statusCode int, statusText string) *Response {
	resp := &Response{StatusCode: statusCode, StatusText: statusText, Headers: newHeaders()}
	if req != nil {
		resp.CSeq = req.CSeq
		resp.Headers.Set(HeaderCSeq, strconv.Itoa(req.CSeq))
	}
	return resp
}

// readHeaderLines reads CRLF-terminated header lines up to and including
// the terminating blank line, mirroring the read loop used by
// winkmichael-wink-rtsp-bench's RTSP client and the Rebeljah-picast toy
// RTSP server: ReadString('\n') until a bare "\r\n" line is seen.
func readHeaderLines(r *bufio.Reader) ([]string, error) {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			return lines, nil
		}
		lines = append(lines, trimmed)
	}
}

func parseHeaders(lines []string) (Headers, error) {
	h := newHeaders()
	for _, line := range lines {
		idx := strings.Index(line, ":")
		if idx < 0 {
			return h, wfderrors.New(wfderrors.KindProtocolError, "parseHeaders", fmt.Errorf("malformed header line %q", line))
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		h.Set(key, val)
	}
	return h, nil
}

func readBody(r *bufio.Reader, h Headers) ([]byte, error) {
	clStr, ok := h.Get(HeaderContentLength)
	if !ok {
		return nil, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(clStr))
	if err != nil || n < 0 {
		return nil, wfderrors.New(wfderrors.KindProtocolError, "readBody", fmt.Errorf("invalid Content-Length %q", clStr))
	}
	if n == 0 {
		return nil, nil
	}
	buf := bufpool.Get(n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, wfderrors.New(wfderrors.KindOSIO, "readBody", err)
	}
	return buf, nil
}

// PeekIsResponse looks at the next line on r without consuming it and
// reports whether it is a status line (begins with "RTSP/1.0") rather than
// a request line. The session's read goroutine uses this to decide whether
// to call ReadResponse or ReadRequest next, since both request and reply
// traffic share one TCP stream.
func PeekIsResponse(r *bufio.Reader) (bool, error) {
	peek, err := r.Peek(len(protocolVersion))
	if err != nil {
		return false, err
	}
	return string(peek) == protocolVersion, nil
}

// ReadRequest parses one RTSP request (request line, headers, optional
// Content-Length body) from r.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, wfderrors.New(wfderrors.KindProtocolError, "ReadRequest", fmt.Errorf("malformed request line %q", line))
	}
	req := &Request{Method: parts[0], URL: parts[1]}

	headerLines, err := readHeaderLines(r)
	if err != nil {
		return nil, err
	}
	headers, err := parseHeaders(headerLines)
	if err != nil {
		return nil, err
	}
	req.Headers = headers

	if cs, ok := headers.Get(HeaderCSeq); ok {
		n, convErr := strconv.Atoi(strings.TrimSpace(cs))
		if convErr != nil {
			return nil, wfderrors.New(wfderrors.KindProtocolError, "ReadRequest", fmt.Errorf("invalid CSeq %q", cs))
		}
		req.CSeq = n
	}

	body, err := readBody(r, headers)
	if err != nil {
		return nil, err
	}
	req.Body = body
	return req, nil
}

// ReadResponse parses one RTSP response (status line, headers, optional
// Content-Length body) from r.
func ReadResponse(r *bufio.Reader) (*Response, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, wfderrors.New(wfderrors.KindProtocolError, "ReadResponse", fmt.Errorf("malformed status line %q", line))
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, wfderrors.New(wfderrors.KindProtocolError, "ReadResponse", fmt.Errorf("invalid status code %q", parts[1]))
	}
	resp := &Response{StatusCode: code}
	if len(parts) == 3 {
		resp.StatusText = parts[2]
	}

	headerLines, err := readHeaderLines(r)
	if err != nil {
		return nil, err
	}
	headers, err := parseHeaders(headerLines)
	if err != nil {
		return nil, err
	}
	resp.Headers = headers

	if cs, ok := headers.Get(HeaderCSeq); ok {
		n, convErr := strconv.Atoi(strings.TrimSpace(cs))
		if convErr == nil {
			resp.CSeq = n
		}
	}

	body, err := readBody(r, headers)
	if err != nil {
		return nil, err
	}
	resp.Body = body
	return resp, nil
}

// WriteTo serializes the request in RTSP wire format.
func (req *Request) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\r\n", req.Method, req.URL, protocolVersion)
	writeHeadersAndBody(&b, req.Headers, req.Body)
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// WriteTo serializes the response in RTSP wire format.
func (resp *Response) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s\r\n", protocolVersion, resp.StatusCode, resp.StatusText)
	writeHeadersAndBody(&b, resp.Headers, resp.Body)
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

func writeHeadersAndBody(b *strings.Builder, h Headers, body []byte) {
	if len(body) > 0 {
		if _, ok := h.Get(HeaderContentLength); !ok {
			h.Set(HeaderContentLength, strconv.Itoa(len(body)))
		}
	}
	for _, lk := range h.order {
		fmt.Fprintf(b, "%s: %s\r\n", h.cased[lk], h.vals[lk])
	}
	b.WriteString("\r\n")
	if len(body) > 0 {
		b.Write(body)
	}
}
