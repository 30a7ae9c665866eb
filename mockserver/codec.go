package mockserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

const maxBodySize = 32 << 20

type wireRequest struct {
	Method  string
	Target  string
	Version string
	Headers Headers
	Body    []byte
}

func (r *wireRequest) keepAlive() bool {
	if r.Headers.hasToken("Connection", "close") {
		return false
	}
	if r.Version == "HTTP/1.0" {
		return r.Headers.hasToken("Connection", "keep-alive")
	}
	return true
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedRequest, fmt.Sprintf(format, args...))
}

// readRequest reads one HTTP/1.x request off br. io.EOF is returned untouched
// when the peer closes the connection between requests. continueWriter
// receives the interim response for "Expect: 100-continue".
func readRequest(br *bufio.Reader, continueWriter io.Writer) (*wireRequest, error) {
	tp := textproto.NewReader(br)

	var line string
	for {
		l, err := tp.ReadLine()
		if err != nil {
			return nil, err
		}
		// tolerate stray CRLFs between pipelined requests
		if l != "" {
			line = l
			break
		}
	}

	method, rest, ok1 := strings.Cut(line, " ")
	target, version, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || target == "" {
		return nil, malformed("bad request line %q", line)
	}
	if !httpguts.ValidHeaderFieldName(method) {
		return nil, malformed("bad method %q", method)
	}
	if version != "HTTP/1.1" && version != "HTTP/1.0" {
		return nil, malformed("unsupported version %q", version)
	}

	req := &wireRequest{Method: method, Target: target, Version: version}

	for {
		l, err := tp.ReadLine()
		if err != nil {
			return nil, eofIsMalformed(err)
		}
		if l == "" {
			break
		}
		if l[0] == ' ' || l[0] == '\t' {
			return nil, malformed("obsolete line folding")
		}
		name, value, ok := strings.Cut(l, ":")
		if !ok || !httpguts.ValidHeaderFieldName(name) {
			return nil, malformed("bad header line %q", l)
		}
		value = strings.Trim(value, " \t")
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, malformed("bad value for header %s", name)
		}
		req.Headers = req.Headers.Add(name, value)
	}

	if version == "HTTP/1.1" && !req.Headers.Has("Host") {
		return nil, malformed("missing Host header")
	}

	length, chunked, err := bodyFraming(req.Headers)
	if err != nil {
		return nil, err
	}

	if (chunked || length > 0) && version == "HTTP/1.1" && req.Headers.hasToken("Expect", "100-continue") {
		if _, err := io.WriteString(continueWriter, "HTTP/1.1 100 Continue\r\n\r\n"); err != nil {
			return nil, err
		}
	}

	switch {
	case chunked:
		body, err := io.ReadAll(io.LimitReader(httputil.NewChunkedReader(br), maxBodySize+1))
		if err != nil {
			return nil, malformed("bad chunked body: %v", err)
		}
		if len(body) > maxBodySize {
			return nil, malformed("body exceeds %d bytes", maxBodySize)
		}
		// trailers are read and dropped
		for {
			l, err := tp.ReadLine()
			if err != nil {
				return nil, eofIsMalformed(err)
			}
			if l == "" {
				break
			}
		}
		req.Body = body
	case length > 0:
		body := make([]byte, length)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, eofIsMalformed(err)
		}
		req.Body = body
	}

	return req, nil
}

func bodyFraming(h Headers) (length int64, chunked bool, err error) {
	if te := h.Values("Transfer-Encoding"); len(te) > 0 {
		codings := strings.Split(strings.Join(te, ","), ",")
		last := strings.TrimSpace(codings[len(codings)-1])
		if !strings.EqualFold(last, "chunked") {
			return 0, false, malformed("unsupported transfer coding %q", last)
		}
		return 0, true, nil
	}

	values := h.Values("Content-Length")
	if len(values) == 0 {
		return 0, false, nil
	}
	for _, v := range values[1:] {
		if v != values[0] {
			return 0, false, malformed("conflicting Content-Length values")
		}
	}
	length, err = strconv.ParseInt(strings.TrimSpace(values[0]), 10, 64)
	if err != nil || length < 0 {
		return 0, false, malformed("bad Content-Length %q", values[0])
	}
	if length > maxBodySize {
		return 0, false, malformed("body exceeds %d bytes", maxBodySize)
	}
	return length, false, nil
}

func eofIsMalformed(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return malformed("truncated request")
	}
	return err
}

// writeResponse serializes r onto w. Bodies are omitted for HEAD requests but
// the framing headers still describe them.
func writeResponse(ctx context.Context, w io.Writer, r *Response, method string) error {
	if err := sleep(ctx, r.HeadersDelay); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", r.statusCode(), r.reason())

	headers := r.Headers
	chunked := r.ChunkSize > 0
	if chunked {
		if !headers.Has("Transfer-Encoding") {
			headers = headers.Add("Transfer-Encoding", "chunked")
		}
	} else if !headers.Has("Content-Length") {
		headers = headers.Add("Content-Length", strconv.Itoa(len(r.Body)))
	}
	for _, f := range headers {
		fmt.Fprintf(bw, "%s: %s\r\n", f.Name, f.Value)
	}
	bw.WriteString("\r\n")
	if err := bw.Flush(); err != nil {
		return err
	}

	if method == http.MethodHead {
		return nil
	}

	if err := sleep(ctx, r.BodyDelay); err != nil {
		return err
	}

	if chunked {
		cw := httputil.NewChunkedWriter(bw)
		for body := r.Body; len(body) > 0; {
			n := min(r.ChunkSize, len(body))
			if _, err := cw.Write(body[:n]); err != nil {
				return err
			}
			body = body[n:]
		}
		if err := cw.Close(); err != nil {
			return err
		}
		bw.WriteString("\r\n")
	} else {
		bw.Write(r.Body)
	}
	return bw.Flush()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
