package vsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/bluenviron/demuxcheck/pkg/logger"
)

var (
	errInvalidRange       = errors.New("invalid range")
	errUnsatisfiableRange = errors.New("unsatisfiable range")
	errBodyClosed         = errors.New("body closed")
)

// parseRange parses a Range header. end is exclusive.
func parseRange(h string, size uint64) (uint64, uint64, bool, error) {
	if h == "" {
		return 0, size, false, nil
	}

	rangeSet, ok := strings.CutPrefix(h, "bytes=")
	if !ok || strings.Contains(rangeSet, ",") {
		return 0, 0, false, errInvalidRange
	}

	first, last, ok := strings.Cut(rangeSet, "-")
	if !ok {
		return 0, 0, false, errInvalidRange
	}

	// suffix range
	if first == "" {
		n, err := strconv.ParseUint(last, 10, 64)
		if err != nil {
			return 0, 0, false, errInvalidRange
		}
		if n == 0 {
			return 0, 0, false, errUnsatisfiableRange
		}
		if n > size {
			n = size
		}
		return size - n, size, true, nil
	}

	start, err := strconv.ParseUint(first, 10, 64)
	if err != nil {
		return 0, 0, false, errInvalidRange
	}

	if start >= size {
		return 0, 0, false, errUnsatisfiableRange
	}

	if last == "" {
		return start, size, true, nil
	}

	end, err := strconv.ParseUint(last, 10, 64)
	if err != nil || end < start {
		return 0, 0, false, errInvalidRange
	}

	return start, min(end+1, size), true, nil
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

func (s *Source) response(req *http.Request, code int, header http.Header, body io.ReadCloser, length int64) *http.Response {
	s.metrics.IncRequests(statusClass(code))

	if header == nil {
		header = make(http.Header)
	}
	if body == nil {
		body = http.NoBody
	}

	return &http.Response{
		Status:        strconv.Itoa(code) + " " + http.StatusText(code),
		StatusCode:    code,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          body,
		ContentLength: length,
		Request:       req,
	}
}

// RoundTrip implements http.RoundTripper.
func (s *Source) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		req.Body.Close()
	}

	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return s.response(req, http.StatusMethodNotAllowed, nil, nil, 0), nil
	}

	uri := req.URL.String()

	in, ok := s.Start(uri)
	if !ok {
		s.metrics.IncNotFound()
		s.log(logger.LevelWarn, "%s: %v", uri, ErrNotFound)
		return s.response(req, http.StatusNotFound, nil, nil, 0), nil
	}

	size := in.DeclaredSize()

	start, end, partial, err := parseRange(req.Header.Get("Range"), size)
	if err != nil {
		h := make(http.Header)
		h.Set("Content-Range", "bytes */"+strconv.FormatUint(size, 10))
		return s.response(req, http.StatusRequestedRangeNotSatisfiable, h, nil, 0), nil
	}

	h := make(http.Header)
	h.Set("Content-Length", strconv.FormatUint(end-start, 10))
	h.Set("Accept-Ranges", "bytes")
	if IsManifest(uri) {
		h.Set("Content-Type", "application/vnd.apple.mpegurl")
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}

	code := http.StatusOK
	if partial {
		code = http.StatusPartialContent
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, size))
	}

	if req.Method == http.MethodHead {
		return s.response(req, code, h, nil, int64(end-start)), nil
	}

	b := &body{
		s:      s,
		ctx:    req.Context(),
		in:     in,
		offset: start,
		end:    end,
	}

	s.notify(StateChange{URI: uri, From: StateNull, To: StatePlaying})

	return s.response(req, code, h, b, int64(end-start)), nil
}

// Client returns a HTTP client that reads from the source.
func (s *Source) Client() *http.Client {
	return &http.Client{Transport: s}
}

type body struct {
	s   *Source
	ctx context.Context
	in  *Input

	mutex  sync.Mutex
	offset uint64
	end    uint64
	eof    bool
	failed bool
	closed bool
}

// Read implements io.Reader.
// Each call returns at most one chunk.
func (b *body) Read(p []byte) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}

	b.mutex.Lock()

	if b.closed {
		b.mutex.Unlock()
		return 0, errBodyClosed
	}

	if b.offset >= b.end {
		b.eof = true
		b.mutex.Unlock()
		return 0, io.EOF
	}

	n := min(uint64(len(p)), uint64(b.s.BlockSize()), b.end-b.offset)
	offset := b.offset

	b.mutex.Unlock()

	if b.s.limiter != nil {
		err := b.s.limiter.WaitN(b.ctx, min(int(n), b.s.limiter.Burst()))
		if err != nil {
			return 0, err
		}
	}

	byts, err := b.s.Create(b.in, offset, int(n))

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if err != nil {
		b.failed = true
		return 0, err
	}

	if b.closed {
		return 0, errBodyClosed
	}

	copy(p, byts)
	b.offset += n
	return int(n), nil
}

// Close implements io.Closer.
// Closing a download before its end has been read pauses it.
func (b *body) Close() error {
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return nil
	}
	b.closed = true
	interrupted := !b.eof && !b.failed
	b.mutex.Unlock()

	if interrupted {
		b.s.notify(StateChange{URI: b.in.URI, From: StatePlaying, To: StatePaused})
	} else {
		b.s.notify(StateChange{URI: b.in.URI, From: StatePlaying, To: StateNull})
	}

	return nil
}
