package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"job-status-stream/internal/entity"
	xlog "job-status-stream/internal/log"
	"job-status-stream/internal/stream"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrUnexpectedType   = errors.New("unexpected content type")
	errConnClosed       = errors.New("sse connection closed")
)

const streamPath = "/video/status/sse/"

// Client opens job status streams against the video API.
type Client struct {
	base string
	http *http.Client
	log  zerolog.Logger
}

// NewClient builds a transport for baseURL. A nil httpClient gets one without a timeout,
// since stream bodies stay open for the life of the job.
func NewClient(baseURL string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: httpClient,
		log:  logger,
	}
}

// Open performs the handshake and starts reading frames in the background. The returned
// connection lives until ctx ends or Close is called.
func (c *Client) Open(ctx context.Context, jobID entity.JobID, token string) (stream.Conn, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.base+streamPath+url.PathEscape(string(jobID)), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sse connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedType, ct)
	}

	sc := &conn{
		body:   resp.Body,
		cancel: cancel,
		frames: make(chan stream.Frame),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
		log: c.log.With().
			Str(xlog.FieldJobID, string(jobID)).
			Str(xlog.FieldURL, req.URL.Redacted()).
			Logger(),
	}
	go sc.readLoop()
	return sc, nil
}

type conn struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	frames chan stream.Frame
	errc   chan error
	done   chan struct{}
	once   sync.Once
	log    zerolog.Logger
}

func (c *conn) readLoop() {
	dec := NewDecoder(c.body)
	for {
		f, err := dec.Next()
		if err != nil {
			c.errc <- err
			return
		}
		select {
		case c.frames <- f:
		case <-c.done:
			return
		}
	}
}

func (c *conn) Recv(ctx context.Context) (stream.Frame, error) {
	select {
	case <-ctx.Done():
		return stream.Frame{}, ctx.Err()
	case <-c.done:
		return stream.Frame{}, errConnClosed
	case f := <-c.frames:
		return f, nil
	case err := <-c.errc:
		if errors.Is(err, io.EOF) {
			return stream.Frame{}, io.ErrUnexpectedEOF
		}
		return stream.Frame{}, err
	}
}

func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.cancel()
		err = c.body.Close()
		c.log.Debug().Msg("sse connection closed")
	})
	return err
}
