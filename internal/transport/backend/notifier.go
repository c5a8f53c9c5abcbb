package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"job-status-stream/internal/entity"
	"job-status-stream/internal/stream"
)

var ErrUnexpectedStatus = errors.New("unexpected response status")

const (
	disconnectPath      = "/video/status/sse/"
	batchDisconnectPath = "/video/status/sse/batch-disconnect"
	defaultTimeout      = 10 * time.Second
)

// Notifier tells the video API that the client stopped listening to job streams.
type Notifier struct {
	base   string
	http   *http.Client
	tokens stream.TokenSource
}

func NewNotifier(baseURL string, httpClient *http.Client, tokens stream.TokenSource) *Notifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Notifier{
		base:   strings.TrimRight(baseURL, "/"),
		http:   httpClient,
		tokens: tokens,
	}
}

type batchDisconnectReq struct {
	StoryIDs []string `json:"storyIds"`
}

// Disconnect sends DELETE /video/status/sse/{id}.
func (n *Notifier) Disconnect(ctx context.Context, jobID entity.JobID) error {
	req, err := n.newRequest(ctx, http.MethodDelete, disconnectPath+url.PathEscape(string(jobID)), nil)
	if err != nil {
		return err
	}
	return n.do(req)
}

// DisconnectBatch sends every id in one POST.
func (n *Notifier) DisconnectBatch(ctx context.Context, jobIDs []entity.JobID) error {
	if len(jobIDs) == 0 {
		return nil
	}

	body := batchDisconnectReq{StoryIDs: make([]string, 0, len(jobIDs))}
	for _, id := range jobIDs {
		body.StoryIDs = append(body.StoryIDs, string(id))
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := n.newRequest(ctx, http.MethodPost, batchDisconnectPath, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return n.do(req)
}

func (n *Notifier) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, n.base+path, body)
	if err != nil {
		return nil, err
	}
	if n.tokens != nil {
		token, err := n.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func (n *Notifier) do(req *http.Request) error {
	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s: %d", ErrUnexpectedStatus, req.Method, req.URL.Path, resp.StatusCode)
	}
	return nil
}
