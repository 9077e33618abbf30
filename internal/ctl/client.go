package ctl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vramd/pkg/types"
)

// DefaultURL is the daemon address used when neither --url nor VRAMCTL_URL
// is set.
const DefaultURL = "http://127.0.0.1:8080"

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status int
	Body   types.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.State != "" {
		return fmt.Sprintf("%d: %s (state %s)", e.Status, e.Body.Error, e.Body.State)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Body.Error)
}

// Client talks to the vramd HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for base. hc may be nil.
func NewClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

func (c *Client) do(ctx context.Context, method, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	debug("%s %s", method, req.URL)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		e := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&e.Body); err != nil {
			e.Body.Error = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, e
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func modelPath(id string) string { return "/models/" + url.PathEscape(id) }

func (c *Client) Models(ctx context.Context) (types.ModelsResponse, error) {
	var out types.ModelsResponse
	_, err := c.do(ctx, http.MethodGet, "/models", &out)
	return out, err
}

func (c *Client) Model(ctx context.Context, id string) (types.ModelStatus, error) {
	var out types.ModelStatus
	_, err := c.do(ctx, http.MethodGet, modelPath(id), &out)
	return out, err
}

func (c *Client) Download(ctx context.Context, id string) (types.DownloadTicket, error) {
	var out types.DownloadTicket
	_, err := c.do(ctx, http.MethodPost, modelPath(id)+"/download", &out)
	return out, err
}

func (c *Client) Load(ctx context.Context, id string) (types.ActionResponse, error) {
	var out types.ActionResponse
	_, err := c.do(ctx, http.MethodPost, modelPath(id)+"/load", &out)
	return out, err
}

func (c *Client) Unload(ctx context.Context, id string) (types.ActionResponse, error) {
	var out types.ActionResponse
	_, err := c.do(ctx, http.MethodPost, modelPath(id)+"/unload", &out)
	return out, err
}

func (c *Client) Delete(ctx context.Context, id string) (types.ActionResponse, error) {
	var out types.ActionResponse
	_, err := c.do(ctx, http.MethodDelete, modelPath(id), &out)
	return out, err
}

func (c *Client) Hardware(ctx context.Context) (types.HardwareSnapshot, error) {
	var out types.HardwareSnapshot
	_, err := c.do(ctx, http.MethodGet, "/hardware", &out)
	return out, err
}

func (c *Client) Queues(ctx context.Context) (types.QueuesResponse, error) {
	var out types.QueuesResponse
	_, err := c.do(ctx, http.MethodGet, "/queues", &out)
	return out, err
}

func (c *Client) BestQueue(ctx context.Context, strategy string) (types.BestQueueResponse, error) {
	var out types.BestQueueResponse
	path := "/queues/best"
	if strategy != "" {
		path += "?strategy=" + url.QueryEscape(strategy)
	}
	_, err := c.do(ctx, http.MethodGet, path, &out)
	return out, err
}

// Watch consumes the metrics stream, calling fn per frame until ctx is done,
// the stream ends, fn returns false, or max frames were read (0 = no limit).
func (c *Client) Watch(ctx context.Context, max int, fn func(types.MetricsEvent) bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/hardware/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	// the stream is long-lived; the client timeout would cut it
	hc := *c.http
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("stream: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev types.MetricsEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			warn("skipping malformed frame: %v", err)
			continue
		}
		n++
		if !fn(ev) || (max > 0 && n >= max) {
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return sc.Err()
}
