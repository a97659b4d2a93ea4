package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/gamelaunch/gamelaunch/internal/apperr"
	"github.com/gamelaunch/gamelaunch/internal/launcher"
	"github.com/gamelaunch/gamelaunch/internal/models"
	"github.com/gamelaunch/gamelaunch/internal/monitor"
	"github.com/gamelaunch/gamelaunch/internal/scripts"
)

// Client talks to a running daemon. Failed calls return *apperr.Error
// values rebuilt from the response body, so callers can switch on the kind.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient targets addr, either "host:port" or a full URL.
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: 6 * time.Minute},
	}
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) Apps(ctx context.Context, gamesOnly bool) ([]launcher.App, error) {
	path := "/api/apps"
	if gamesOnly {
		path += "?games=1"
	}
	var apps []launcher.App
	err := c.do(ctx, http.MethodGet, path, nil, &apps)
	return apps, err
}

func (c *Client) Launch(ctx context.Context, id string) (launcher.Launched, error) {
	var launched launcher.Launched
	err := c.do(ctx, http.MethodPost, "/api/launch", LaunchRequest{ID: id}, &launched)
	return launched, err
}

func (c *Client) IsRoot(ctx context.Context) (bool, error) {
	var resp map[string]bool
	err := c.do(ctx, http.MethodGet, "/api/root", nil, &resp)
	return resp["root"], err
}

func (c *Client) Scripts(ctx context.Context) (ScriptsStatus, error) {
	var status ScriptsStatus
	err := c.do(ctx, http.MethodGet, "/api/scripts", nil, &status)
	return status, err
}

func (c *Client) ExtractScripts(ctx context.Context, set scripts.ScriptSet) error {
	return c.do(ctx, http.MethodPost, "/api/scripts/extract", set, nil)
}

func (c *Client) ExecuteScript(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/api/scripts/execute", ExecuteRequest{Name: name}, nil)
}

func (c *Client) Whitelist(ctx context.Context) ([]string, error) {
	var resp WhitelistResponse
	err := c.do(ctx, http.MethodGet, "/api/whitelist", nil, &resp)
	return resp.Whitelist, err
}

func (c *Client) AddWhitelisted(ctx context.Context, id string) (bool, error) {
	var resp WhitelistResponse
	err := c.do(ctx, http.MethodPost, "/api/whitelist", WhitelistRequest{ID: id}, &resp)
	return resp.Added, err
}

func (c *Client) Session(ctx context.Context) (monitor.SessionState, error) {
	var state monitor.SessionState
	err := c.do(ctx, http.MethodGet, "/api/session", nil, &state)
	return state, err
}

func (c *Client) StopSession(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/session/stop", nil, nil)
}

func (c *Client) Report(ctx context.Context, period string) (*models.Report, error) {
	var report models.Report
	err := c.do(ctx, http.MethodGet, "/api/report?period="+url.QueryEscape(period), nil, &report)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	var e ErrorResponse
	if err := json.Unmarshal(data, &e); err == nil && e.Kind != "" {
		return apperr.New(e.Kind, "%s", e.Detail)
	}
	return apperr.New(apperr.Internal, "%s: %s", resp.Status, strings.TrimSpace(string(data)))
}

// IsUnavailable reports whether err is a transport failure, typically no
// daemon listening.
func IsUnavailable(err error) bool {
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
