package traccar

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/TrackBridge/internal/models"
	"github.com/BearBump/TrackBridge/internal/services/posindex"
	"github.com/pkg/errors"
)

const DefaultBaseURL = "http://localhost:8082"

// StatusError is returned when the tracker answers with a non-2xx status.
type StatusError struct {
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("traccar %s: http %d", e.Path, e.StatusCode)
}

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

type Option func(*Client)

// WithInsecureTLS disables certificate verification for tracker reads.
func WithInsecureTLS() Option {
	return func(c *Client) {
		c.httpc.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-hosted tracker
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpc.Timeout = d
		}
	}
}

func New(baseURL, token string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) FetchDevices(ctx context.Context) ([]models.Device, error) {
	b, err := c.get(ctx, "/api/devices")
	if err != nil {
		return nil, errors.Wrap(err, "fetch devices")
	}
	var out []models.Device
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.Wrap(err, "decode devices")
	}
	return out, nil
}

// FetchPositions fails as a whole if any fixTime cannot be parsed.
func (c *Client) FetchPositions(ctx context.Context) ([]models.Position, error) {
	b, err := c.get(ctx, "/api/positions")
	if err != nil {
		return nil, errors.Wrap(err, "fetch positions")
	}
	return posindex.DecodePositions(b)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{Path: path, StatusCode: resp.StatusCode}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return b, nil
}
