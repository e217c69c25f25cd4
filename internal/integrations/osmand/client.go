// Package osmand pushes fixes to the tracker's OsmAnd ingestion endpoint.
package osmand

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/TrackBridge/internal/models"
	"github.com/pkg/errors"
)

const (
	DefaultPort      = 5055
	DefaultTimeout   = 5 * time.Second
	DefaultBodyLimit = 200
)

type Client struct {
	endpoint  string
	bodyLimit int
	httpc     *http.Client
}

type Settings struct {
	Port      int
	Timeout   time.Duration
	VerifyTLS bool
	BodyLimit int
}

// New builds a sink client for the tracker host on port. Any port or path in
// trackerBaseURL is dropped. The sink normally
// sits on a private network with a self-signed certificate, so TLS
// verification is off unless Settings.VerifyTLS is set.
func New(trackerBaseURL string, s Settings) *Client {
	if s.Port <= 0 {
		s.Port = DefaultPort
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.BodyLimit <= 0 {
		s.BodyLimit = DefaultBodyLimit
	}
	return &Client{
		endpoint:  sinkEndpoint(trackerBaseURL, s.Port),
		bodyLimit: s.BodyLimit,
		httpc: &http.Client{
			Timeout: s.Timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: !s.VerifyTLS}, //nolint:gosec // accepted for the sink
			},
		},
	}
}

func (c *Client) Endpoint() string { return c.endpoint }

// sinkEndpoint returns "scheme://host:port" for the tracker base URL.
func sinkEndpoint(trackerBaseURL string, port int) string {
	base := strings.TrimRight(trackerBaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Hostname() == "" {
		return base + ":" + strconv.Itoa(port)
	}
	return u.Scheme + "://" + net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
}

// Params builds the query for one report. Absent attributes are left out.
func Params(deviceKey string, r models.LocationReport) url.Values {
	q := url.Values{}
	q.Set("id", deviceKey)
	if r.Latitude != nil {
		q.Set("lat", formatFloat(*r.Latitude))
	}
	if r.Longitude != nil {
		q.Set("lon", formatFloat(*r.Longitude))
	}
	if r.Timestamp != nil {
		q.Set("timestamp", strconv.FormatInt(r.Timestamp.Unix(), 10))
	}
	if r.Accuracy != nil {
		q.Set("accuracy", formatFloat(*r.Accuracy))
	}
	if r.Confidence != nil {
		q.Set("confidence", strconv.Itoa(*r.Confidence))
	}
	if r.HorizontalAccuracy != nil {
		q.Set("horizontal_accuracy", formatFloat(*r.HorizontalAccuracy))
	}
	if r.Status != nil {
		q.Set("status", strconv.Itoa(*r.Status))
	}
	// Фиксы из разных источников могут давать "невозможную" скорость между точками.
	q.Set("ignoreMaxSpeedFilter", "true")
	return q
}

// Push sends one report. It never retries; the outcome is always set.
func (c *Client) Push(ctx context.Context, deviceKey string, r models.LocationReport) models.PushResult {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return models.PushResult{Outcome: models.PushError, Err: errors.Wrap(err, "parse sink url")}
	}
	u.RawQuery = Params(deviceKey, r).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.PushResult{Outcome: models.PushError, Err: errors.Wrap(err, "new request")}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return models.PushResult{Outcome: models.PushError, Err: errors.Wrap(err, "do request")}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return models.PushResult{Outcome: models.PushOK, HTTPStatus: resp.StatusCode}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, int64(c.bodyLimit)))
	return models.PushResult{
		Outcome:    models.PushRejected,
		HTTPStatus: resp.StatusCode,
		Body:       string(body),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
