package osmand

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/TrackBridge/internal/models"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

// splitServer returns "scheme://host" and the port of a test server.
func splitServer(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return u.Scheme + "://" + host, port
}

func fullReport(ts time.Time) models.LocationReport {
	return models.LocationReport{
		Timestamp:          &ts,
		Latitude:           ptr(55.75),
		Longitude:          ptr(37.61),
		Accuracy:           ptr(12.5),
		Confidence:         ptr(2),
		HorizontalAccuracy: ptr(30.0),
		Status:             ptr(4),
	}
}

func TestParams_Full(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 1, 500, time.UTC)
	q := Params("ABC", fullReport(ts))

	require.Equal(t, "ABC", q.Get("id"))
	require.Equal(t, "55.75", q.Get("lat"))
	require.Equal(t, "37.61", q.Get("lon"))
	require.Equal(t, strconv.FormatInt(ts.Unix(), 10), q.Get("timestamp"))
	require.Equal(t, "12.5", q.Get("accuracy"))
	require.Equal(t, "2", q.Get("confidence"))
	require.Equal(t, "30", q.Get("horizontal_accuracy"))
	require.Equal(t, "4", q.Get("status"))
	require.Equal(t, "true", q.Get("ignoreMaxSpeedFilter"))
}

func TestParams_AbsentFieldsOmitted(t *testing.T) {
	q := Params("ABC", models.LocationReport{Latitude: ptr(0.0)})
	require.True(t, q.Has("lat"))
	require.Equal(t, "0", q.Get("lat"))
	require.False(t, q.Has("lon"))
	require.False(t, q.Has("timestamp"))
	require.False(t, q.Has("status"))
}

func TestClient_Push_OK(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	base, port := splitServer(t, srv)
	c := New(base, Settings{Port: port})
	res := c.Push(context.Background(), "ABC", fullReport(ts))

	require.Equal(t, models.PushOK, res.Outcome)
	require.Equal(t, http.StatusOK, res.HTTPStatus)
	require.NoError(t, res.Err)
	require.Equal(t, "ABC", got.Get("id"))
	require.Equal(t, "1735689600", got.Get("timestamp"))
}

func TestClient_Push_RejectedBodyTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(strings.Repeat("x", 500)))
	}))
	defer srv.Close()

	base, port := splitServer(t, srv)
	res := New(base, Settings{Port: port}).Push(context.Background(), "ABC", fullReport(time.Now()))

	require.Equal(t, models.PushRejected, res.Outcome)
	require.Equal(t, http.StatusBadRequest, res.HTTPStatus)
	require.Len(t, res.Body, DefaultBodyLimit)
}

func TestClient_Push_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base, port := splitServer(t, srv)
	srv.Close()

	res := New(base, Settings{Port: port, Timeout: time.Second}).Push(context.Background(), "ABC", fullReport(time.Now()))
	require.Equal(t, models.PushError, res.Outcome)
	require.Error(t, res.Err)
}

func TestClient_Push_SelfSignedAccepted(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	base, port := splitServer(t, srv)
	res := New(base, Settings{Port: port}).Push(context.Background(), "ABC", fullReport(time.Now()))
	require.Equal(t, models.PushOK, res.Outcome)
}

func TestNew_Defaults(t *testing.T) {
	c := New("https://tracker.local/", Settings{})
	require.Equal(t, "https://tracker.local:5055", c.Endpoint())
	require.Equal(t, DefaultTimeout, c.httpc.Timeout)
	require.Equal(t, 5*time.Second, c.httpc.Timeout)
}

func TestNew_EndpointReplacesTrackerPort(t *testing.T) {
	cases := []struct {
		base string
		port int
		want string
	}{
		{base: "http://localhost:8082", want: "http://localhost:5055"},
		{base: "http://localhost:8082/", port: 5056, want: "http://localhost:5056"},
		{base: "https://tracker.local:8443/traccar", want: "https://tracker.local:5055"},
		{base: "http://[::1]:8082", want: "http://[::1]:5055"},
		{base: "http://10.0.0.5", want: "http://10.0.0.5:5055"},
	}
	for _, tc := range cases {
		t.Run(tc.base, func(t *testing.T) {
			require.Equal(t, tc.want, New(tc.base, Settings{Port: tc.port}).Endpoint())
		})
	}
}

func TestClient_Push_TrackerURLWithPort(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, port := splitServer(t, srv)
	// tracker API and sink share the host, the sink port wins
	c := New("http://127.0.0.1:1", Settings{Port: port})
	res := c.Push(context.Background(), "ABC", fullReport(time.Now().UTC()))
	require.Equal(t, models.PushOK, res.Outcome)
	require.Equal(t, 1, hits)
}
