package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackBridge/internal/integrations/history"
	"github.com/BearBump/TrackBridge/internal/metrics"
	"github.com/BearBump/TrackBridge/internal/models"
	"github.com/BearBump/TrackBridge/internal/services/reconciler"
	"github.com/BearBump/TrackBridge/internal/sessionstore"
)

type Tracker interface {
	FetchDevices(ctx context.Context) ([]models.Device, error)
	FetchPositions(ctx context.Context) ([]models.Position, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Journal records runs and push attempts. Failures are logged, never fatal.
type Journal interface {
	StartRun(ctx context.Context, run models.RunSummary) error
	FinishRun(ctx context.Context, run models.RunSummary) error
	RecordPush(ctx context.Context, rec models.PushRecord) error
}

// Poller owns the history session for the duration of a run and drives runs
// strictly one after another.
type Poller struct {
	tracker  Tracker
	provider history.Provider
	store    sessionstore.Store
	fwd      reconciler.Forwarder

	producer Producer
	topic    string
	rl       RateLimiter
	journal  Journal
	metrics  *metrics.Metrics

	deriveKey func(uniqueID string) (history.Key, error)
	now       func() time.Time

	pollInterval       time.Duration
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastRunUnixNano     atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalRuns           atomic.Int64
	failedRuns          atomic.Int64
	totalDevices        atomic.Int64
	failedDevices       atomic.Int64
	totalPushed         atomic.Int64
	running             atomic.Bool
	lastMu              sync.Mutex
	lastError           string
	lastRun             *models.RunSummary
}

func New(tracker Tracker, provider history.Provider, store sessionstore.Store, fwd reconciler.Forwarder) *Poller {
	return &Poller{
		tracker:           tracker,
		provider:          provider,
		store:             store,
		fwd:               fwd,
		metrics:           metrics.New(nil),
		deriveKey:         history.DeriveKey,
		now:               func() time.Time { return time.Now().UTC() },
		pollInterval:      time.Hour,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (p *Poller) WithSettings(pollInterval time.Duration, rlPerMin int64) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if rlPerMin > 0 {
		p.rateLimitPerMinute = rlPerMin
	}
	return p
}

func (p *Poller) WithRateLimiter(rl RateLimiter) *Poller {
	p.rl = rl
	return p
}

func (p *Poller) WithProducer(producer Producer, topic string) *Poller {
	if topic == "" {
		topic = "fix.forwarded"
	}
	p.producer = producer
	p.topic = topic
	return p
}

func (p *Poller) WithJournal(j Journal) *Poller {
	p.journal = j
	return p
}

func (p *Poller) WithMetrics(m *metrics.Metrics) *Poller {
	if m != nil {
		p.metrics = m
	}
	return p
}

func (p *Poller) PollInterval() time.Duration { return p.pollInterval }

// Trigger forces an immediate run after the current one (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	Running       bool       `json:"running"`
	TotalRuns     int64      `json:"totalRuns"`
	FailedRuns    int64      `json:"failedRuns"`
	TotalDevices  int64      `json:"totalDevices"`
	FailedDevices int64      `json:"failedDevices"`
	TotalPushed   int64      `json:"totalPushed"`
	LastRun       *RunStats  `json:"lastRun,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

type RunStats struct {
	ID              string `json:"id"`
	Devices         int    `json:"devices"`
	DevicesFailed   int    `json:"devicesFailed"`
	ReportsNew      int    `json:"reportsNew"`
	ReportsStale    int    `json:"reportsStale"`
	ReportsNoReport int    `json:"reportsNoReport"`
	PushedOK        int    `json:"pushedOk"`
	PushedRejected  int    `json:"pushedRejected"`
	PushedError     int    `json:"pushedError"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:     time.Unix(0, p.startedAtUnixNano).UTC(),
		Running:       p.running.Load(),
		TotalRuns:     p.totalRuns.Load(),
		FailedRuns:    p.failedRuns.Load(),
		TotalDevices:  p.totalDevices.Load(),
		FailedDevices: p.failedDevices.Load(),
		TotalPushed:   p.totalPushed.Load(),
	}
	if n := p.lastRunUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastRunAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastMu.Lock()
	st.LastError = p.lastError
	if r := p.lastRun; r != nil {
		st.LastRun = &RunStats{
			ID:              r.ID,
			Devices:         r.Devices,
			DevicesFailed:   r.DevicesFailed,
			ReportsNew:      r.ReportsNew,
			ReportsStale:    r.ReportsStale,
			ReportsNoReport: r.ReportsNoReport,
			PushedOK:        r.PushedOK,
			PushedRejected:  r.PushedRejected,
			PushedError:     r.PushedError,
		}
	}
	p.lastMu.Unlock()
	return st
}

func (p *Poller) setLastError(err error) {
	p.lastMu.Lock()
	p.lastError = err.Error()
	p.lastMu.Unlock()
}

func (p *Poller) setLastRun(sum models.RunSummary) {
	p.lastMu.Lock()
	p.lastRun = &sum
	p.lastMu.Unlock()
}

func errString(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
