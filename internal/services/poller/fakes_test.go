package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BearBump/TrackBridge/internal/integrations/history"
	"github.com/BearBump/TrackBridge/internal/models"
)

type fakeTracker struct {
	mu        sync.Mutex
	devices   []models.Device
	positions []models.Position
	devErr    error
	posErr    error
	calls     int
}

func (f *fakeTracker) FetchDevices(ctx context.Context) ([]models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.devices, f.devErr
}

func (f *fakeTracker) FetchPositions(ctx context.Context) ([]models.Position, error) {
	return f.positions, f.posErr
}

func (f *fakeTracker) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSession struct {
	byKey   map[string][]models.LocationReport
	errKey  map[string]error
	panicOn string
	fetched []string
	state   string
}

func (s *fakeSession) AccountName() string { return "me@example.com" }

func (s *fakeSession) FetchLocationHistory(ctx context.Context, key history.Key) ([]models.LocationReport, error) {
	s.fetched = append(s.fetched, key.HashedID)
	if key.HashedID == s.panicOn {
		panic("boom")
	}
	if err := s.errKey[key.HashedID]; err != nil {
		return nil, err
	}
	return s.byKey[key.HashedID], nil
}

func (s *fakeSession) State() ([]byte, error) { return []byte(s.state), nil }

type fakeProvider struct {
	sess     *fakeSession
	err      error
	gotState []byte
	logins   int
}

func (p *fakeProvider) Login(ctx context.Context, state []byte) (history.Session, error) {
	p.logins++
	p.gotState = state
	if p.err != nil {
		return nil, p.err
	}
	return p.sess, nil
}

type memStore struct {
	state   []byte
	saves   int
	saveErr error
}

func (m *memStore) Load(ctx context.Context) ([]byte, error) { return m.state, nil }

func (m *memStore) Save(ctx context.Context, state []byte) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = append([]byte(nil), state...)
	return nil
}

type pushCall struct {
	key string
	ts  time.Time
}

type fakeForwarder struct {
	calls    []pushCall
	outcomes map[string]models.PushResult
}

func (f *fakeForwarder) Push(ctx context.Context, deviceKey string, r models.LocationReport) models.PushResult {
	f.calls = append(f.calls, pushCall{key: deviceKey, ts: *r.Timestamp})
	if res, ok := f.outcomes[deviceKey]; ok {
		return res
	}
	return models.PushResult{Outcome: models.PushOK, HTTPStatus: 200}
}

type fakeProducer struct {
	mu    sync.Mutex
	msgs  [][]byte
	fails int
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fails > 0 {
		p.fails--
		return errors.New("broker not ready")
	}
	p.msgs = append(p.msgs, value)
	return nil
}

type fakeJournal struct {
	started  []models.RunSummary
	finished []models.RunSummary
	pushes   []models.PushRecord
}

func (j *fakeJournal) StartRun(ctx context.Context, run models.RunSummary) error {
	j.started = append(j.started, run)
	return nil
}

func (j *fakeJournal) FinishRun(ctx context.Context, run models.RunSummary) error {
	j.finished = append(j.finished, run)
	return nil
}

func (j *fakeJournal) RecordPush(ctx context.Context, rec models.PushRecord) error {
	j.pushes = append(j.pushes, rec)
	return nil
}

type fakeRL struct {
	allowed bool
	err     error
	keys    []string
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	r.keys = append(r.keys, key)
	return r.allowed, 1, r.err
}

// stubKey maps a uniqueId straight to the lookup id; "BAD" fails derivation.
func stubKey(uniqueID string) (history.Key, error) {
	if uniqueID == "BAD" {
		return history.Key{}, history.ErrInvalidKey
	}
	return history.Key{HashedID: "h-" + uniqueID}, nil
}
