package fake

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"time"

	"github.com/BearBump/TrackBridge/internal/integrations/history"
	"github.com/BearBump/TrackBridge/internal/models"
)

// Provider - локальная заглушка history-провайдера для демо и тестов.
// Отчёты детерминированы по HashedID ключа.
type Provider struct {
	now func() time.Time
}

func New() *Provider {
	return &Provider{now: func() time.Time { return time.Now().UTC() }}
}

type state struct {
	AccountName string `json:"account_name"`
	Logins      int    `json:"logins"`
}

func (p *Provider) Login(ctx context.Context, raw []byte) (history.Session, error) {
	st := state{AccountName: "fake@localhost"}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &st)
	}
	st.Logins++
	return &Session{now: p.now, st: st}, nil
}

type Session struct {
	now func() time.Time
	st  state
}

func (s *Session) AccountName() string { return s.st.AccountName }

// FetchLocationHistory returns one or two reports a few minutes in the past.
func (s *Session) FetchLocationHistory(ctx context.Context, key history.Key) ([]models.LocationReport, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.HashedID))
	v := h.Sum32()

	now := s.now().Truncate(time.Second)
	lat := 55.0 + float64(v%1000)/1000
	lon := 37.0 + float64((v/1000)%1000)/1000
	acc := float64(10 + v%50)
	conf := int(v % 3)
	status := 0

	out := []models.LocationReport{}
	for i := int(v % 2); i < 2; i++ {
		ts := now.Add(-time.Duration(5*(2-i)) * time.Minute)
		out = append(out, models.LocationReport{
			Timestamp:  &ts,
			Latitude:   &lat,
			Longitude:  &lon,
			Accuracy:   &acc,
			Confidence: &conf,
			Status:     &status,
		})
	}
	return out, nil
}

func (s *Session) State() ([]byte, error) {
	return json.Marshal(s.st)
}
