// Package httphelper talks to a remote history helper over HTTP. The helper
// owns device pairing, anisette data and report decryption; this client only
// keeps the session token it hands out.
package httphelper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/TrackBridge/internal/integrations/history"
	"github.com/BearBump/TrackBridge/internal/models"
	"github.com/pkg/errors"
)

var ErrNoHelper = errors.New("history helper url is not configured")

type Provider struct {
	baseURL  string
	libsPath string
	httpc    *http.Client
}

func New(baseURL, libsPath string) *Provider {
	return &Provider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		libsPath: libsPath,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type state struct {
	AccountName string    `json:"account_name"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	Token       string    `json:"token"`
	IssuedAt    time.Time `json:"issued_at"`
}

type sessionResp struct {
	AccountName string `json:"account_name"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Token       string `json:"token"`
}

func (p *Provider) Login(ctx context.Context, raw []byte) (history.Session, error) {
	if p.baseURL == "" {
		return nil, ErrNoHelper
	}

	var st state
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, errors.Wrap(err, "decode session state")
		}
	}
	if st.Token != "" {
		return &Session{p: p, st: st}, nil
	}

	body := map[string]string{"anisette_libs_path": p.libsPath}
	var resp sessionResp
	if err := p.post(ctx, "/v1/session", "", body, &resp); err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	if resp.Token == "" {
		return nil, errors.New("helper returned empty session token")
	}
	return &Session{p: p, st: state{
		AccountName: resp.AccountName,
		FirstName:   resp.FirstName,
		LastName:    resp.LastName,
		Token:       resp.Token,
		IssuedAt:    time.Now().UTC(),
	}}, nil
}

func (p *Provider) post(ctx context.Context, path, token string, in, out any) error {
	u, err := url.Parse(p.baseURL + path)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	b, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("history helper %s: http %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode")
	}
	return nil
}

type Session struct {
	p  *Provider
	mu sync.Mutex
	st state
}

type reportsReq struct {
	HashedIDs []string `json:"hashed_ids"`
}

type reportsResp struct {
	Reports []models.LocationReport `json:"reports"`
	// Token is set when the helper rotated the session.
	Token string `json:"token,omitempty"`
}

func (s *Session) AccountName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.FirstName == "" && s.st.LastName == "" {
		return s.st.AccountName
	}
	return strings.TrimSpace(fmt.Sprintf("%s (%s %s)", s.st.AccountName, s.st.FirstName, s.st.LastName))
}

func (s *Session) FetchLocationHistory(ctx context.Context, key history.Key) ([]models.LocationReport, error) {
	s.mu.Lock()
	token := s.st.Token
	s.mu.Unlock()

	var resp reportsResp
	if err := s.p.post(ctx, "/v1/reports", token, reportsReq{HashedIDs: []string{key.HashedID}}, &resp); err != nil {
		return nil, errors.Wrap(err, "fetch reports")
	}
	if resp.Token != "" && resp.Token != token {
		s.mu.Lock()
		s.st.Token = resp.Token
		s.st.IssuedAt = time.Now().UTC()
		s.mu.Unlock()
	}
	return resp.Reports, nil
}

func (s *Session) State() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal session state")
	}
	return b, nil
}
