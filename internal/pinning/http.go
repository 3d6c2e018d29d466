package pinning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HealthProber is an alternative health check for a backend, such as a gRPC
// health endpoint.
type HealthProber interface {
	Probe(ctx context.Context) (bool, error)
}

// HTTPConfig configures an HTTPService. Either Token or both ProjectID and
// ProjectSecret are required.
type HTTPConfig struct {
	Name          string
	Endpoint      string
	Token         string
	ProjectID     string
	ProjectSecret string
	Timeout       time.Duration
	Prober        HealthProber
}

// HTTPService pins through a REST pinning API:
//
//	POST   {endpoint}/pins        body: raw bytes, response: {"cid": "..."}
//	DELETE {endpoint}/pins/{cid}
//	GET    {endpoint}/health
type HTTPService struct {
	name          string
	endpoint      string
	token         string
	projectID     string
	projectSecret string
	prober        HealthProber
	client        *http.Client
}

type pinResponse struct {
	CID string `json:"cid"`
}

// NewHTTPService returns ErrMissingCredentials when neither a token nor a
// project id and secret pair is set.
func NewHTTPService(cfg HTTPConfig) (*HTTPService, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("pinning: %s: endpoint is required", cfg.Name)
	}
	if cfg.Token == "" && (cfg.ProjectID == "" || cfg.ProjectSecret == "") {
		return nil, fmt.Errorf("%w: %s needs a token or a project id and secret", ErrMissingCredentials, cfg.Name)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPService{
		name:          cfg.Name,
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		token:         cfg.Token,
		projectID:     cfg.ProjectID,
		projectSecret: cfg.ProjectSecret,
		prober:        cfg.Prober,
		client:        &http.Client{Timeout: timeout},
	}, nil
}

func (s *HTTPService) Name() string { return s.name }

func (s *HTTPService) Pin(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/pins", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s pin request failed: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%s pin error %d: %s", s.name, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var result pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%s pin response: %w", s.name, err)
	}
	if result.CID == "" {
		return "", fmt.Errorf("%s pin response has no cid", s.name)
	}
	return result.CID, nil
}

func (s *HTTPService) Unpin(ctx context.Context, cid string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.endpoint+"/pins/"+url.PathEscape(cid), nil)
	if err != nil {
		return err
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s unpin request failed: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s unpin error %d: %s", s.name, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

func (s *HTTPService) CheckHealth(ctx context.Context) (bool, error) {
	if s.prober != nil {
		return s.prober.Probe(ctx)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/health", nil)
	if err != nil {
		return false, err
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s health request failed: %w", s.name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return false, fmt.Errorf("%s health status %d", s.name, resp.StatusCode)
	}
	return true, nil
}

func (s *HTTPService) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
		return
	}
	req.SetBasicAuth(s.projectID, s.projectSecret)
}
