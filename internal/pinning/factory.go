package pinning

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/profile-sync/internal/redact"
)

// BackendConfig describes one configured backend.
type BackendConfig struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type"` // http or dir
	Endpoint      string `yaml:"endpoint,omitempty"`
	Token         string `yaml:"token,omitempty"`
	ProjectID     string `yaml:"project_id,omitempty"`
	ProjectSecret string `yaml:"project_secret,omitempty"`
	Dir           string `yaml:"dir,omitempty"`
	// GRPCHealth is an optional host:port answering the gRPC health
	// protocol, used instead of GET /health.
	GRPCHealth  string `yaml:"grpc_health,omitempty"`
	GRPCService string `yaml:"grpc_service,omitempty"`
	Disabled    bool   `yaml:"disabled,omitempty"`
}

// Build creates the services for cfgs in order. Backends with missing
// credentials or marked disabled are skipped with a warning instead of
// failing. The returned closers release probe connections.
func Build(cfgs []BackendConfig, timeout time.Duration, log zerolog.Logger) ([]Service, []io.Closer, error) {
	var services []Service
	var closers []io.Closer
	seen := make(map[string]bool, len(cfgs))
	for _, c := range cfgs {
		if c.Name == "" {
			return nil, closers, errors.New("pinning: backend without a name")
		}
		if seen[c.Name] {
			return nil, closers, fmt.Errorf("pinning: duplicate backend %q", c.Name)
		}
		seen[c.Name] = true
		if c.Disabled {
			log.Info().Str("backend", c.Name).Msg("backend disabled")
			continue
		}

		switch c.Type {
		case "dir":
			s, err := NewDirService(c.Name, c.Dir)
			if err != nil {
				return nil, closers, err
			}
			services = append(services, s)
		case "http", "":
			var prober HealthProber
			if c.GRPCHealth != "" {
				p, err := NewGRPCHealthProbe(c.GRPCHealth, c.GRPCService)
				if err != nil {
					return nil, closers, err
				}
				closers = append(closers, p)
				prober = p
			}
			s, err := NewHTTPService(HTTPConfig{
				Name:          c.Name,
				Endpoint:      c.Endpoint,
				Token:         c.Token,
				ProjectID:     c.ProjectID,
				ProjectSecret: c.ProjectSecret,
				Timeout:       timeout,
				Prober:        prober,
			})
			if errors.Is(err, ErrMissingCredentials) {
				log.Warn().Str("backend", c.Name).Str("endpoint", redact.URL(c.Endpoint)).
					Msg("backend disabled: missing credentials")
				continue
			}
			if err != nil {
				return nil, closers, err
			}
			log.Debug().Str("backend", c.Name).Str("endpoint", redact.URL(c.Endpoint)).
				Str("token", redact.Secret(c.Token)).Msg("backend configured")
			services = append(services, s)
		default:
			return nil, closers, fmt.Errorf("pinning: backend %q has unknown type %q", c.Name, c.Type)
		}
	}
	return services, closers, nil
}
