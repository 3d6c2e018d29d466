package pinning

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealthProbe checks a backend through the standard gRPC health
// protocol.
type GRPCHealthProbe struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
}

// NewGRPCHealthProbe connects lazily to target. service is the name passed
// in the health request; empty asks for the server as a whole. Without
// extra options the connection is plaintext.
func NewGRPCHealthProbe(target, service string, opts ...grpc.DialOption) (*GRPCHealthProbe, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc health client %s: %w", target, err)
	}
	return &GRPCHealthProbe{conn: conn, client: healthpb.NewHealthClient(conn), service: service}, nil
}

// Probe reports whether the server answers SERVING.
func (p *GRPCHealthProbe) Probe(ctx context.Context) (bool, error) {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return false, fmt.Errorf("grpc health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return false, fmt.Errorf("grpc health status %s", resp.GetStatus())
	}
	return true, nil
}

// Close releases the connection.
func (p *GRPCHealthProbe) Close() error { return p.conn.Close() }
