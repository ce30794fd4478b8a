package runtime

import (
	"context"
	"fmt"

	"github.com/containerd/containerd"
)

// DefaultSocketPath is the default containerd socket.
const DefaultSocketPath = "/run/containerd/containerd.sock"

// Probe verifies that a container runtime is reachable. Image mode
// requires a working runtime before the agent starts accepting jobs;
// the jobs themselves are launched through the runtime CLI.
type Probe struct {
	client *containerd.Client
}

// NewProbe connects to the containerd socket.
func NewProbe(socketPath string) (*Probe, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &Probe{client: client}, nil
}

// Ping checks that the runtime answers a version request.
func (p *Probe) Ping(ctx context.Context) error {
	if _, err := p.client.Version(ctx); err != nil {
		return fmt.Errorf("container runtime not responding: %w", err)
	}
	return nil
}

// Close closes the containerd client connection.
func (p *Probe) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
