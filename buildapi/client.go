package buildapi

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/gantryci/gantry/internal/socket"
)

// NewSocketPath generates a path to a socket file (without actually creating
// the file itself) that can be used with the build API.
func NewSocketPath(base string) string {
	return filepath.Join(base, "build-api", fmt.Sprintf("%d-%d.sock", os.Getpid(), rand.Int63n(100_000)))
}

// Client queries a build API server over its socket.
type Client struct {
	cli *socket.Client
}

// NewClient creates a new Client using the socket found at socketPath and
// the provided token.
func NewClient(ctx context.Context, socketPath, token string) (*Client, error) {
	cli, err := socket.NewClient(ctx, socketPath, token)
	if err != nil {
		return nil, fmt.Errorf("creating socket client: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Build fetches the state of the build being run.
func (c *Client) Build(ctx context.Context) (BuildResponse, error) {
	var resp BuildResponse
	// The host is arbitrary: the underlying transport dials the socket.
	err := c.cli.Do(ctx, "GET", "http://build/api/build/v0", nil, &resp)
	return resp, err
}

// Jobs fetches the state of every job in the build.
func (c *Client) Jobs(ctx context.Context) ([]JobResponse, error) {
	var resp JobsResponse
	err := c.cli.Do(ctx, "GET", "http://build/api/build/v0/jobs", nil, &resp)
	return resp.Jobs, err
}
