//go:build integration

package testutil

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const redisImage = "redis:7.4-alpine"

// StartRedisContainer returns the host address of a fresh Redis instance.
func StartRedisContainer(t *testing.T, ctx context.Context) string {
	t.Helper()

	port := nat.Port("6379/tcp")
	req := testcontainers.ContainerRequest{
		Image:        redisImage,
		ExposedPorts: []string{string(port)},
		WaitingFor:   wait.ForListeningPort(port).WithStartupTimeout(time.Minute),
	}

	_, host, mapped := startContainer(t, ctx, req, port)

	return net.JoinHostPort(host, mapped)
}
