//go:build integration

package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	postgresImage          = "postgres:16-alpine"
	postgresDatabase       = "reliable"
	postgresUser           = "reliable"
	postgresPassword       = "secret"
	postgresStartupTimeout = 2 * time.Minute
)

func StartPostgresContainer(t *testing.T, ctx context.Context) Database {
	t.Helper()

	net := newNetwork(t, ctx)
	port := nat.Port("5432/tcp")
	dsn := func(host, port string) string {
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			postgresUser,
			postgresPassword,
			host,
			port,
			postgresDatabase,
		)
	}

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDatabase,
		},
		Networks: []string{net.Name},
		NetworkAliases: map[string][]string{
			net.Name: {"postgres"},
		},
		WaitingFor: wait.ForSQL(port, "pgx", func(host string, port nat.Port) string {
			return dsn(host, port.Port())
		}).WithStartupTimeout(postgresStartupTimeout),
	}

	container, host, mapped := startContainer(t, ctx, req, port)
	db, err := sql.Open("pgx", dsn(host, mapped))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return Database{
		Container: container,
		Network:   net,
		DB:        db,
		DSN:       dsn("postgres", "5432"),
	}
}
