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
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/go-sql-driver/mysql"
)

const (
	mysqlImage          = "mysql:8.0.36"
	mysqlDatabase       = "reliable"
	mysqlUser           = "root"
	mysqlPassword       = "secret"
	mysqlStartupTimeout = 2 * time.Minute
)

// Database is a started database container reachable from the host and from its network.
type Database struct {
	Container testcontainers.Container
	Network   *testcontainers.DockerNetwork
	DB        *sql.DB
	// DSN addresses the database from containers attached to Network.
	DSN string
}

func StartMySQLContainer(t *testing.T, ctx context.Context) Database {
	t.Helper()

	net := newNetwork(t, ctx)
	port := nat.Port("3306/tcp")
	dsn := func(host, port string) string {
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC&multiStatements=true",
			mysqlUser,
			mysqlPassword,
			host,
			port,
			mysqlDatabase,
		)
	}

	req := testcontainers.ContainerRequest{
		Image:        mysqlImage,
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": mysqlPassword,
			"MYSQL_DATABASE":      mysqlDatabase,
		},
		Networks: []string{net.Name},
		NetworkAliases: map[string][]string{
			net.Name: {"mysql"},
		},
		WaitingFor: wait.ForSQL(port, "mysql", func(host string, port nat.Port) string {
			return dsn(host, port.Port())
		}).WithStartupTimeout(mysqlStartupTimeout),
	}

	container, host, mapped := startContainer(t, ctx, req, port)
	db, err := sql.Open("mysql", dsn(host, mapped))
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
		DSN:       dsn("mysql", "3306"),
	}
}

func newNetwork(t *testing.T, ctx context.Context) *testcontainers.DockerNetwork {
	t.Helper()

	net, err := network.New(ctx)
	if err != nil {
		t.Skipf("create network: %v", err)
	}
	t.Cleanup(func() {
		_ = net.Remove(ctx)
	})

	return net
}

func startContainer(
	t *testing.T,
	ctx context.Context,
	req testcontainers.ContainerRequest,
	port nat.Port,
) (testcontainers.Container, string, string) {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start %s container: %v", req.Image, err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("resolve host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("resolve port: %v", err)
	}

	return container, host, mappedPort.Port()
}
