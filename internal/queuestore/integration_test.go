//go:build integration

package queuestore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sungwon/flowgate/internal/storage"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start container %s: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func TestRedisBackend_Integration(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}, "6379")

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	t.Run("contract", func(t *testing.T) {
		testStorageContract(t, NewRedisBackend(client, "test:contract:"))
	})
	t.Run("cold restart", func(t *testing.T) {
		testColdRestart(t, NewRedisBackend(client, "test:restart:"))
	})
}

func TestPostgresBackend_Integration(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432")

	ctx := context.Background()
	db, err := storage.NewDB(ctx, storage.Config{
		URL:            fmt.Sprintf("postgres://test:test@%s/test?sslmode=disable", addr),
		MaxConns:       5,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(db.Close)

	backend, err := New(ctx, Config{Type: "postgres"}, Deps{DB: db}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	t.Run("contract", func(t *testing.T) {
		testStorageContract(t, backend)
	})
	t.Run("cold restart", func(t *testing.T) {
		testColdRestart(t, backend)
	})
}
