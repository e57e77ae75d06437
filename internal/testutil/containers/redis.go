//go:build integration

package containers

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisContainer wraps a testcontainers Redis instance.
type RedisContainer struct {
	container testcontainers.Container
	addr      string
}

// RedisConfig holds configuration for Redis container creation.
type RedisConfig struct {
	// Image tag (default: "7-alpine")
	ImageTag string
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{ImageTag: "7-alpine"}
}

// NewRedisContainer creates and starts a Redis container.
// If config is nil, uses DefaultRedisConfig().
func NewRedisContainer(config *RedisConfig) (*RedisContainer, error) {
	if config == nil {
		defaultCfg := DefaultRedisConfig()
		config = &defaultCfg
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        fmt.Sprintf("redis:%s", config.ImageTag),
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, "6379")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	rc := &RedisContainer{
		container: container,
		addr:      net.JoinHostPort(host, strconv.Itoa(mappedPort.Int())),
	}

	if err := rc.HealthCheck(ctx); err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	return rc, nil
}

// Addr returns host:port of the Redis server.
func (c *RedisContainer) Addr() string {
	return c.addr
}

// NewClient returns a client for the container. The caller closes it.
func (c *RedisContainer) NewClient() *goredis.Client {
	return goredis.NewClient(&goredis.Options{Addr: c.addr})
}

// HealthCheck pings the server.
func (c *RedisContainer) HealthCheck(ctx context.Context) error {
	client := c.NewClient()
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

// FlushAll removes every key, used between tests.
func (c *RedisContainer) FlushAll(ctx context.Context) error {
	client := c.NewClient()
	defer func() { _ = client.Close() }()
	return client.FlushAll(ctx).Err()
}

// Terminate stops and removes the Redis container.
func (c *RedisContainer) Terminate() error {
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(context.Background()); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
