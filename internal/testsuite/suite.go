// internal/testsuite/suite.go
package testsuite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	expireSeconds   = 120
	maxWaitDuration = 120 * time.Second
)

const (
	redisPort  = "6379/tcp"
	redisImage = "redis"
	redisTag   = "alpine"

	postgresPort  = "5432/tcp"
	postgresImage = "postgres"
	postgresTag   = "16-alpine"
)

type Suite struct {
	*testing.T
	Logger *logrus.Logger

	pool *dockertest.Pool
}

// New connects to the local Docker daemon. Tests are skipped, not failed,
// under -short or when Docker is unreachable.
func New(t *testing.T) (context.Context, *Suite) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), maxWaitDuration)
	t.Cleanup(cancel)

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("could not construct docker pool: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker is not reachable: %v", err)
	}
	pool.MaxWait = maxWaitDuration

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	return ctx, &Suite{T: t, Logger: logger, pool: pool}
}

func (s *Suite) run(opts *dockertest.RunOptions) *dockertest.Resource {
	s.Helper()
	resource, err := s.pool.RunWithOptions(opts, func(config *docker.HostConfig) {
		// set AutoRemove to true so that stopped container goes away by itself
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		s.Fatalf("could not start %s: %v", opts.Repository, err)
	}
	// never returns error
	_ = resource.Expire(expireSeconds)

	s.Cleanup(func() {
		if err := s.pool.Purge(resource); err != nil {
			s.Logf("could not purge %s: %v", opts.Repository, err)
		}
	})
	return resource
}

// Redis starts a throwaway redis and returns a client connected to it.
func (s *Suite) Redis(ctx context.Context) *redis.Client {
	s.Helper()
	resource := s.run(&dockertest.RunOptions{Repository: redisImage, Tag: redisTag})
	addr := resource.GetHostPort(redisPort)

	var client *redis.Client
	if err := s.pool.Retry(func() error {
		client = redis.NewClient(&redis.Options{Addr: addr})
		return client.Ping(ctx).Err()
	}); err != nil {
		s.Fatalf("could not connect to redis: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		s.Fatalf("could not flush database: %v", err)
	}
	s.Cleanup(func() { _ = client.Close() })
	return client
}

// Postgres starts a throwaway postgres and returns a pool connected to it.
func (s *Suite) Postgres(ctx context.Context) *pgxpool.Pool {
	s.Helper()
	resource := s.run(&dockertest.RunOptions{
		Repository: postgresImage,
		Tag:        postgresTag,
		Env: []string{
			"POSTGRES_USER=checkers",
			"POSTGRES_PASSWORD=checkers",
			"POSTGRES_DB=checkers",
		},
	})
	dsn := fmt.Sprintf("postgres://checkers:checkers@%s/checkers?sslmode=disable", resource.GetHostPort(postgresPort))

	var pool *pgxpool.Pool
	if err := s.pool.Retry(func() error {
		var err error
		pool, err = pgxpool.New(ctx, dsn)
		if err != nil {
			return err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return err
		}
		return nil
	}); err != nil {
		s.Fatalf("could not connect to postgres: %v", err)
	}
	s.Cleanup(pool.Close)
	return pool
}
