// Package testutil provides shared test infrastructure: an isolated
// postgres container with pgvector and the schema applied.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/siftd/sift/db"
	"github.com/siftd/sift/internal/log"
)

// SetupPostgres starts a pgvector-enabled postgres container, applies the
// schema and returns the connection URL. The container is terminated via
// t.Cleanup. Tests are skipped when Docker is unavailable.
func SetupPostgres(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	// testcontainers panics instead of returning an error when no Docker
	// host can be found; recover so the documented skip below still fires.
	container, err := func() (c *postgres.PostgresContainer, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%v", r)
			}
		}()
		return postgres.Run(ctx,
			"pgvector/pgvector:pg16",
			postgres.WithDatabase("sift_test"),
			postgres.WithUsername("sift_test"),
			postgres.WithPassword("test_password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
	}()
	if err != nil {
		t.Skipf("starting postgres container (is Docker available?): %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	connURL, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	if err := db.Migrate(connURL, log.NewNop()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return connURL
}
