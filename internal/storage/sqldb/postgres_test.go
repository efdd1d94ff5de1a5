//go:build integration

package sqldb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tjfontaine/solvency-gateway/internal/storage/memory"
)

// setupPostgres starts a PostgreSQL testcontainer and returns its DSN.
func setupPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "solvency",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := postgres.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return fmt.Sprintf("postgres://postgres:password@%s:%s/solvency?sslmode=disable", host, port.Port())
}

func TestPostgresStore(t *testing.T) {
	store, err := NewPostgres(setupPostgres(t))
	if err != nil {
		t.Fatalf("NewPostgres() error = %v", err)
	}
	defer store.Close()

	if store.Dialect().Name() != "postgres" {
		t.Errorf("unexpected dialect %s", store.Dialect().Name())
	}
	exerciseStore(t, store)

	if err := store.Seed(context.Background(), memory.SeedClients()); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	credit, err := store.GetClientCreditHistory(context.Background(), "client-003")
	if err != nil {
		t.Fatalf("GetClientCreditHistory() error = %v", err)
	}
	if !credit.HasBankruptcy || credit.LatePayments != 5 {
		t.Errorf("unexpected seeded credit %+v", credit)
	}
}
