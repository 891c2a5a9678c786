//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/domain/catalog"
	"github.com/clinicdesk/clinicdesk/internal/domain/patient"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

var (
	connStr       string
	migrationsDir string
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	// DATABASE_URL skips the container, e.g. in CI with a service database.
	connStr = os.Getenv("DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgres(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
			os.Exit(1)
		}
	}
	migrationsDir = findMigrationsDir()

	code := m.Run()
	cleanup()
	os.Exit(code)
}

func findMigrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// newSchema migrates a fresh schema and returns a pool bound to it. The
// schema is dropped when the test ends.
func newSchema(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	schema := "it_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")

	pool, err := db.NewPool(ctx, connStr, schema, 10, 1)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	if _, err := db.NewMigrator(pool, migrationsDir, schema).Up(ctx); err != nil {
		pool.Close()
		t.Fatalf("migrate %s: %v", schema, err)
	}
	t.Cleanup(func() {
		if _, err := pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: drop schema %s: %v", schema, err)
		}
		pool.Close()
	})
	return pool
}

type services struct {
	pool     *pgxpool.Pool
	catalog  *catalog.Service
	patients *patient.Service
}

func newServices(t *testing.T) *services {
	t.Helper()
	pool := newSchema(t)
	cat := catalog.NewService(
		catalog.NewRepoPG(pool, catalog.KindRegion),
		catalog.NewRepoPG(pool, catalog.KindDiseaseType),
	)
	svc := patient.NewService(
		patient.NewPatientRepoPG(pool),
		patient.NewAppointmentRepoPG(pool),
		patient.NewPaymentRepoPG(pool),
		db.NewTransactor(pool),
	)
	svc.SetRefChecker(cat)
	return &services{pool: pool, catalog: cat, patients: svc}
}
