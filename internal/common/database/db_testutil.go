package database

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/dinvlad/jade-data-repo/internal/common/util"
)

// TestPostgresEnv names the environment variable holding the connection string of the Postgres instance that
// database tests run against. Tests needing Postgres are skipped when it is unset.
const TestPostgresEnv = "DATAREPO_TEST_POSTGRES"

// TestPostgresAvailable reports whether a Postgres instance has been configured for tests.
func TestPostgresAvailable() bool {
	_, ok := os.LookupEnv(TestPostgresEnv)
	return ok
}

// WithTestDb spins up a dedicated Postgres database for a test.
//
//	migrations: performed before entering the action callback
//	action: callback for client code
func WithTestDb(migrations []Migration, action func(db *pgxpool.Pool) error) error {
	ctx := context.Background()

	connectionString := os.Getenv(TestPostgresEnv)
	if connectionString == "" {
		connectionString = "host=localhost port=5432 user=postgres password=psw sslmode=disable"
	}

	// Connect and create a dedicated database for the test
	dbName := "test_" + util.NewULID()
	db, err := pgx.Connect(ctx, connectionString)
	if err != nil {
		return errors.WithStack(err)
	}
	defer db.Close(ctx)

	_, err = db.Exec(ctx, "CREATE DATABASE "+dbName)
	if err != nil {
		return errors.WithStack(err)
	}

	// Connect again: this time to the database we just created. This is the database we use for tests
	testDbPool, err := pgxpool.Connect(ctx, connectionString+" dbname="+dbName)
	if err != nil {
		return errors.WithStack(err)
	}

	defer func() {
		testDbPool.Close()

		// disconnect all db user before cleanup
		_, err = db.Exec(ctx,
			`SELECT pg_terminate_backend(pg_stat_activity.pid)
			 FROM pg_stat_activity WHERE pg_stat_activity.datname = '`+dbName+`';`)
		if err != nil {
			fmt.Println("Failed to disconnect users")
		}

		_, err = db.Exec(ctx, "DROP DATABASE "+dbName)
		if err != nil {
			fmt.Println("Failed to drop database")
		}
	}()

	err = UpdateDatabase(ctx, testDbPool, migrations)
	if err != nil {
		return errors.WithStack(err)
	}

	return action(testDbPool)
}
