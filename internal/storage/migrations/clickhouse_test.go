package migrations

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startClickhouse runs a ClickHouse container and returns a DSN for the
// given database, which the server does not create on its own.
func startClickhouse(t *testing.T, database string) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Application: Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
			Env: map[string]string{
				"CLICKHOUSE_USER":     "default",
				"CLICKHOUSE_PASSWORD": "",
			},
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return fmt.Sprintf("clickhouse://%s:%s/%s", host, port.Port(), database)
}

func TestRunClickhouseMigrations_RecordsAppliedFiles(t *testing.T) {
	dsn := startClickhouse(t, "ledger_analytics")
	ctx := context.Background()

	files, err := sqlFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)

	conn, applied, err := RunClickhouseMigrations(ctx, dsn)
	require.NoError(t, err)
	assert.Equal(t, files, applied)

	var tables uint64
	require.NoError(t, conn.QueryRow(ctx,
		`SELECT count() FROM system.tables WHERE database = 'ledger_analytics' AND name = 'trade_history'`,
	).Scan(&tables))
	assert.Equal(t, uint64(1), tables)
	require.NoError(t, conn.Close())

	conn, applied, err = RunClickhouseMigrations(ctx, dsn)
	require.NoError(t, err)
	defer conn.Close()
	assert.Empty(t, applied, "second run must find every file recorded")

	done, err := appliedVersions(ctx, conn)
	require.NoError(t, err)
	for _, f := range files {
		assert.True(t, done[f], f)
	}
}
