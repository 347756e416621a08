package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"fomo-relay/agent/internal/models"
	"fomo-relay/agent/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupClickHouse(t *testing.T) *ClickHouseSink {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := startClickHouse(ctx)
	if err != nil {
		t.Skipf("no container provider available: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	conn, err := Conn(ctx, fmt.Sprintf("clickhouse://%s:%s/test", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	sink, err := NewClickHouseSink(ctx, conn)
	require.NoError(t, err)
	return sink
}

func startClickHouse(ctx context.Context) (c testcontainers.Container, err error) {
	// testcontainers panics when no docker host can be found
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	return testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
			Env: map[string]string{"CLICKHOUSE_DB": "test", "CLICKHOUSE_USER": "default", "CLICKHOUSE_PASSWORD": ""},
		},
		Started: true,
	})
}

func TestClickHouseSink_InsertAndStats(t *testing.T) {
	sink := setupClickHouse(t)
	ctx := context.Background()
	now := time.Now().UTC()
	mc := int64(31_200_000)

	err := sink.InsertAttempts(ctx, []services.Attempt{
		{Ticker: "KLED", MarketCap: &mc, Stage: services.StageCache, At: now, Duration: time.Millisecond},
		{Ticker: "KLED", MarketCap: &mc, Stage: services.StageAggregator, Found: true, ContractAddress: "KLEDmint111",
			Chain: models.ChainSOL, At: now, Duration: 120 * time.Millisecond},
		{Ticker: "WIF", Stage: services.StageScanner, Err: "upstream unavailable", Retry: true, At: now, Duration: 40 * time.Millisecond},
	})
	require.NoError(t, err)

	stats, err := sink.StageStats(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, services.StageAggregator, stats[0].Stage)
	assert.Equal(t, uint64(1), stats[0].Found)
	assert.Equal(t, services.StageCache, stats[1].Stage)
	assert.Equal(t, uint64(0), stats[1].Found)
}
