package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nodetap/nodetap/internal/history"
)

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}

	sink, err := New(host+":"+port.Port(), "debug_history")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	// The sink only appends; the table is owned by the operator.
	err = sink.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS debug_history (
			occurred_at DateTime,
			event String,
			target String,
			pid Int32,
			state String,
			detail String
		) ENGINE = MergeTree() ORDER BY occurred_at;`)
	if err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	evt := history.Event{
		Type:       history.EventStart,
		OccurredAt: time.Now().UTC(),
		Record:     history.Record{Target: "demo-app", PID: 12345, State: "running", Detail: "ws://127.0.0.1:9229/abc"},
	}
	if err := sink.Send(ctx, evt); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
}
