//go:build integration

package warehouse

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgresmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"leadpipe/internal/delivery"
	"leadpipe/internal/lead"
	"leadpipe/internal/logger"
	"leadpipe/internal/queue"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgresmodule.Run(ctx, "postgres:15",
		postgresmodule.WithDatabase("leads"),
		postgresmodule.WithUsername("leadpipe"),
		postgresmodule.WithPassword("leadpipe"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432/tcp").WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	conn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", conn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.Eventually(t, func() bool { return db.PingContext(pingCtx) == nil }, 10*time.Second, 200*time.Millisecond)

	return db
}

func TestWarehouse_MigrateAndDrainQueue(t *testing.T) {
	db := setupPostgres(t)

	version, dirty, err := Migrate(db, "public")
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	_, _, err = Migrate(db, "public")
	require.NoError(t, err)

	sink := NewSink(db, "public", "lead_submissions", logger.NopLogger())
	q := queue.NewMemoryQueue("warehouse")

	for _, phone := range []string{"33600000001", "33600000002"} {
		row := BuildRow(map[string]interface{}{"utm_medium": "cpc"}, lead.Record{Phone: phone}, RequestMeta{ReceivedAt: time.Now()})
		entry, err := queue.NewEntry(row)
		require.NoError(t, err)
		require.NoError(t, q.Enqueue(context.Background(), entry))
	}

	w := delivery.NewWorker(q, sink, logger.NopLogger(), delivery.WithFailureBackoff(0, 0))
	for i := 0; i < 2; i++ {
		outcome, err := w.ProcessNext(context.Background())
		require.NoError(t, err)
		assert.Equal(t, delivery.OutcomeDelivered, outcome)
	}

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM lead_submissions WHERE utm_medium = 'cpc'`).Scan(&count))
	assert.Equal(t, 2, count)

	var analytics string
	require.NoError(t, db.QueryRow(`SELECT analytics FROM lead_submissions WHERE phone = '33600000001'`).Scan(&analytics))
	assert.Contains(t, analytics, `"received_at"`)
}
