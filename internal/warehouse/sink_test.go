package warehouse

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpipe/internal/delivery"
	"leadpipe/internal/logger"
	"leadpipe/internal/queue"
	"leadpipe/pkg/retry"
)

const expectedInsert = `INSERT INTO "public"."lead_submissions" (phone, first_name, last_name, email, postal_code, ` +
	`department, salutation, utm_source, utm_medium, utm_campaign, dossier_code, cohort, dwelling_type, ` +
	`ownership_status, heating_type, interests, page_url, user_agent, submitted_at, analytics) VALUES ` +
	`($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

func args(row Row) []driver.Value {
	values := row.Values()
	out := make([]driver.Value, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func newMockSink(t *testing.T) (*Sink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSink(db, "public", "lead_submissions", logger.NopLogger()), mock
}

func TestInsertQuery(t *testing.T) {
	assert.Equal(t, expectedInsert, insertQuery("public", "lead_submissions"))
	assert.Contains(t, insertQuery("", `odd"name`), `INSERT INTO "odd""name" (`)
}

func TestSink_DeliverRow(t *testing.T) {
	sink, mock := newMockSink(t)
	row := Row{Phone: "33612345678", FirstName: "Jean", Analytics: "{}"}

	mock.ExpectExec(expectedInsert).WithArgs(args(row)...).WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, sink.DeliverRow(context.Background(), row))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.True(t, sink.Configured())
	assert.Equal(t, "warehouse", sink.Name())
}

func TestSink_InsertFailure(t *testing.T) {
	sink, mock := newMockSink(t)
	row := Row{Phone: "1"}

	mock.ExpectExec(expectedInsert).WithArgs(args(row)...).WillReturnError(errors.New("connection reset"))

	err := sink.DeliverRow(context.Background(), row)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.False(t, retry.IsFatal(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_Deliver(t *testing.T) {
	sink, mock := newMockSink(t)
	row := Row{Phone: "33612345678", Analytics: `{"ip":"1.2.3.4"}`}
	payload, err := json.Marshal(row)
	require.NoError(t, err)

	mock.ExpectExec(expectedInsert).WithArgs(args(row)...).WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, sink.Deliver(context.Background(), payload))

	err = sink.Deliver(context.Background(), json.RawMessage(`[]`))
	assert.True(t, retry.IsFatal(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_NotConfigured(t *testing.T) {
	sink := NewSink(nil, "", "lead_submissions", logger.NopLogger())
	assert.False(t, sink.Configured())

	err := sink.DeliverRow(context.Background(), Row{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, retry.IsFatal(err))

	_, _, err = Migrate(nil, "public")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestWorker_QueuedRowSurvivesUnavailablePool(t *testing.T) {
	sink, mock := newMockSink(t)
	row := Row{Phone: "33612345678", FirstName: "Jean", Analytics: "{}"}

	mock.ExpectExec(expectedInsert).WithArgs(args(row)...).WillReturnError(errors.New("dial tcp 10.0.0.5:5432: connect: connection refused"))
	mock.ExpectExec(expectedInsert).WithArgs(args(row)...).WillReturnResult(sqlmock.NewResult(1, 1))

	q := queue.NewMemoryQueue("warehouse")
	entry, err := queue.NewEntry(row)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), entry))

	w := delivery.NewWorker(q, sink, logger.NopLogger())

	outcome, err := w.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, delivery.OutcomeRequeued, outcome)

	pending, err := q.List(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)

	outcome, err = w.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, delivery.OutcomeDelivered, outcome)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorker_UnconfiguredWarehouseKeepsRowQueued(t *testing.T) {
	q := queue.NewMemoryQueue("warehouse")
	entry, err := queue.NewEntry(Row{Phone: "33612345678"})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), entry))

	w := delivery.NewWorker(q, NewSink(nil, "public", "lead_submissions", logger.NopLogger()), logger.NopLogger())

	for i := 1; i <= 3; i++ {
		outcome, err := w.ProcessNext(context.Background())
		require.NoError(t, err)
		assert.Equal(t, delivery.OutcomeRequeued, outcome)
	}

	pending, err := q.List(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 3, pending[0].Attempts)
	assert.Contains(t, pending[0].LastError, ErrNotConfigured.Error())
}
