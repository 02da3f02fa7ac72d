package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"leadpipe/internal/logger"
	"leadpipe/pkg/metrics"
	"leadpipe/pkg/retry"
)

const SinkName = "warehouse"

var ErrNotConfigured = errors.New("warehouse is not configured")

// Sink inserts rows without deduplication. A nil db leaves it unconfigured:
// every attempt fails with ErrNotConfigured and the row stays queued.
type Sink struct {
	db     *sql.DB
	query  string
	logger logger.Logger
}

func NewSink(db *sql.DB, schema, table string, log logger.Logger) *Sink {
	return &Sink{
		db:     db,
		query:  insertQuery(schema, table),
		logger: log,
	}
}

func insertQuery(schema, table string) string {
	target := pq.QuoteIdentifier(table)
	if schema != "" {
		target = pq.QuoteIdentifier(schema) + "." + target
	}
	placeholders := make([]string, len(Columns))
	for i := range Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		target, strings.Join(Columns, ", "), strings.Join(placeholders, ", "))
}

func (s *Sink) Name() string { return SinkName }

func (s *Sink) Configured() bool { return s.db != nil }

func (s *Sink) Deliver(ctx context.Context, payload json.RawMessage) error {
	var row Row
	if err := json.Unmarshal(payload, &row); err != nil {
		return retry.NewFatalError(fmt.Errorf("decode warehouse row: %w", err))
	}
	return s.DeliverRow(ctx, row)
}

// DeliverRow runs one autocommit insert on a dedicated pool connection,
// which is returned to the pool on every path.
func (s *Sink) DeliverRow(ctx context.Context, row Row) error {
	if s.db == nil {
		return ErrNotConfigured
	}

	start := time.Now()
	err := s.insert(ctx, row)
	metrics.ObserveDatabaseQueryDuration("warehouse", "insert", time.Since(start))

	if err != nil {
		metrics.IncDatabaseQuery("warehouse", "insert", "error")
		return err
	}
	metrics.IncDatabaseQuery("warehouse", "insert", "success")
	s.logger.DebugwCtx(ctx, "Warehouse row inserted", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *Sink) insert(ctx context.Context, row Row) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire warehouse connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, s.query, row.Values()...); err != nil {
		return fmt.Errorf("failed to insert warehouse row: %w", err)
	}
	return nil
}
