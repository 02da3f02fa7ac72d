package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"leadpipe/internal/config"
	"leadpipe/internal/logger"
)

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

// InitWarehouse opens the bounded warehouse pool. It returns a nil pool when
// the warehouse is not configured. An unreachable server is logged but not
// fatal: inserts will fail and be queued until it comes back.
func (dc *DatabaseConnector) InitWarehouse(ctx context.Context) (*sql.DB, error) {
	wh := dc.Config.Warehouse
	if !wh.Configured() {
		dc.Logger.Warnw("Warehouse not configured, warehouse sink disabled")
		return nil, nil
	}

	db, err := sql.Open("postgres", wh.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse pool: %w", err)
	}

	db.SetMaxOpenConns(wh.MaxOpenConns)
	db.SetMaxIdleConns(wh.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		dc.Logger.Warnw("Warehouse unreachable at startup",
			"host", wh.Host,
			"dbname", wh.DBName,
			"error", err,
		)
		return db, nil
	}

	dc.Logger.Infow("Warehouse connected successfully",
		"host", wh.Host,
		"dbname", wh.DBName,
		"max_open_conns", wh.MaxOpenConns,
	)
	return db, nil
}
