package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"leadpipe/internal/config"
	"leadpipe/internal/constants"
	"leadpipe/internal/queue"
	"leadpipe/internal/warehouse"
	"leadpipe/pkg/bootstrap"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the warehouse schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := bootstrap.NewDatabaseConnector(cfg, log).InitWarehouse(cmd.Context())
			if err != nil {
				return err
			}
			if db == nil {
				return warehouse.ErrNotConfigured
			}
			defer db.Close()

			version, dirty, err := warehouse.Migrate(db, cfg.Warehouse.Schema)
			if err != nil {
				return err
			}
			log.InfowCtx(cmd.Context(), "Warehouse schema migrated", "version", version, "dirty", dirty)
			return nil
		},
	}
}

func deadLetterCmd() *cobra.Command {
	var queueName string

	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and replay dead-lettered entries",
	}
	cmd.PersistentFlags().StringVar(&queueName, "queue", constants.QueueLeads, "Queue whose dead letters to use (leads or warehouse)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			_, deadDSN, err := queueDSNs(cfg, queueName)
			if err != nil {
				return err
			}
			dead, err := queue.Open(queueName+"_dead_letter", deadDSN)
			if err != nil {
				return err
			}
			defer dead.Close()

			entries, err := dead.List(cmd.Context())
			if err != nil {
				return err
			}
			return printEntries(cmd.OutOrStdout(), entries)
		},
	}

	replay := &cobra.Command{
		Use:   "replay",
		Short: "Move dead-lettered entries back to the tail of their queue",
		Long: "Move dead-lettered entries back to the tail of their queue. File queues are locked per process, " +
			"so stop the server before replaying into a file queue.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			liveDSN, deadDSN, err := queueDSNs(cfg, queueName)
			if err != nil {
				return err
			}
			live, err := queue.Open(queueName, liveDSN)
			if err != nil {
				return err
			}
			defer live.Close()
			dead, err := queue.Open(queueName+"_dead_letter", deadDSN)
			if err != nil {
				return err
			}
			defer dead.Close()

			n, err := replayDeadLetters(cmd.Context(), dead, live)
			log.InfowCtx(cmd.Context(), "Dead letters replayed", "queue", queueName, "count", n)
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d entries into %s\n", n, queueName)
			return err
		},
	}

	cmd.AddCommand(list, replay)
	return cmd
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the delivery queues",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print pending entry counts per queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "QUEUE\tPENDING\tOLDEST")
			for _, qc := range []struct{ name, dsn string }{
				{constants.QueueLeads, cfg.Queue.Leads},
				{constants.QueueWarehouse, cfg.Queue.Warehouse},
				{constants.QueueLeads + "_dead_letter", cfg.Queue.LeadsDeadLetter},
				{constants.QueueWarehouse + "_dead_letter", cfg.Queue.WarehouseDeadLetter},
			} {
				if qc.dsn == "" {
					continue
				}
				if err := printQueueStats(cmd.Context(), tw, qc.name, qc.dsn); err != nil {
					return err
				}
			}
			return tw.Flush()
		},
	})
	return cmd
}

func printQueueStats(ctx context.Context, w io.Writer, name, dsn string) error {
	q, err := queue.Open(name, dsn)
	if err != nil {
		return err
	}
	defer q.Close()

	entries, err := q.List(ctx)
	if err != nil {
		return fmt.Errorf("list %s: %w", name, err)
	}
	oldest := "-"
	if len(entries) > 0 {
		oldest = entries[0].EnqueuedAt.Format(time.RFC3339)
	}
	fmt.Fprintf(w, "%s\t%d\t%s\n", name, len(entries), oldest)
	return nil
}

func queueDSNs(cfg *config.Config, name string) (live, dead string, err error) {
	switch name {
	case constants.QueueLeads:
		live, dead = cfg.Queue.Leads, cfg.Queue.LeadsDeadLetter
	case constants.QueueWarehouse:
		live, dead = cfg.Queue.Warehouse, cfg.Queue.WarehouseDeadLetter
	default:
		return "", "", fmt.Errorf("unknown queue %q, want %s or %s", name, constants.QueueLeads, constants.QueueWarehouse)
	}
	if dead == "" {
		return "", "", fmt.Errorf("queue %s has no dead-letter queue configured", name)
	}
	return live, dead, nil
}

// replayDeadLetters drains from into the tail of to, resetting the attempt
// count. An entry is removed from the dead-letter queue before it is appended,
// so on error it is pushed back.
func replayDeadLetters(ctx context.Context, from, to queue.Queue) (int, error) {
	n := 0
	for {
		e, ok, err := from.DequeueHead(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}

		e.Attempts = 0
		e.LastError = ""
		if err := to.Enqueue(ctx, e); err != nil {
			if restoreErr := from.Enqueue(context.WithoutCancel(ctx), e); restoreErr != nil {
				return n, fmt.Errorf("replay %s: %w (restore failed: %v)", e.ID, err, restoreErr)
			}
			return n, fmt.Errorf("replay %s: %w", e.ID, err)
		}
		n++
	}
}

type entryView struct {
	ID         string          `json:"id"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt string          `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

func printEntries(w io.Writer, entries []queue.Entry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(entryView{
			ID:         e.ID,
			Attempts:   e.Attempts,
			EnqueuedAt: e.EnqueuedAt.Format(time.RFC3339),
			LastError:  e.LastError,
			Payload:    e.Payload,
		}); err != nil {
			return err
		}
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "no dead-lettered entries")
	}
	return nil
}
