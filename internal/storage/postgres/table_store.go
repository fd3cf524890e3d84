// Package postgres persists catalog datasets into Postgres tables.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunIDColumn tags every row with the run that wrote it.
const RunIDColumn = "run_id"

// Config controls the Postgres connection pool and table naming.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// TableWriter copies each dataset into a table named <prefix><dataset>.
// A rerun with the same run id replaces that run's rows.
type TableWriter struct {
	pool   txBeginner
	prefix string
}

// NewTableWriter connects to Postgres using cfg.
func NewTableWriter(ctx context.Context, cfg Config) (*TableWriter, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewTableWriterWithPool(pool, cfg.TablePrefix)
}

// NewTableWriterWithPool constructs a writer from an existing pool (primarily for testing).
func NewTableWriterWithPool(pool txBeginner, prefix string) (*TableWriter, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if prefix != "" && !validTableName.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &TableWriter{pool: pool, prefix: prefix}, nil
}

// Close releases the underlying pool resources.
func (w *TableWriter) Close() {
	if w == nil || w.pool == nil {
		return
	}
	w.pool.Close()
}

// Table returns the table a dataset is written to.
func (w *TableWriter) Table(dataset string) (string, error) {
	table := w.prefix + dataset
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// WriteDataset creates the table when needed, removes rows of the same run, and bulk copies ds.
func (w *TableWriter) WriteDataset(ctx context.Context, runID string, ds catalog.Dataset) (catalog.WriteResult, error) {
	table, err := w.Table(ds.Name)
	if err != nil {
		return catalog.WriteResult{}, err
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return catalog.WriteResult{}, fmt.Errorf("begin tx: %w", err)
	}
	copied, err := w.replace(ctx, tx, table, runID, ds)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return catalog.WriteResult{}, fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return catalog.WriteResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return catalog.WriteResult{}, fmt.Errorf("commit %s: %w", table, err)
	}
	return catalog.WriteResult{
		Dataset:  ds.Name,
		Rows:     int(copied),
		Location: fmt.Sprintf("postgres://%s?%s=%s", table, RunIDColumn, runID),
	}, nil
}

func (w *TableWriter) replace(ctx context.Context, tx pgx.Tx, table, runID string, ds catalog.Dataset) (int64, error) {
	if _, err := tx.Exec(ctx, createTableSQL(table, ds.Columns)); err != nil {
		return 0, fmt.Errorf("create table %s: %w", table, err)
	}
	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, RunIDColumn)
	if _, err := tx.Exec(ctx, deleteSQL, runID); err != nil {
		return 0, fmt.Errorf("clear run %s from %s: %w", runID, table, err)
	}

	columns := append([]string{RunIDColumn}, catalog.ColumnNames(ds.Columns)...)
	rows := make([][]any, 0, len(ds.Rows))
	for _, row := range ds.Rows {
		rows = append(rows, append([]any{runID}, row...))
	}
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", table, err)
	}
	return copied, nil
}

func createTableSQL(table string, columns []catalog.Column) string {
	defs := []string{RunIDColumn + " TEXT NOT NULL"}
	for _, c := range columns {
		typ := "TEXT"
		if c.Kind == catalog.ColumnInt {
			typ = "INTEGER"
		}
		defs = append(defs, c.Name+" "+typ)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", table, strings.Join(defs, ",\n\t"))
}
