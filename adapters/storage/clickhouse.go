package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cloud-cost-allocation/internal/config"
	"cloud-cost-allocation/internal/errors"
	"cloud-cost-allocation/internal/logging"
)

var clickHouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS allocation_runs (
		id String,
		kind LowCardinality(String),
		date String,
		currency LowCardinality(String),
		amounts Array(String),
		totals String,
		records UInt32,
		instances UInt32,
		cycle_breaks UInt32,
		dropped_records UInt32,
		selector_failures UInt32,
		duration_ms Int64,
		inputs Map(String, String),
		created_at DateTime64(3)
	) ENGINE = MergeTree ORDER BY (date, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS allocated_costs (
		run_id String,
		date String,
		currency LowCardinality(String),
		service String,
		instance String,
		provider_service String,
		provider_instance String,
		product String,
		amount LowCardinality(String),
		value Decimal(38, 10),
		product_value Decimal(38, 10)
	) ENGINE = MergeTree ORDER BY (date, run_id, provider_service, service)`,
}

const runColumns = `id, kind, date, currency, amounts, totals, records, instances,
	cycle_breaks, dropped_records, selector_failures, duration_ms, inputs, created_at`

// ClickHouseStore keeps run summaries and allocated rows in ClickHouse
type ClickHouseStore struct {
	conn   clickhouse.Conn
	logger *zap.Logger
}

// NewClickHouseStore connects to ClickHouse and creates the tables if needed
func NewClickHouseStore(ctx context.Context, cfg config.ClickHouseSettings) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, errors.Storage("failed to connect to ClickHouse", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, errors.Storage("failed to ping ClickHouse", err)
	}

	s := &ClickHouseStore{conn: conn, logger: logging.Named("clickhouse")}
	for _, ddl := range clickHouseSchema {
		if err := conn.Exec(ctx, ddl); err != nil {
			conn.Close()
			return nil, errors.Storage("failed to create ClickHouse tables", err)
		}
	}
	return s, nil
}

func (s *ClickHouseStore) Save(ctx context.Context, run *RunSummary) error {
	prepare(run)

	totals, err := json.Marshal(run.Totals)
	if err != nil {
		return errors.Storage("failed to marshal totals", err)
	}
	inputs := run.Inputs
	if inputs == nil {
		inputs = map[string]string{}
	}
	err = s.conn.Exec(ctx, `INSERT INTO allocation_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Date, run.Currency, run.Amounts, string(totals),
		uint32(run.Records), uint32(run.Instances), uint32(run.CycleBreaks),
		uint32(run.DroppedRecords), uint32(run.SelectorFailures),
		run.Duration.Milliseconds(), inputs, run.CreatedAt,
	)
	if err != nil {
		return errors.Storage("failed to insert run", err)
	}

	if len(run.Rows) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO allocated_costs (
		run_id, date, currency, service, instance, provider_service,
		provider_instance, product, amount, value, product_value
	)`)
	if err != nil {
		return errors.Storage("failed to prepare batch", err)
	}
	for _, row := range run.Rows {
		if err := batch.Append(
			run.ID, run.Date, run.Currency, row.Service, row.Instance, row.ProviderService,
			row.ProviderInstance, row.Product, row.Amount, row.Value, row.ProductValue,
		); err != nil {
			return errors.Storage("failed to append to batch", err)
		}
	}
	if err := batch.Send(); err != nil {
		return errors.Storage("failed to send batch", err)
	}
	s.logger.Debug("Stored allocated rows", zap.String("run_id", run.ID), zap.Int("rows", len(run.Rows)))
	return nil
}

func (s *ClickHouseStore) Get(ctx context.Context, id string) (*RunSummary, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+runColumns+` FROM allocation_runs WHERE id = ? LIMIT 1`, id)
	run, err := scanRun(row.Scan)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("run", id)
	}
	if err != nil {
		return nil, errors.Storage("failed to get run", err)
	}
	return run, nil
}

func (s *ClickHouseStore) List(ctx context.Context, filter *ListFilter) ([]*RunSummary, error) {
	var where []string
	var args []any
	if filter != nil {
		if filter.Date != "" {
			where = append(where, "date = ?")
			args = append(args, filter.Date)
		}
		if filter.Kind != "" {
			where = append(where, "kind = ?")
			args = append(args, filter.Kind)
		}
		if !filter.Since.IsZero() {
			where = append(where, "created_at >= ?")
			args = append(args, filter.Since)
		}
		if !filter.Until.IsZero() {
			where = append(where, "created_at <= ?")
			args = append(args, filter.Until)
		}
	}

	query := `SELECT ` + runColumns + ` FROM allocation_runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if filter != nil && filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Storage("failed to list runs", err)
	}
	defer rows.Close()

	var runs []*RunSummary
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, errors.Storage("failed to scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Storage("failed to list runs", err)
	}
	return runs, nil
}

func (s *ClickHouseStore) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.conn.Exec(ctx, `ALTER TABLE allocated_costs DELETE WHERE run_id = ?`, id); err != nil {
		return errors.Storage("failed to delete allocated rows", err)
	}
	if err := s.conn.Exec(ctx, `ALTER TABLE allocation_runs DELETE WHERE id = ?`, id); err != nil {
		return errors.Storage("failed to delete run", err)
	}
	return nil
}

func (s *ClickHouseStore) GetLatest(ctx context.Context, date string) (*RunSummary, error) {
	runs, err := s.List(ctx, &ListFilter{Date: date, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, errors.NotFound("run for date", date)
	}
	return runs[0], nil
}

func (s *ClickHouseStore) Compare(ctx context.Context, oldID, newID string) (*CompareResult, error) {
	oldRun, err := s.Get(ctx, oldID)
	if err != nil {
		return nil, err
	}
	newRun, err := s.Get(ctx, newID)
	if err != nil {
		return nil, err
	}
	return compareRuns(oldRun, newRun), nil
}

func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

func scanRun(scan func(dest ...any) error) (*RunSummary, error) {
	var (
		run                                          RunSummary
		totals                                       string
		records, instances, breaks, dropped, failing uint32
		durationMs                                   int64
	)
	err := scan(
		&run.ID, &run.Kind, &run.Date, &run.Currency, &run.Amounts, &totals,
		&records, &instances, &breaks, &dropped, &failing,
		&durationMs, &run.Inputs, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Totals = make(map[string]decimal.Decimal)
	if err := json.Unmarshal([]byte(totals), &run.Totals); err != nil {
		return nil, err
	}
	run.Records = int(records)
	run.Instances = int(instances)
	run.CycleBreaks = int(breaks)
	run.DroppedRecords = int(dropped)
	run.SelectorFailures = int(failing)
	run.Duration = time.Duration(durationMs) * time.Millisecond
	return &run, nil
}
