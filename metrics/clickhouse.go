package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jonboulle/clockwork"
	"github.com/tebeka/atexit"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sarchlab/sqlprof/profiling"
)

// DefaultTimingsTable is the table ClickHouseSink writes to.
const DefaultTimingsTable = "sqlprof_sql_timings"

// ClickHouseOptions tell ClickHouseSink where to write.
type ClickHouseOptions struct {
	Addr      string
	Database  string
	Username  string
	Password  string
	Table     string
	BatchSize int
}

type timingRow struct {
	sessionID      string
	sessionName    string
	user           string
	timingID       string
	parentTimingID string
	kind           string
	command        string
	startMS        float64
	durationMS     float64
	firstFetchMS   float64
	streamed       bool
	recordedAt     time.Time
}

// ClickHouseSink keeps every observed operation in a ClickHouse table for
// later analysis. Operations are written in batches.
type ClickHouseSink struct {
	db        *sql.DB
	table     string
	batchSize int
	clock     clockwork.Clock
	logger    *zap.Logger

	mu    sync.Mutex
	batch []timingRow
}

var _ profiling.Observer = (*ClickHouseSink)(nil)

// SinkOption configures a ClickHouseSink.
type SinkOption func(s *ClickHouseSink)

// WithSinkLogger sets the logger that reports failed writes.
func WithSinkLogger(logger *zap.Logger) SinkOption {
	return func(s *ClickHouseSink) {
		s.logger = logger
	}
}

// WithSinkClock sets the clock that stamps the rows.
func WithSinkClock(clock clockwork.Clock) SinkOption {
	return func(s *ClickHouseSink) {
		s.clock = clock
	}
}

// NewClickHouseSink connects to ClickHouse and creates the timings table if
// needed. Pending rows are flushed when the program exits through atexit.
func NewClickHouseSink(
	ctx context.Context,
	opts ClickHouseOptions,
	sinkOpts ...SinkOption,
) (*ClickHouseSink, error) {
	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 30 * time.Second,
	})

	if err := db.PingContext(ctx); err != nil {
		return nil, multierr.Append(
			fmt.Errorf("connecting to ClickHouse at %s: %w", opts.Addr, err),
			db.Close())
	}

	s := NewClickHouseSinkWithDB(db, opts.Table, opts.BatchSize, sinkOpts...)

	if err := s.CreateTable(ctx); err != nil {
		return nil, multierr.Append(err, db.Close())
	}

	atexit.Register(func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing ClickHouse sink", zap.Error(err))
		}
	})

	return s, nil
}

// NewClickHouseSinkWithDB creates a sink on an open ClickHouse database. An
// empty table name selects DefaultTimingsTable. A batch size under one
// writes every operation as soon as it is observed.
func NewClickHouseSinkWithDB(
	db *sql.DB,
	table string,
	batchSize int,
	opts ...SinkOption,
) *ClickHouseSink {
	if table == "" {
		table = DefaultTimingsTable
	}

	if batchSize < 1 {
		batchSize = 1
	}

	s := &ClickHouseSink{
		db:        db,
		table:     table,
		batchSize: batchSize,
		clock:     clockwork.NewRealClock(),
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// CreateTable creates the timings table if it does not exist.
func (s *ClickHouseSink) CreateTable(ctx context.Context) error {
	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			SessionID String,
			SessionName String,
			User String,
			TimingID String,
			ParentTimingID String,
			Kind LowCardinality(String),
			Command String,
			StartMilliseconds Float64,
			DurationMilliseconds Float64,
			FirstFetchMilliseconds Float64,
			Streamed Bool,
			RecordedAt DateTime64(3)
		) ENGINE = MergeTree()
		ORDER BY (Kind, RecordedAt)
	`, s.table)

	if _, err := s.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}

	return nil
}

// Observe queues an operation and writes the queue once it is full.
func (s *ClickHouseSink) Observe(p *profiling.Profiler, t profiling.SQLTiming) {
	row := timingRow{
		timingID:       t.ID,
		parentTimingID: t.ParentTimingID,
		kind:           t.ExecuteType.String(),
		command:        t.CommandString,
		startMS:        t.StartMilliseconds,
		durationMS:     t.DurationMilliseconds,
		firstFetchMS:   t.FirstFetchDurationMilliseconds,
		streamed:       t.Streamed,
		recordedAt:     s.clock.Now(),
	}

	if p != nil {
		row.sessionID = p.ID.String()
		row.sessionName = p.Name
		row.user = p.User
	}

	s.mu.Lock()
	s.batch = append(s.batch, row)
	full := len(s.batch) >= s.batchSize
	s.mu.Unlock()

	if !full {
		return
	}

	if err := s.Flush(context.Background()); err != nil {
		s.logger.Warn("writing operations to ClickHouse", zap.Error(err))
	}
}

// Flush writes the queued operations. Operations that could not be written
// are dropped.
func (s *ClickHouseSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.batch
	s.batch = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := s.insert(ctx, batch); err != nil {
		return fmt.Errorf("flushing %d operations: %w", len(batch), err)
	}

	return nil
}

func (s *ClickHouseSink) insert(ctx context.Context, batch []timingRow) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (
		SessionID, SessionName, User, TimingID, ParentTimingID, Kind, Command,
		StartMilliseconds, DurationMilliseconds, FirstFetchMilliseconds,
		Streamed, RecordedAt
	)`, s.table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range batch {
		_, err = stmt.ExecContext(ctx,
			r.sessionID, r.sessionName, r.user, r.timingID, r.parentTimingID,
			r.kind, r.command, r.startMS, r.durationMS, r.firstFetchMS,
			r.streamed, r.recordedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Close flushes the queued operations and closes the database.
func (s *ClickHouseSink) Close() error {
	return multierr.Append(s.Flush(context.Background()), s.db.Close())
}
