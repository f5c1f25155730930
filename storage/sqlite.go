package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sarchlab/sqlprof/profiling"
)

const schema = `
CREATE TABLE IF NOT EXISTS profilers (
	id          TEXT PRIMARY KEY,
	user_name   TEXT NOT NULL,
	name        TEXT NOT NULL,
	started     INTEGER NOT NULL,
	duration_ms REAL NOT NULL,
	viewed      INTEGER NOT NULL DEFAULT 0,
	payload     BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS profilers_unviewed
	ON profilers (user_name, viewed, started);
`

const (
	saveSQL = `
INSERT INTO profilers (id, user_name, name, started, duration_ms, payload)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	user_name = excluded.user_name,
	name = excluded.name,
	started = excluded.started,
	duration_ms = excluded.duration_ms,
	payload = excluded.payload`

	loadSQL = `SELECT payload FROM profilers WHERE id = ?`

	unviewedSQL = `
SELECT id FROM profilers
WHERE user_name = ? AND viewed = 0
ORDER BY started, rowid`

	setViewedSQL = `
UPDATE profilers SET viewed = 1 WHERE id = ? AND user_name = ?`
)

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(s *SQLiteStore)

// WithLogger sets the logger of the store.
func WithLogger(logger *zap.Logger) SQLiteOption {
	return func(s *SQLiteStore) {
		s.logger = logger
	}
}

// SQLiteStore keeps sessions in a SQLite database.
type SQLiteStore struct {
	*sql.DB

	logger    *zap.Logger
	save      *sql.Stmt
	load      *sql.Stmt
	unviewed  *sql.Stmt
	setViewed *sql.Stmt

	closeOnce sync.Once
	closeErr  error
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens, and creates if needed, the SQLite database at path.
// An empty path creates a new database file with a unique name in the
// working directory. The store is closed when the program exits through
// atexit.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if path == "" {
		path = "sqlprof_" + xid.New().String() + ".sqlite3"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	s, err := NewSQLiteStoreWithDB(db, opts...)
	if err != nil {
		return nil, multierr.Append(err, db.Close())
	}

	s.logger.Info("session database opened", zap.String("path", path))

	atexit.Register(func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing session database", zap.Error(err))
		}
	})

	return s, nil
}

// NewSQLiteStoreWithDB creates a store on an open SQLite database.
func NewSQLiteStoreWithDB(db *sql.DB, opts ...SQLiteOption) (*SQLiteStore, error) {
	s := &SQLiteStore{
		DB:     db,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		return nil, multierr.Append(err, s.closeStatements())
	}

	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	statements := []struct {
		stmt  **sql.Stmt
		query string
	}{
		{&s.save, saveSQL},
		{&s.load, loadSQL},
		{&s.unviewed, unviewedSQL},
		{&s.setViewed, setViewedSQL},
	}

	for _, st := range statements {
		stmt, err := s.Prepare(st.query)
		if err != nil {
			return fmt.Errorf("preparing statement: %w", err)
		}

		*st.stmt = stmt
	}

	return nil
}

// Save stores a session. Saving a session again keeps its viewed flag.
func (s *SQLiteStore) Save(ctx context.Context, p *profiling.Profiler) error {
	if p == nil {
		return errNilSession
	}

	payload, err := profiling.ToJSON(p)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", p.ID, err)
	}

	_, err = s.save.ExecContext(ctx,
		p.ID.String(),
		p.User,
		p.Name,
		p.Started.UnixNano(),
		p.DurationMilliseconds,
		payload,
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", p.ID, err)
	}

	return nil
}

// Load returns a stored session.
func (s *SQLiteStore) Load(
	ctx context.Context,
	id uuid.UUID,
) (*profiling.Profiler, error) {
	var payload []byte

	err := s.load.QueryRowContext(ctx, id.String()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading session %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	p, err := profiling.FromJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}

	return p, nil
}

// UnviewedIDs lists the unviewed sessions of user, oldest first.
func (s *SQLiteStore) UnviewedIDs(
	ctx context.Context,
	user string,
) (ids []uuid.UUID, err error) {
	rows, err := s.unviewed.QueryContext(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("listing unviewed sessions: %w", err)
	}
	defer func() {
		err = multierr.Append(err, rows.Close())
	}()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("listing unviewed sessions: %w", err)
		}

		id, err := uuid.Parse(raw)
		if err != nil {
			s.logger.Warn("skipping session with malformed id",
				zap.String("id", raw), zap.Error(err))
			continue
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing unviewed sessions: %w", err)
	}

	return ids, nil
}

// SetViewed marks a session as viewed.
func (s *SQLiteStore) SetViewed(
	ctx context.Context,
	user string,
	id uuid.UUID,
) error {
	res, err := s.setViewed.ExecContext(ctx, id.String(), user)
	if err != nil {
		return fmt.Errorf("marking session %s viewed: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking session %s viewed: %w", id, err)
	}

	if n == 0 {
		return fmt.Errorf("marking session %s viewed: %w", id, ErrNotFound)
	}

	return nil
}

// Close closes the prepared statements and the database. Calling Close more
// than once returns the result of the first call.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = multierr.Append(s.closeStatements(), s.DB.Close())
	})

	return s.closeErr
}

func (s *SQLiteStore) closeStatements() error {
	var err error

	for _, stmt := range []*sql.Stmt{s.save, s.load, s.unviewed, s.setViewed} {
		if stmt != nil {
			err = multierr.Append(err, stmt.Close())
		}
	}

	return err
}
