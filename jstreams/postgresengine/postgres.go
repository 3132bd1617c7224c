package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
	"github.com/AntonStoeckl/jstreams-go/jstreams/postgresengine/internal/adapters"
)

const (
	DefaultEntriesTable = "jstreams_entries"
	DefaultOffsetsTable = "jstreams_group_offsets"
	DefaultPollInterval = 100 * time.Millisecond

	dialectPostgres   = "postgres"
	colID             = "id"
	colStream         = "stream"
	colPayload        = "payload"
	colGroupName      = "group_name"
	colLastID         = "last_id"
	aliasEntries      = "e"
	aliasOffsets      = "o"
	logMsgSQLExecuted = "executed sql"
	logAttrQuery      = "query"
	logAttrDurationMS = "duration_ms"
	logAttrError      = "error"
)

var (
	// ErrNilDatabaseConnection is returned when an Engine is created without a database handle.
	ErrNilDatabaseConnection = errors.Join(jstreams.ErrConfiguration, errors.New("nil database connection supplied"))

	// ErrEmptyTableName is returned when a table name option is empty.
	ErrEmptyTableName = errors.Join(jstreams.ErrConfiguration, errors.New("empty table name supplied"))

	// ErrInvalidEntryID is returned for entry or start IDs that are not decimal numbers.
	ErrInvalidEntryID = errors.New("invalid entry id")
)

// PGXQuerier is the part of a pgx pool the Engine uses. *pgxpool.Pool and pgxmock pools implement it.
type PGXQuerier = adapters.PGXQuerier

// Engine runs the jstreams store contract against PostgreSQL.
// All Conns it dials share the underlying database pool.
type Engine struct {
	db           adapters.DBAdapter
	entriesTable string
	offsetsTable string
	pollInterval time.Duration
	logger       Logger
}

// NewEngineFromPGXPool creates an Engine using a pgx Pool with optional configuration.
func NewEngineFromPGXPool(db *pgxpool.Pool, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewPGXAdapter(db), options...)
}

// NewEngineFromPGX creates an Engine on anything that queries like a pgx pool, for example a pgxmock pool.
func NewEngineFromPGX(db PGXQuerier, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewPGXAdapter(db), options...)
}

// NewEngineFromSQLDB creates an Engine using a database/sql DB with optional configuration.
func NewEngineFromSQLDB(db *sql.DB, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLAdapter(db), options...)
}

// NewEngineFromSQLX creates an Engine using a sqlx DB with optional configuration.
func NewEngineFromSQLX(db *sqlx.DB, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLXAdapter(db), options...)
}

func newEngine(db adapters.DBAdapter, options ...Option) (*Engine, error) {
	e := &Engine{
		db:           db,
		entriesTable: DefaultEntriesTable,
		offsetsTable: DefaultOffsetsTable,
		pollInterval: DefaultPollInterval,
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Dialer returns a jstreams.Dialer handing out lightweight Conns on this Engine.
func (e *Engine) Dialer() jstreams.Dialer {
	return func(context.Context) (jstreams.Conn, error) {
		return &Conn{engine: e}, nil
	}
}

// CreateSchema creates both tables and the read index if they do not exist.
func (e *Engine) CreateSchema(ctx context.Context) error {
	for _, statement := range e.schemaStatements() {
		if _, err := e.exec(ctx, statement); err != nil {
			return storeError("create schema", err)
		}
	}

	return nil
}

func (e *Engine) schemaStatements() []string {
	entries := pgx.Identifier{e.entriesTable}.Sanitize()
	offsets := pgx.Identifier{e.offsetsTable}.Sanitize()
	index := pgx.Identifier{e.entriesTable + "_stream_id_idx"}.Sanitize()

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			stream TEXT NOT NULL,
			payload BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, entries),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (stream, id)`, index, entries),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			stream TEXT NOT NULL,
			group_name TEXT NOT NULL,
			last_id BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (stream, group_name)
		)`, offsets),
	}
}

func (e *Engine) builder() goqu.DialectWrapper {
	return goqu.Dialect(dialectPostgres)
}

func (e *Engine) exec(ctx context.Context, query string, args ...any) (adapters.DBResult, error) {
	start := time.Now()
	result, err := e.db.Exec(ctx, query, args...)
	e.logSQL(query, start, err)

	return result, err
}

func (e *Engine) query(ctx context.Context, query string, args ...any) (adapters.DBRows, error) {
	start := time.Now()
	rows, err := e.db.Query(ctx, query, args...)
	e.logSQL(query, start, err)

	return rows, err
}

func (e *Engine) logSQL(query string, start time.Time, err error) {
	if e.logger == nil {
		return
	}

	durationMS := math.Round(float64(time.Since(start).Nanoseconds())/1e6*1000) / 1000

	if err != nil {
		e.logger.Debug(logMsgSQLExecuted, logAttrQuery, query, logAttrDurationMS, durationMS, logAttrError, err.Error())
		return
	}

	e.logger.Debug(logMsgSQLExecuted, logAttrQuery, query, logAttrDurationMS, durationMS)
}

// Conn is one jstreams connection on an Engine. It holds no database resources of its own.
type Conn struct {
	engine *Engine
}

// Append inserts one entry and returns its ID.
func (c *Conn) Append(ctx context.Context, stream string, payload []byte) (string, error) {
	e := c.engine

	query, args, err := e.builder().
		Insert(e.entriesTable).
		Prepared(true).
		Rows(goqu.Record{colStream: stream, colPayload: payload}).
		Returning(goqu.C(colID)).
		ToSQL()
	if err != nil {
		return "", storeError("build append", err)
	}

	rows, err := e.query(ctx, query, args...)
	if err != nil {
		return "", storeError("append", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if rowsErr := rows.Err(); rowsErr != nil {
			return "", storeError("append", rowsErr)
		}

		return "", storeError("append", errors.New("no id returned"))
	}

	var id int64
	if err := rows.Scan(&id); err != nil {
		return "", storeError("scan appended id", err)
	}

	return strconv.FormatInt(id, 10), nil
}

// EnsureGroup registers group on stream unless it already exists.
// StartNewest starts it behind the current last entry, any numeric ID starts it after that ID.
func (c *Conn) EnsureGroup(ctx context.Context, stream, group, startID string) error {
	e := c.engine
	insert := e.builder().
		Insert(e.offsetsTable).
		Prepared(true).
		OnConflict(goqu.DoNothing())

	if startID == jstreams.StartNewest {
		insert = insert.
			Cols(colStream, colGroupName, colLastID).
			FromQuery(e.builder().
				From(e.entriesTable).
				Select(goqu.V(stream), goqu.V(group), goqu.COALESCE(goqu.MAX(colID), 0)).
				Where(goqu.C(colStream).Eq(stream)))
	} else {
		lastID, err := parseID(startID)
		if err != nil {
			return storeError("ensure group", err)
		}

		insert = insert.Rows(goqu.Record{colStream: stream, colGroupName: group, colLastID: lastID})
	}

	query, args, err := insert.ToSQL()
	if err != nil {
		return storeError("build ensure group", err)
	}

	if _, err := e.exec(ctx, query, args...); err != nil {
		return storeError("ensure group", err)
	}

	return nil
}

// ReadGroup returns the entries above the group's offsets, polling until some arrive or req.Block has passed.
func (c *Conn) ReadGroup(ctx context.Context, req jstreams.ReadRequest) ([]jstreams.Entry, error) {
	e := c.engine
	deadline := time.Now().Add(req.Block)

	for {
		entries, err := c.readOnce(ctx, req)
		if err != nil || len(entries) > 0 {
			return entries, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(min(e.pollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Conn) readOnce(ctx context.Context, req jstreams.ReadRequest) ([]jstreams.Entry, error) {
	e := c.engine

	selectStmt := e.builder().
		From(goqu.T(e.entriesTable).As(aliasEntries)).
		Prepared(true).
		Join(
			goqu.T(e.offsetsTable).As(aliasOffsets),
			goqu.On(
				goqu.I(aliasOffsets+"."+colStream).Eq(goqu.I(aliasEntries+"."+colStream)),
				goqu.I(aliasOffsets+"."+colGroupName).Eq(req.Group),
			),
		).
		Select(
			goqu.I(aliasEntries+"."+colID),
			goqu.I(aliasEntries+"."+colStream),
			goqu.I(aliasEntries+"."+colPayload),
		).
		Where(
			goqu.I(aliasEntries+"."+colStream).In(req.Streams),
			goqu.I(aliasEntries+"."+colID).Gt(goqu.I(aliasOffsets+"."+colLastID)),
		).
		Order(goqu.I(aliasEntries + "." + colID).Asc())

	if req.Count > 0 {
		selectStmt = selectStmt.Limit(uint(req.Count))
	}

	query, args, err := selectStmt.ToSQL()
	if err != nil {
		return nil, storeError("build read", err)
	}

	rows, err := e.query(ctx, query, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, storeError("read", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []jstreams.Entry

	for rows.Next() {
		var (
			id      int64
			stream  string
			payload []byte
		)

		if err := rows.Scan(&id, &stream, &payload); err != nil {
			return nil, storeError("scan entry", err)
		}

		entries = append(entries, jstreams.Entry{ID: strconv.FormatInt(id, 10), Stream: stream, Payload: payload})
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("read", err)
	}

	return entries, nil
}

// Ack moves the group's offset on stream to the highest of ids, if that is ahead of it.
func (c *Conn) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	var highest int64

	for _, id := range ids {
		n, err := parseID(id)
		if err != nil {
			return storeError("ack", err)
		}

		highest = max(highest, n)
	}

	e := c.engine

	query, args, err := e.builder().
		Update(e.offsetsTable).
		Prepared(true).
		Set(goqu.Record{colLastID: goqu.Func("GREATEST", goqu.C(colLastID), highest)}).
		Where(goqu.C(colStream).Eq(stream), goqu.C(colGroupName).Eq(group)).
		ToSQL()
	if err != nil {
		return storeError("build ack", err)
	}

	if _, err := e.exec(ctx, query, args...); err != nil {
		return storeError("ack", err)
	}

	return nil
}

// ClaimAbandoned finds nothing: the engine does not track which consumer holds which entry.
func (c *Conn) ClaimAbandoned(context.Context, jstreams.ClaimRequest) ([]jstreams.Entry, error) {
	return nil, nil
}

// Close does nothing. The database pool belongs to the caller.
func (c *Conn) Close() error {
	return nil
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidEntryID, id)
	}

	return n, nil
}

func storeError(operation string, err error) error {
	return errors.Join(jstreams.ErrStore, fmt.Errorf("postgres %s: %w", operation, err))
}

var _ jstreams.Conn = (*Conn)(nil)
