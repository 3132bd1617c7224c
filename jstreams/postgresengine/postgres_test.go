package postgresengine_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
	"github.com/AntonStoeckl/jstreams-go/jstreams/postgresengine"
	"github.com/AntonStoeckl/jstreams-go/testutil/helper"
)

func givenMockedEngine(t *testing.T, options ...postgresengine.Option) (pgxmock.PgxPoolIface, jstreams.Conn) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	engine, err := postgresengine.NewEngineFromPGX(mock, options...)
	require.NoError(t, err)

	conn, err := engine.Dialer()(context.Background())
	require.NoError(t, err)

	return mock, conn
}

func Test_NewEngine_ShouldFail_WithNilDatabase(t *testing.T) {
	// act
	_, pgxErr := postgresengine.NewEngineFromPGXPool(nil)
	_, querierErr := postgresengine.NewEngineFromPGX(nil)
	_, sqlErr := postgresengine.NewEngineFromSQLDB(nil)
	_, sqlxErr := postgresengine.NewEngineFromSQLX(nil)

	// assert
	for _, err := range []error{pgxErr, querierErr, sqlErr, sqlxErr} {
		assert.ErrorIs(t, err, postgresengine.ErrNilDatabaseConnection)
		assert.ErrorIs(t, err, jstreams.ErrConfiguration)
	}
}

func Test_NewEngine_ShouldFail_WithInvalidOptions(t *testing.T) {
	// setup
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	testCases := []struct {
		name   string
		option postgresengine.Option
	}{
		{name: "empty entries table", option: postgresengine.WithEntriesTable("")},
		{name: "empty offsets table", option: postgresengine.WithOffsetsTable("")},
		{name: "zero poll interval", option: postgresengine.WithPollInterval(0)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			_, err := postgresengine.NewEngineFromPGX(mock, tc.option)

			// assert
			assert.ErrorIs(t, err, jstreams.ErrConfiguration)
		})
	}
}

func Test_CreateSchema_ShouldCreateTablesAndIndex(t *testing.T) {
	// setup
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	engine, err := postgresengine.NewEngineFromPGX(mock, postgresengine.WithEntriesTable("my_entries"))
	require.NoError(t, err)

	// arrange
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "my_entries"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS "my_entries_stream_id_idx" ON "my_entries"`).WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "jstreams_group_offsets"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	// act
	err = engine.CreateSchema(context.Background())

	// assert
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_CreateSchema_ShouldFail_WithStoreError(t *testing.T) {
	// setup
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	engine, err := postgresengine.NewEngineFromPGX(mock)
	require.NoError(t, err)

	// arrange
	mock.ExpectExec(`CREATE TABLE`).WillReturnError(errors.New("permission denied"))

	// act
	err = engine.CreateSchema(context.Background())

	// assert
	assert.ErrorIs(t, err, jstreams.ErrStore)
	assert.ErrorContains(t, err, "permission denied")
}

func Test_Append_ShouldReturnGeneratedID(t *testing.T) {
	// setup
	logSpy := helper.NewLogHandlerSpy(false)
	mock, conn := givenMockedEngine(t, postgresengine.WithLogger(logSpy.Logger()))

	// arrange
	mock.ExpectQuery(`INSERT INTO "jstreams_entries" .* RETURNING "id"`).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(42)))

	// act
	id, err := conn.Append(context.Background(), "orders", []byte(`{"id":1}`))

	// assert
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.True(t, logSpy.HasLogWithMessage(slog.LevelDebug, "executed sql").WithAttrKey("query").Assert())
}

func Test_Append_ShouldFail_WithStoreError(t *testing.T) {
	// setup
	mock, conn := givenMockedEngine(t)

	// arrange
	mock.ExpectQuery(`INSERT INTO "jstreams_entries"`).WillReturnError(errors.New("connection reset"))

	// act
	_, err := conn.Append(context.Background(), "orders", []byte(`1`))

	// assert
	assert.ErrorIs(t, err, jstreams.ErrStore)
	assert.ErrorContains(t, err, "connection reset")
}

func Test_EnsureGroup_AtNewest_ShouldStartBehindLastEntry(t *testing.T) {
	// setup
	mock, conn := givenMockedEngine(t)

	// arrange
	mock.ExpectExec(`INSERT INTO "jstreams_group_offsets" .*SELECT .*COALESCE\(MAX\("id"\).*ON CONFLICT DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	// act
	err := conn.EnsureGroup(context.Background(), "orders", "billing", jstreams.StartNewest)

	// assert
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_EnsureGroup_AtOldest_ShouldStartAtZero(t *testing.T) {
	// setup
	mock, conn := givenMockedEngine(t)

	// arrange
	mock.ExpectExec(`INSERT INTO "jstreams_group_offsets" .*VALUES .*ON CONFLICT DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	// act
	err := conn.EnsureGroup(context.Background(), "orders", "billing", jstreams.StartOldest)

	// assert
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_EnsureGroup_ShouldFail_WithNonNumericStartID(t *testing.T) {
	// setup
	mock, conn := givenMockedEngine(t)

	// act
	err := conn.EnsureGroup(context.Background(), "orders", "billing", "1700000000000-0")

	// assert
	assert.ErrorIs(t, err, jstreams.ErrStore)
	assert.ErrorIs(t, err, postgresengine.ErrInvalidEntryID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_ReadGroup_ShouldReturnEntriesAboveOffset(t *testing.T) {
	// setup
	mock, conn := givenMockedEngine(t)

	// arrange
	mock.ExpectQuery(`SELECT "e"."id", "e"."stream", "e"."payload" FROM "jstreams_entries" AS "e" INNER JOIN "jstreams_group_offsets" AS "o"`).
		WillReturnRows(mock.NewRows([]string{"id", "stream", "payload"}).
			AddRow(int64(3), "orders", []byte(`"a"`)).
			AddRow(int64(4), "invoices", []byte(`"b"`)))

	// act
	entries, err := conn.ReadGroup(context.Background(), jstreams.ReadRequest{
		Streams:  []string{"orders", "invoices"},
		Group:    "billing",
		Consumer: "billing-1",
		Count:    10,
	})

	// assert
	require.NoError(t, err)
	assert.Equal(t, []jstreams.Entry{
		{ID: "3", Stream: "orders", Payload: []byte(`"a"`)},
		{ID: "4", Stream: "invoices", Payload: []byte(`"b"`)},
	}, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_ReadGroup_ShouldPoll_UntilEntriesArrive(t *testing.T) {
	// setup
	mock, conn := givenMockedEngine(t, postgresengine.WithPollInterval(10*time.Millisecond))

	// arrange
	mock.ExpectQuery(`SELECT .* FROM "jstreams_entries"`).
		WillReturnRows(mock.NewRows([]string{"id", "stream", "payload"}))
	mock.ExpectQuery(`SELECT .* FROM "jstreams_entries"`).
		WillReturnRows(mock.NewRows([]string{"id", "stream", "payload"}).AddRow(int64(1), "orders", []byte(`1`)))

	// act
	entries, err := conn.ReadGroup(context.Background(), jstreams.ReadRequest{
		Streams: []string{"orders"},
		Group:   "billing",
		Count:   10,
		Block:   time.Second,
	})

	// assert
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1", entries[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_ReadGroup_ShouldFail_WithStoreError(t *testing.T) {
	// setup
	mock, conn := givenMockedEngine(t)

	// arrange
	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("relation does not exist"))

	// act
	_, err := conn.ReadGroup(context.Background(), jstreams.ReadRequest{Streams: []string{"orders"}, Group: "g", Count: 1})

	// assert
	assert.ErrorIs(t, err, jstreams.ErrStore)
}

func Test_Ack_ShouldAdvanceOffset_ToHighestID(t *testing.T) {
	// setup
	mock, conn := givenMockedEngine(t)

	// arrange
	mock.ExpectExec(`UPDATE "jstreams_group_offsets" SET "last_id"=GREATEST\("last_id", \$1\)`).
		WithArgs(int64(9), "orders", "billing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	// act
	err := conn.Ack(context.Background(), "orders", "billing", "7", "9", "8")

	// assert
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Ack_ShouldFail_WithInvalidID(t *testing.T) {
	// setup
	mock, conn := givenMockedEngine(t)

	// act
	err := conn.Ack(context.Background(), "orders", "billing", "not-a-number")

	// assert
	assert.ErrorIs(t, err, postgresengine.ErrInvalidEntryID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_Ack_WithoutIDs_ShouldDoNothing(t *testing.T) {
	// setup
	mock, conn := givenMockedEngine(t)

	// act
	err := conn.Ack(context.Background(), "orders", "billing")

	// assert
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_ClaimAbandoned_ShouldFindNothing(t *testing.T) {
	// setup
	mock, conn := givenMockedEngine(t)

	// act
	entries, err := conn.ClaimAbandoned(context.Background(), jstreams.ClaimRequest{Stream: "orders", Group: "billing"})

	// assert
	assert.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.NoError(t, conn.Close())
}
