package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
	"github.com/AntonStoeckl/jstreams-go/testutil/memstore"
)

func dial(t *testing.T, store *memstore.Store) jstreams.Conn {
	t.Helper()

	conn, err := store.Dialer()(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func Test_Store_ReadGroup_ShouldDeliverEachEntryOncePerGroup(t *testing.T) {
	// setup
	ctx := context.Background()
	store := memstore.New()
	conn := dial(t, store)

	// arrange
	require.NoError(t, conn.EnsureGroup(ctx, "orders", "billing", jstreams.StartOldest))
	_, err := conn.Append(ctx, "orders", []byte("a"))
	require.NoError(t, err)
	req := jstreams.ReadRequest{Streams: []string{"orders"}, Group: "billing", Consumer: "c1", Count: 10}

	// act
	first, err := conn.ReadGroup(ctx, req)
	require.NoError(t, err)
	second, err := conn.ReadGroup(ctx, req)
	require.NoError(t, err)

	// assert
	require.Len(t, first, 1)
	assert.Equal(t, []byte("a"), first[0].Payload)
	assert.Empty(t, second)
	assert.Equal(t, 1, store.Pending("orders", "billing"))
}

func Test_Store_ReadGroup_ShouldWakeUpOnAppend(t *testing.T) {
	// setup
	ctx := context.Background()
	store := memstore.New()
	reader := dial(t, store)
	writer := dial(t, store)
	require.NoError(t, reader.EnsureGroup(ctx, "orders", "billing", jstreams.StartNewest))

	// act
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = writer.Append(ctx, "orders", []byte("late"))
	}()
	entries, err := reader.ReadGroup(ctx, jstreams.ReadRequest{
		Streams: []string{"orders"}, Group: "billing", Consumer: "c1", Block: 5 * time.Second,
	})

	// assert
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("late"), entries[0].Payload)
}

func Test_Store_ShouldRejectUseAfterClose(t *testing.T) {
	// setup
	store := memstore.New()
	conn, err := store.Dialer()(context.Background())
	require.NoError(t, err)

	// act
	require.NoError(t, conn.Close())
	_, err = conn.Append(context.Background(), "orders", []byte("x"))

	// assert
	require.ErrorIs(t, err, jstreams.ErrStore)
	require.ErrorIs(t, err, memstore.ErrConnClosed)
	assert.Equal(t, int64(0), store.OpenConns())
}
