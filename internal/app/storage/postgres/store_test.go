package postgres

import (
	"context"
	"os"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/signal_bridge/internal/engine/state"
)

var testHash = common.HexToHash("0x01")

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return New(sqlx.NewDb(mockDB, "postgres"), 7), mock
}

func TestRaiseSignal(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bridge_signals")).
		WithArgs(int64(7), testHash.Hex()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bridge_signals")).
		WithArgs(int64(7), testHash.Hex()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	fresh, err := s.RaiseSignal(context.Background(), testHash)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.RaiseSignal(context.Background(), testHash)
	require.NoError(t, err)
	assert.False(t, fresh)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsSignalRaised(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM bridge_signals")).
		WithArgs(int64(7), testHash.Hex()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	raised, err := s.IsSignalRaised(context.Background(), testHash)
	require.NoError(t, err)
	assert.True(t, raised)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStatus_UnknownIsNew(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM bridge_message_status")).
		WithArgs(int64(7), testHash.Hex()).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	st, err := s.GetStatus(context.Background(), testHash)
	require.NoError(t, err)
	assert.Equal(t, state.StatusNew, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStatus(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM bridge_message_status")).
		WithArgs(int64(7), testHash.Hex()).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(int64(state.StatusDone)))

	st, err := s.GetStatus(context.Background(), testHash)
	require.NoError(t, err)
	assert.Equal(t, state.StatusDone, st)
}

func TestSetStatus(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bridge_message_status")).
		WithArgs(int64(7), testHash.Hex(), int32(state.StatusRetriable)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM bridge_message_status")).
		WithArgs(int64(7), testHash.Hex()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SetStatus(context.Background(), testHash, state.StatusRetriable))
	require.NoError(t, s.SetStatus(context.Background(), testHash, state.StatusNew))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByStatus(t *testing.T) {
	s, mock := newMockStore(t)
	other := common.HexToHash("0x02")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT msg_hash FROM bridge_message_status")).
		WithArgs(int64(7), int32(state.StatusFailed), 10).
		WillReturnRows(sqlmock.NewRows([]string{"msg_hash"}).
			AddRow(testHash.Hex()).
			AddRow(other.Hex()))

	list, err := s.ListByStatus(context.Background(), state.StatusFailed, 10)
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{testHash, other}, list)

	list, err = s.ListByStatus(context.Background(), state.StatusNew, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRecalled(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bridge_recalls")).
		WithArgs(int64(7), testHash.Hex()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bridge_recalls")).
		WithArgs(int64(7), testHash.Hex()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM bridge_recalls")).
		WithArgs(int64(7), testHash.Hex()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	first, err := s.MarkRecalled(context.Background(), testHash)
	require.NoError(t, err)
	assert.True(t, first)
	again, err := s.MarkRecalled(context.Background(), testHash)
	require.NoError(t, err)
	assert.False(t, again)
	require.NoError(t, s.UnmarkRecalled(context.Background(), testHash))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddedMigrations(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	next, err := src.Next(first)
	require.NoError(t, err)
	assert.Equal(t, uint(2), next)
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	ctx := context.Background()
	store, err := Open(ctx, dsn, 990001)
	require.NoError(t, err)
	defer store.Close()

	msg := common.HexToHash("0xfeed")
	_ = store.SetStatus(ctx, msg, state.StatusNew)
	_ = store.UnmarkRecalled(ctx, msg)
	_ = store.RetractSignal(ctx, msg)

	fresh, err := store.RaiseSignal(ctx, msg)
	require.NoError(t, err)
	assert.True(t, fresh)

	require.NoError(t, store.SetStatus(ctx, msg, state.StatusRetriable))
	st, err := store.GetStatus(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, state.StatusRetriable, st)

	first, err := store.MarkRecalled(ctx, msg)
	require.NoError(t, err)
	assert.True(t, first)
}
