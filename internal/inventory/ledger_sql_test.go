package inventory_test

import (
	"context"
	"testing"

	"decant_shop/internal/inventory"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupPostgresMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

// 预占必须是单条带条件的 UPDATE，而不是先读后写。
func TestReserveIssuesConditionalUpdate(t *testing.T) {
	db, mock := setupPostgresMock(t)
	ledger := inventory.NewLedger(db, zaptest.NewLogger(t))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "variants" SET "reserved"=reserved \+ \$1 WHERE id = \$2 AND product_id = \$3 AND stock - reserved >= \$4`).
		WithArgs(2, sqlmock.AnyArg(), sqlmock.AnyArg(), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ledger.Reserve(context.Background(), db, []inventory.Line{{ProductID: 7, VariantID: 3, Quantity: 2}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveNoRowsMeansInsufficient(t *testing.T) {
	db, mock := setupPostgresMock(t)
	ledger := inventory.NewLedger(db, zaptest.NewLogger(t))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "variants" SET "reserved"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := ledger.Reserve(context.Background(), db, []inventory.Line{{ProductID: 7, VariantID: 3, Quantity: 1}})
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}
