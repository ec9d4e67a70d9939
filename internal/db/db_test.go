package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gncyclemart/shop-api/internal/db"
	"github.com/gncyclemart/shop-api/internal/db/dbtest"
)

func TestInitSchemaIsIdempotent(t *testing.T) {
	database := dbtest.New(t)

	require.NoError(t, database.InitSchema(context.Background()))
	assert.Equal(t, "sqlite3", database.Driver())
}

func TestIsDuplicate(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insert := `INSERT INTO users (id, name, email, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	_, err := database.ExecContext(ctx, insert, "u1", "Ada", "ada@example.com", now, now)
	require.NoError(t, err)

	_, err = database.ExecContext(ctx, insert, "u2", "Ada Again", "ada@example.com", now, now)
	require.Error(t, err)
	assert.True(t, db.IsDuplicate(err))

	assert.False(t, db.IsDuplicate(assert.AnError))
}

func TestStockCheckConstraint(t *testing.T) {
	database := dbtest.New(t)
	now := time.Now().UTC()

	_, err := database.ExecContext(context.Background(),
		`INSERT INTO products (id, name, images, brand, category, description, buying_price, selling_price, stock, created_at, updated_at)
		 VALUES ('p1', 'Chain', '[]', 'KMC', 'parts', 'chain', '5', '9', -1, ?, ?)`, now, now)
	assert.Error(t, err)
}
