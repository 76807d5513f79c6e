// Package testing provides shared test fixtures.
package testing

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ohmystock/ohmystock/internal/database"
)

var dbCounter atomic.Int64

// NewTestDB opens a fresh in-memory database with the schema applied. Each
// call gets an isolated store.
func NewTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Name:       "test",
		MemoryName: fmt.Sprintf("test_%d_%d", time.Now().UnixNano(), dbCounter.Add(1)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
