package testutil

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/convostore/internal/docdb/memdb"
	"github.com/blueberrycongee/convostore/internal/storage"
)

// NewOperations returns operations backed by a fresh in-process database.
func NewOperations(t testing.TB) (*storage.Operations, *memdb.Database) {
	t.Helper()
	db := memdb.New()
	conn, err := storage.NewConnector(storage.ConnectorConfig{
		URI:      "mongodb://localhost:27017",
		Database: "convostore_test",
		Dialer:   storage.StaticDialer(db),
	})
	require.NoError(t, err)
	return storage.NewOperations(conn, nil), db
}

// Clock is a manually advanced time source, safe for concurrent use.
type Clock struct {
	nanos atomic.Int64
}

// NewClock returns a clock set to start.
func NewClock(start time.Time) *Clock {
	c := &Clock{}
	c.nanos.Store(start.UnixNano())
	return c
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time {
	return time.Unix(0, c.nanos.Load()).UTC()
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.nanos.Add(int64(d))
}
