package leaderelection

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *sqlx.DB {
	t.Helper()
	url := os.Getenv("WICHTEL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("WICHTEL_TEST_DATABASE_URL not set")
	}
	db, err := sqlx.Open("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestElector_SingleLeader(t *testing.T) {
	db := openDB(t)
	cfg := Config{LockKey: 914299, RetryInterval: 50 * time.Millisecond, HeartbeatInterval: 20 * time.Millisecond}

	var active atomic.Int32
	var maxActive atomic.Int32
	duties := func(ctx context.Context) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		<-ctx.Done()
		active.Add(-1)
	}

	a, b := New(db.DB, cfg, nil), New(db.DB, cfg, nil)
	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()

	doneA := make(chan struct{})
	go func() { a.Run(ctxA, duties); close(doneA) }()
	go b.Run(ctxB, duties)

	require.Eventually(t, func() bool { return a.IsLeader() || b.IsLeader() }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.NotEqual(t, a.IsLeader(), b.IsLeader())
	assert.EqualValues(t, 1, maxActive.Load())

	// Whoever leads, stopping a hands over or leaves b leading.
	cancelA()
	<-doneA
	assert.False(t, a.IsLeader())
	require.Eventually(t, b.IsLeader, 5*time.Second, 10*time.Millisecond)
}
