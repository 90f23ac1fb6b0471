//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/db"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decyphers/platform/internal/docstore"
	"github.com/decyphers/platform/internal/domain"
	"github.com/decyphers/platform/internal/ledger"
	"github.com/decyphers/platform/test/integration/testutil"
)

func freshPath() string {
	return ledger.UserPath("uid-" + uuid.NewString())
}

// increment adds one to tokens, creating the document when absent.
func increment(cur docstore.Node) (any, error) {
	var doc map[string]any
	if err := cur.Unmarshal(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	n, _ := doc["tokens"].(float64)
	doc["tokens"] = n + 1
	return doc, nil
}

func storedTokens(t *testing.T, store docstore.Store, path string) int64 {
	t.Helper()
	var tokens int64
	found, err := store.Get(context.Background(), path+"/tokens", &tokens)
	require.NoError(t, err)
	require.True(t, found, "no tokens at %s", path)
	return tokens
}

func seedTokens(t *testing.T, store docstore.Store, path string, tokens int64) {
	t.Helper()
	err := store.Transact(context.Background(), path, func(docstore.Node) (any, error) {
		return map[string]any{"tokens": tokens}, nil
	})
	require.NoError(t, err)
}

// raceTransacts starts n increments on path at once and returns their errors.
func raceTransacts(store docstore.Store, path string, n int) []error {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = store.Transact(context.Background(), path, increment)
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func assertAbortReturnedUnchanged(t *testing.T, store docstore.Store) {
	t.Helper()
	path := freshPath()
	seedTokens(t, store, path, 7)

	settled := errors.New("already settled")
	err := store.Transact(context.Background(), path, func(docstore.Node) (any, error) {
		return nil, settled
	})
	assert.Same(t, settled, err)
	assert.Equal(t, int64(7), storedTokens(t, store, path))
}

func assertLedgerRoundTrip(t *testing.T, store docstore.Store) {
	t.Helper()
	engine := ledger.NewEngine(store, nil, nil)
	userID := "uid-" + uuid.NewString()

	created, err := engine.EnsureAccount(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = engine.EnsureAccount(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, created)

	credit := domain.CreditParams{
		UserID:         userID,
		Tokens:         7000,
		TransactionKey: "cs_store_1",
		Purchase: domain.PurchaseMeta{
			Amount: decimal.RequireFromString("4.99"),
			Status: domain.PurchaseStatusPaid,
		},
	}
	first, err := engine.ApplyCredit(context.Background(), credit)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), first.NewBalance)

	replay, err := engine.ApplyCredit(context.Background(), credit)
	require.NoError(t, err)
	assert.True(t, replay.Idempotent)
	assert.Equal(t, int64(7000), replay.NewBalance)

	var amount any
	found, err := store.Get(context.Background(), ledger.UserPath(userID)+"/purchases/cs_store_1/amount", &amount)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 4.99, amount)
}

// ─── Mongo ──────────────────────────────────────────────────────────────────

func TestMongoStore_ConcurrentTransactsAllApply(t *testing.T) {
	store := docstore.NewMongo(testutil.MongoDatabase(t))
	path := freshPath()
	seedTokens(t, store, path, 0)

	for _, err := range raceTransacts(store, path, 2) {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), storedTokens(t, store, path))
}

func TestMongoStore_ConcurrentCreatesAllApply(t *testing.T) {
	store := docstore.NewMongo(testutil.MongoDatabase(t))
	path := freshPath()

	for _, err := range raceTransacts(store, path, 2) {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), storedTokens(t, store, path))
}

func TestMongoStore_RetriesAfterLostVersion(t *testing.T) {
	database := testutil.MongoDatabase(t)
	store, rival := docstore.NewMongo(database), docstore.NewMongo(database)
	path := freshPath()
	seedTokens(t, store, path, 0)

	calls := 0
	err := store.Transact(context.Background(), path, func(cur docstore.Node) (any, error) {
		calls++
		if calls == 1 {
			require.NoError(t, rival.Transact(context.Background(), path, increment))
		}
		return increment(cur)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(2), storedTokens(t, store, path))
}

func TestMongoStore_RetriesDuplicateInsert(t *testing.T) {
	database := testutil.MongoDatabase(t)
	store, rival := docstore.NewMongo(database), docstore.NewMongo(database)
	path := freshPath()

	calls := 0
	err := store.Transact(context.Background(), path, func(cur docstore.Node) (any, error) {
		calls++
		if calls == 1 {
			require.NoError(t, rival.Transact(context.Background(), path, increment))
		}
		return increment(cur)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(2), storedTokens(t, store, path))
}

func TestMongoStore_ContentionAfterBoundedAttempts(t *testing.T) {
	database := testutil.MongoDatabase(t)
	store, rival := docstore.NewMongo(database), docstore.NewMongo(database)
	path := freshPath()
	seedTokens(t, store, path, 0)

	calls := 0
	err := store.Transact(context.Background(), path, func(cur docstore.Node) (any, error) {
		calls++
		require.NoError(t, rival.Transact(context.Background(), path, increment))
		return increment(cur)
	})
	assert.ErrorIs(t, err, docstore.ErrContention)
	assert.Equal(t, 5, calls)
	assert.Equal(t, int64(5), storedTokens(t, store, path))
}

func TestMongoStore_AbortReturnsErrorUnchanged(t *testing.T) {
	assertAbortReturnedUnchanged(t, docstore.NewMongo(testutil.MongoDatabase(t)))
}

func TestMongoStore_LedgerRoundTrip(t *testing.T) {
	assertLedgerRoundTrip(t, docstore.NewMongo(testutil.MongoDatabase(t)))
}

// ─── Firebase emulator ──────────────────────────────────────────────────────

func TestFirebaseStore_ConcurrentTransactsAllApply(t *testing.T) {
	store := docstore.NewFirebase(testutil.FirebaseDatabase(t))
	path := freshPath()
	seedTokens(t, store, path, 0)

	for _, err := range raceTransacts(store, path, 4) {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(4), storedTokens(t, store, path))
}

func TestFirebaseStore_RetriesAfterConcurrentWrite(t *testing.T) {
	client := testutil.FirebaseDatabase(t)
	store := docstore.NewFirebase(client)
	path := freshPath()
	seedTokens(t, store, path, 0)

	calls := 0
	err := store.Transact(context.Background(), path, func(cur docstore.Node) (any, error) {
		calls++
		if calls == 1 {
			setTokens(t, client, path, 5)
		}
		return increment(cur)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(6), storedTokens(t, store, path))
}

func TestFirebaseStore_AbortReturnsErrorUnchanged(t *testing.T) {
	assertAbortReturnedUnchanged(t, docstore.NewFirebase(testutil.FirebaseDatabase(t)))
}

func TestFirebaseStore_LedgerRoundTrip(t *testing.T) {
	assertLedgerRoundTrip(t, docstore.NewFirebase(testutil.FirebaseDatabase(t)))
}

func setTokens(t *testing.T, client *db.Client, path string, tokens int64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.NewRef(path).Set(ctx, map[string]any{"tokens": tokens}))
}
