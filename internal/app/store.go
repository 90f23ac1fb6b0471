package app

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/db"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/decyphers/platform/internal/docstore"
	"github.com/decyphers/platform/internal/infra"
)

// NewDocumentStore opens the ledger store selected by cfg.LedgerBackend. The
// returned close func releases backend connections owned by the store.
func NewDocumentStore(ctx context.Context, cfg *infra.Config, pool *pgxpool.Pool, rtdb *db.Client, logger *slog.Logger) (docstore.Store, func(), error) {
	noop := func() {}

	switch cfg.LedgerBackend {
	case infra.LedgerFirebase:
		if rtdb == nil {
			return nil, noop, fmt.Errorf("firebase ledger backend needs FIREBASE_DATABASE_URL")
		}
		logger.Info("ledger store: firebase realtime database")
		return docstore.NewFirebase(rtdb), noop, nil

	case infra.LedgerPostgres:
		logger.Info("ledger store: postgres")
		return docstore.NewPostgres(pool), noop, nil

	case infra.LedgerMongo:
		client, err := infra.NewMongoClient(ctx, cfg)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("ledger store: mongo", "database", cfg.MongoDatabase)
		closeFn := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Warn("mongo disconnect failed", "error", err)
			}
		}
		return docstore.NewMongo(client.Database(cfg.MongoDatabase)), closeFn, nil

	case infra.LedgerMemory:
		logger.Warn("ledger store: in-memory, balances are lost on restart")
		return docstore.NewMemory(), noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}
