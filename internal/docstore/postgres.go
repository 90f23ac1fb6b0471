package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// docDepth is how many leading path segments name one stored document.
// "users/{uid}" is a row; deeper paths address nodes inside its body.
const docDepth = 2

const maxInsertAttempts = 3

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores documents in the ledger_documents table as JSONB. Transact
// holds a row lock for the duration of fn.
type Postgres struct {
	pool TxBeginner
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(pool TxBeginner) *Postgres {
	return &Postgres{pool: pool}
}

func splitDoc(path string) (doc string, rest []string, err error) {
	segs, err := SplitPath(path)
	if err != nil {
		return "", nil, err
	}
	if len(segs) < docDepth {
		return "", nil, fmt.Errorf("%w: %q has fewer than %d segments", ErrInvalidPath, path, docDepth)
	}
	return JoinPath(segs[:docDepth]...), segs[docDepth:], nil
}

func (p *Postgres) Get(ctx context.Context, path string, dst any) (bool, error) {
	doc, rest, err := splitDoc(path)
	if err != nil {
		return false, err
	}

	var body []byte
	err = p.pool.QueryRow(ctx, `SELECT body FROM ledger_documents WHERE path = $1`, doc).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select document %s: %w", doc, err)
	}

	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return false, fmt.Errorf("decode document %s: %w", doc, err)
	}
	v, ok := lookup(root, rest)
	if !ok {
		return false, nil
	}
	return true, decodeInto(v, dst)
}

func (p *Postgres) Transact(ctx context.Context, path string, fn UpdateFunc) error {
	doc, rest, err := splitDoc(path)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		err := p.transactOnce(ctx, doc, rest, fn)
		if isUniqueViolation(err) && attempt < maxInsertAttempts {
			// A concurrent writer created the row first; retry against it.
			continue
		}
		return err
	}
}

func (p *Postgres) transactOnce(ctx context.Context, doc string, rest []string, fn UpdateFunc) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var body []byte
	exists := true
	err = tx.QueryRow(ctx, `SELECT body FROM ledger_documents WHERE path = $1 FOR UPDATE`, doc).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("lock document %s: %w", doc, err)
	}

	var root any
	if exists {
		if err := json.Unmarshal(body, &root); err != nil {
			return fmt.Errorf("decode document %s: %w", doc, err)
		}
	}

	cur, found := lookup(root, rest)
	node, err := encodeNode(cur, found)
	if err != nil {
		return err
	}
	next, err := fn(node)
	if err != nil {
		return err
	}
	norm, err := normalize(next)
	if err != nil {
		return err
	}
	root = replace(root, rest, norm)

	switch {
	case root == nil && exists:
		_, err = tx.Exec(ctx, `DELETE FROM ledger_documents WHERE path = $1`, doc)
	case root == nil:
		return nil
	case exists:
		_, err = tx.Exec(ctx,
			`UPDATE ledger_documents SET body = $2, version = version + 1, updated_at = NOW() WHERE path = $1`,
			doc, jsonArg(root))
	default:
		_, err = tx.Exec(ctx,
			`INSERT INTO ledger_documents (path, body) VALUES ($1, $2)`,
			doc, jsonArg(root))
	}
	if err != nil {
		return fmt.Errorf("write document %s: %w", doc, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func jsonArg(v any) []byte {
	raw, _ := json.Marshal(v)
	return raw
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
