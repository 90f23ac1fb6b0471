package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"firebase.google.com/go/v4/db"
)

// Firebase is a Store over the Firebase Realtime Database. Transact maps to
// the database's native compare-and-set transaction, which retries fn on
// contention.
type Firebase struct {
	client *db.Client
}

// NewFirebase wraps a Realtime Database client.
func NewFirebase(client *db.Client) *Firebase {
	return &Firebase{client: client}
}

func (f *Firebase) Get(ctx context.Context, path string, dst any) (bool, error) {
	if _, err := SplitPath(path); err != nil {
		return false, err
	}
	var raw json.RawMessage
	if err := f.client.NewRef(path).Get(ctx, &raw); err != nil {
		return false, fmt.Errorf("firebase get %s: %w", path, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("firebase decode %s: %w", path, err)
	}
	return true, nil
}

func (f *Firebase) Transact(ctx context.Context, path string, fn UpdateFunc) error {
	if _, err := SplitPath(path); err != nil {
		return err
	}
	var aborted error
	err := f.client.NewRef(path).Transaction(ctx, func(tn db.TransactionNode) (interface{}, error) {
		next, err := fn(tn)
		aborted = err
		return next, err
	})
	if aborted != nil {
		return aborted
	}
	if err != nil {
		return fmt.Errorf("firebase transaction %s: %w", path, err)
	}
	return nil
}
