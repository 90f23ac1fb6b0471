package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ErrContention is returned when an optimistic write keeps losing races.
var ErrContention = errors.New("docstore: too much write contention")

const maxCASAttempts = 5

// DocumentCollection is the collection name used by the Mongo backend.
const DocumentCollection = "ledger_documents"

type mongoDocument struct {
	ID        string    `bson:"_id"`
	Body      string    `bson:"body"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Mongo stores each document as a JSON body with a version counter. Transact
// is a compare-and-swap on the version, retried a bounded number of times.
type Mongo struct {
	coll *mongo.Collection
}

// NewMongo creates a Mongo-backed store on the given database.
func NewMongo(database *mongo.Database) *Mongo {
	return &Mongo{coll: database.Collection(DocumentCollection)}
}

func (m *Mongo) load(ctx context.Context, doc string) (*mongoDocument, error) {
	var d mongoDocument
	err := m.coll.FindOne(ctx, bson.M{"_id": doc}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find document %s: %w", doc, err)
	}
	return &d, nil
}

func (m *Mongo) Get(ctx context.Context, path string, dst any) (bool, error) {
	doc, rest, err := splitDoc(path)
	if err != nil {
		return false, err
	}
	d, err := m.load(ctx, doc)
	if err != nil || d == nil {
		return false, err
	}

	var root any
	if err := json.Unmarshal([]byte(d.Body), &root); err != nil {
		return false, fmt.Errorf("decode document %s: %w", doc, err)
	}
	v, ok := lookup(root, rest)
	if !ok {
		return false, nil
	}
	return true, decodeInto(v, dst)
}

func (m *Mongo) Transact(ctx context.Context, path string, fn UpdateFunc) error {
	doc, rest, err := splitDoc(path)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		ok, err := m.transactOnce(ctx, doc, rest, fn)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrContention, doc)
}

// transactOnce reports false when another writer got in first.
func (m *Mongo) transactOnce(ctx context.Context, doc string, rest []string, fn UpdateFunc) (bool, error) {
	d, err := m.load(ctx, doc)
	if err != nil {
		return false, err
	}

	var root any
	if d != nil {
		if err := json.Unmarshal([]byte(d.Body), &root); err != nil {
			return false, fmt.Errorf("decode document %s: %w", doc, err)
		}
	}

	cur, found := lookup(root, rest)
	node, err := encodeNode(cur, found)
	if err != nil {
		return false, err
	}
	next, err := fn(node)
	if err != nil {
		return false, err
	}
	norm, err := normalize(next)
	if err != nil {
		return false, err
	}
	root = replace(root, rest, norm)

	if root == nil {
		if d == nil {
			return true, nil
		}
		res, err := m.coll.DeleteOne(ctx, bson.M{"_id": doc, "version": d.Version})
		if err != nil {
			return false, fmt.Errorf("delete document %s: %w", doc, err)
		}
		return res.DeletedCount == 1, nil
	}

	body, err := json.Marshal(root)
	if err != nil {
		return false, fmt.Errorf("encode document %s: %w", doc, err)
	}

	if d == nil {
		_, err := m.coll.InsertOne(ctx, mongoDocument{ID: doc, Body: string(body), Version: 1, UpdatedAt: time.Now().UTC()})
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("insert document %s: %w", doc, err)
		}
		return true, nil
	}

	res, err := m.coll.ReplaceOne(ctx,
		bson.M{"_id": doc, "version": d.Version},
		mongoDocument{ID: doc, Body: string(body), Version: d.Version + 1, UpdatedAt: time.Now().UTC()},
	)
	if err != nil {
		return false, fmt.Errorf("replace document %s: %w", doc, err)
	}
	return res.MatchedCount == 1, nil
}
