//go:build integration

package testutil

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/decyphers/platform/internal/docstore"
	"github.com/decyphers/platform/internal/infra"
)

const (
	TestMongoURI          = "mongodb://localhost:27019"
	TestMongoDatabase     = "decyphers_test"
	TestFirebaseNamespace = "demo-decyphers"

	firebaseEmulatorEnv = "FIREBASE_DATABASE_EMULATOR_HOST"
)

var (
	sharedMongo *mongo.Client
	mongoOnce   sync.Once
	mongoErr    error
)

// MongoDatabase returns the shared Mongo test database, emptied of ledger
// documents when the test ends. MONGO_URI overrides TestMongoURI. The test
// is skipped when MongoDB is unreachable.
func MongoDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = TestMongoURI
	}
	mongoOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sharedMongo, mongoErr = infra.NewMongoClient(ctx, &infra.Config{MongoURI: uri})
	})
	if mongoErr != nil {
		t.Skipf("mongo unavailable at %s: %v", uri, mongoErr)
	}

	database := sharedMongo.Database(TestMongoDatabase)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := database.Collection(docstore.DocumentCollection).DeleteMany(ctx, bson.M{}); err != nil {
			t.Logf("cleanup mongo documents: %v", err)
		}
	})
	return database
}

// FirebaseDatabase connects to the Realtime Database emulator named by
// FIREBASE_DATABASE_EMULATOR_HOST and removes users/ when the test ends. The
// test is skipped when the variable is unset.
func FirebaseDatabase(t *testing.T) *db.Client {
	t.Helper()
	host := os.Getenv(firebaseEmulatorEnv)
	if host == "" {
		t.Skipf("%s not set", firebaseEmulatorEnv)
	}
	if !strings.Contains(host, "ns=") {
		t.Setenv(firebaseEmulatorEnv, host+"?ns="+TestFirebaseNamespace)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   TestFirebaseNamespace,
		DatabaseURL: "https://" + TestFirebaseNamespace + ".firebaseio.com",
	})
	if err != nil {
		t.Fatalf("init firebase app: %v", err)
	}
	client, err := app.Database(ctx)
	if err != nil {
		t.Fatalf("init firebase database: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.NewRef("users").Delete(ctx); err != nil {
			t.Logf("cleanup firebase users: %v", err)
		}
	})
	return client
}
