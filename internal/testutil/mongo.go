package testutil

import (
	migrations "allotment/internal/migrations/mongo"
	"allotment/pkg/client"
	"allotment/pkg/config"
	"allotment/pkg/logger"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const (
	// EnvTestMongoURI points the Mongo store tests at a server. The resource
	// store uses multi-document transactions, so it must be a replica set
	// (a single-node one is enough).
	EnvTestMongoURI = "TEST_MONGO_URI"

	ConnectionTimeout = 10 * time.Second
	OperationTimeout  = 5 * time.Second
)

// MongoHelper owns a throwaway database created for a single test.
type MongoHelper struct {
	Client   *mongo.Client
	Database *mongo.Database
	DBName   string
}

// NewMongoHelper connects to TEST_MONGO_URI, migrates a fresh database and
// drops it when the test ends. Without the variable the test is skipped.
func NewMongoHelper(t *testing.T) *MongoHelper {
	t.Helper()

	mongoURI := os.Getenv(EnvTestMongoURI)
	if mongoURI == "" {
		t.Skipf("%s not set, skipping Mongo store tests", EnvTestMongoURI)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ConnectionTimeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(mongoURI).
		SetReadConcern(readconcern.Majority()).
		SetWriteConcern(writeconcern.Majority())
	mongoClient, err := mongo.Connect(ctx, opts)
	if err != nil {
		t.Fatalf("failed to connect to MongoDB: %v", err)
	}
	if err := mongoClient.Ping(ctx, nil); err != nil {
		t.Fatalf("failed to ping MongoDB: %v", err)
	}

	dbName := "allotment_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	h := &MongoHelper{
		Client:   mongoClient,
		Database: mongoClient.Database(dbName),
		DBName:   dbName,
	}
	t.Cleanup(func() { h.close(t) })

	if err := migrations.RunMigration(ctx, mongoClient, dbName, logger.NewDiscard()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return h
}

// Config is the slice of the daemon config the Mongo stores read.
func (m *MongoHelper) Config() *config.Config {
	return &config.Config{
		MongoDatabaseName: m.DBName,
		ReadTimeout:       OperationTimeout,
		WriteTimeout:      OperationTimeout,
		Log:               logger.NewDiscard(),
		Client:            &client.Client{Mongo: m.Client},
	}
}

func (m *MongoHelper) close(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), OperationTimeout)
	defer cancel()

	if err := m.Database.Drop(ctx); err != nil {
		t.Logf("warning: failed to drop %s: %v", m.DBName, err)
	}
	if err := m.Client.Disconnect(ctx); err != nil {
		t.Logf("warning: failed to disconnect from MongoDB: %v", err)
	}
}
