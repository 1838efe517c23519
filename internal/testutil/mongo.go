package testutil

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// OpenMongoDB returns a fresh database dropped at cleanup.
// The test is skipped when TEST_MONGO_URI is not set.
func OpenMongoDB(t *testing.T, prefix string) *mongo.Database {
	t.Helper()

	uri := strings.TrimSpace(os.Getenv("TEST_MONGO_URI"))
	if uri == "" {
		t.Skip("MongoDB not configured: set TEST_MONGO_URI to run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect mongo: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		t.Fatalf("ping mongo: %v", err)
	}

	db := client.Database(newSchemaName(prefix))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return db
}
