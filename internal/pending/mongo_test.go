package pending

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Runs only when DELIVERY_TEST_MONGO_URI points at a disposable server.
func newMongoQueue(t *testing.T) *MongoQueue {
	t.Helper()
	uri := os.Getenv("DELIVERY_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("DELIVERY_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	db := client.Database(fmt.Sprintf("pending_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	q, err := NewMongoQueue(ctx, db)
	require.NoError(t, err)
	return q
}

func TestMongoQueue(t *testing.T) {
	testQueueContract(t, newMongoQueue(t))
}

func TestMongoQueueConcurrent(t *testing.T) {
	testConcurrentEnqueue(t, newMongoQueue(t))
	testConcurrentDrain(t, newMongoQueue(t))
}
