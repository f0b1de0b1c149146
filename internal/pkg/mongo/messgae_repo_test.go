//go:build integration

package mongo

import (
	"Rendezvous/internal/api/config"
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
)

var testRepo MessageRepo
var testContainer testcontainers.Container

// TestMain 启动 MongoDB 容器，所有用例共享
func TestMain(m *testing.M) {
	_ = os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start mongo container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := testContainer.MappedPort(ctx, "27017")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	db, err := InitMongo(config.MongoConfig{
		URL:      fmt.Sprintf("mongodb://%s:%s", host, port.Port()),
		Database: "rendezvous_test",
	})
	if err != nil {
		log.Fatalf("Failed to connect mongo: %v", err)
	}
	testRepo = NewMessageRepo(db)
	if err := testRepo.EnsureIndexes(ctx); err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}

	code := m.Run()

	_ = db.Client().Disconnect(ctx)
	_ = testContainer.Terminate(ctx)
	os.Exit(code)
}

func seed(t *testing.T, convID string, senders ...string) []*Message {
	t.Helper()
	out := make([]*Message, 0, len(senders))
	for i, s := range senders {
		msg := &Message{ConversationID: convID, SenderID: s, Content: fmt.Sprintf("m%d", i+1), Seq: uint64(i + 1)}
		require.NoError(t, testRepo.SaveMessage(context.Background(), msg))
		out = append(out, msg)
	}
	return out
}

func TestSaveMessage_AssignsIDAndRejectsDuplicateSeq(t *testing.T) {
	ctx := context.Background()
	msgs := seed(t, "conv-save", "u1")
	assert.Len(t, msgs[0].ID, 24)
	assert.False(t, msgs[0].CreatedAt.IsZero())

	err := testRepo.SaveMessage(ctx, &Message{ConversationID: "conv-save", SenderID: "u2", Seq: 1})
	assert.True(t, mongo.IsDuplicateKeyError(err))

	got, err := testRepo.GetByID(ctx, msgs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "m1", got.Content)
}

func TestListAfterAndBefore(t *testing.T) {
	ctx := context.Background()
	seed(t, "conv-page", "u1", "u2", "u1", "u2", "u1")

	after, err := testRepo.ListAfter(ctx, "conv-page", 2, 10)
	require.NoError(t, err)
	require.Len(t, after, 3)
	assert.Equal(t, uint64(3), after[0].Seq)
	assert.Equal(t, uint64(5), after[2].Seq)

	before, err := testRepo.ListBefore(ctx, "conv-page", 0, 2)
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.Equal(t, uint64(4), before[0].Seq)
	assert.Equal(t, uint64(5), before[1].Seq)
}

func TestMarkReadUpTo_OnlyPeerMessagesOnce(t *testing.T) {
	ctx := context.Background()
	msgs := seed(t, "conv-read", "cust", "prov", "prov", "prov")

	unread, err := testRepo.CountUnread(ctx, "conv-read", "cust", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)

	ids, err := testRepo.MarkReadUpTo(ctx, "conv-read", "cust", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{msgs[1].ID, msgs[2].ID}, ids)

	ids, err = testRepo.MarkReadUpTo(ctx, "conv-read", "cust", 3)
	require.NoError(t, err)
	assert.Empty(t, ids)

	unread, err = testRepo.CountUnread(ctx, "conv-read", "cust", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	// 自己发的消息不计入自己的未读
	unread, err = testRepo.CountUnread(ctx, "conv-read", "prov", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}

func TestMarkReadUpTo_Concurrent(t *testing.T) {
	ctx := context.Background()
	seed(t, "conv-race", "prov", "prov", "prov", "prov", "prov", "prov")

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := map[string]int{}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := testRepo.MarkReadUpTo(ctx, "conv-race", "cust", 6)
			assert.NoError(t, err)
			mu.Lock()
			for _, id := range ids {
				total[id]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	unread, err := testRepo.CountUnread(ctx, "conv-race", "cust", 0)
	require.NoError(t, err)
	assert.Zero(t, unread)
	assert.Len(t, total, 6)
}

func TestDeleteByConversation(t *testing.T) {
	ctx := context.Background()
	seed(t, "conv-del", "u1", "u2")

	n, err := testRepo.DeleteByConversation(ctx, "conv-del")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := testRepo.ListAfter(ctx, "conv-del", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}
