package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisPublisherBackorderAlert(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, ChannelBackorder)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(client)
	alert := BackorderAlert{
		ArticleID:        uuid.New(),
		TotalOutstanding: 12,
		PreOrderCount:    3,
		At:               time.Now().UTC(),
	}
	require.NoError(t, pub.PublishBackorderAlert(ctx, alert))

	select {
	case msg := <-sub.Channel():
		var got BackorderAlert
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		require.Equal(t, alert.ArticleID, got.ArticleID)
		require.Equal(t, alert.TotalOutstanding, got.TotalOutstanding)
		require.Equal(t, alert.PreOrderCount, got.PreOrderCount)
	case <-time.After(2 * time.Second):
		t.Fatal("no alert received")
	}
}
