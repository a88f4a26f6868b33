package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	notifyDomain "loan-lifecycle-engine/internal/domain/notify"
)

func TestRedisNotifier_Publishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "loan-events")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	n := NewRedisNotifier(rdb, "loan-events")
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	require.NoError(t, n.Notify(ctx, "borrower-1", notifyDomain.EventLoanFunded, map[string]any{"loan_id": "L1", "amount": 1000.0}))

	select {
	case m := <-sub.Channel():
		var got Message
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &got))
		assert.Equal(t, "borrower-1", got.UserID)
		assert.Equal(t, notifyDomain.EventLoanFunded, got.Event)
		assert.Equal(t, "L1", got.Payload["loan_id"])
		assert.True(t, got.OccurredAt.Equal(fixed))
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestRedisNotifier_PublishError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	err := NewRedisNotifier(rdb, "loan-events").Notify(context.Background(), "u", notifyDomain.EventLoanRepaid, nil)
	assert.Error(t, err)
}
