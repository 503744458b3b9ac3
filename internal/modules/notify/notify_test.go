package notify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropchain/internal/modules/order"
	"dropchain/internal/types"
)

type captureSender struct {
	sent []*messaging.Message
	err  error
}

func (c *captureSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.sent = append(c.sent, m)
	return "projects/x/messages/1", nil
}

type failing struct{ err error }

func (f failing) Notify(context.Context, types.OrderID, order.Status, map[string]string) error {
	return f.err
}

func TestFCMNotify(t *testing.T) {
	s := &captureSender{}
	err := NewFCM(s).Notify(context.Background(), 42, order.StatusPreparing, map[string]string{"txRef": "0x1"})
	require.NoError(t, err)
	require.Len(t, s.sent, 1)

	msg := s.sent[0]
	assert.Equal(t, "order-42", msg.Topic)
	assert.Equal(t, "42", msg.Data["order_id"])
	assert.Equal(t, "preparing", msg.Data["status"])
	assert.Equal(t, "0x1", msg.Data["txRef"])
	assert.NotNil(t, msg.Notification)

	s.err = errors.New("quota exceeded")
	err = NewFCM(s).Notify(context.Background(), 42, order.StatusPreparing, nil)
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestMultiJoinsErrors(t *testing.T) {
	s := &captureSender{}
	boom := errors.New("boom")
	m := Multi{failing{err: boom}, NewFCM(s)}

	err := m.Notify(context.Background(), 7, order.StatusDelivered, nil)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, s.sent, 1, "later gateways still run")

	assert.NoError(t, Multi{}.Notify(context.Background(), 7, order.StatusDelivered, nil))
}

func TestRedisPublish(t *testing.T) {
	addr := os.Getenv("DROPCHAIN_TEST_REDIS")
	if addr == "" {
		t.Skip("DROPCHAIN_TEST_REDIS not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	sub := rdb.Subscribe(ctx, Channel(9))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, NewRedis(rdb).Notify(ctx, 9, order.StatusInDelivery, map[string]string{"from": "preparing"}))

	select {
	case m := <-sub.Channel():
		var got Message
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &got))
		assert.Equal(t, types.OrderID(9), got.OrderID)
		assert.Equal(t, order.StatusInDelivery, got.Status)
		assert.Equal(t, "preparing", got.Payload["from"])
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
