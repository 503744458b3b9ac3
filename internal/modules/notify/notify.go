// README: Notification gateways for committed order transitions. Delivery is best effort.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/redis/go-redis/v9"

	"dropchain/internal/log"
	"dropchain/internal/modules/order"
	"dropchain/internal/types"
)

// Message is the body published for every transition.
type Message struct {
	OrderID types.OrderID     `json:"order_id"`
	Status  order.Status      `json:"status"`
	Payload map[string]string `json:"payload,omitempty"`
	SentAt  time.Time         `json:"sent_at"`
}

func Channel(orderID types.OrderID) string {
	return fmt.Sprintf("orders:%d", orderID)
}

func Topic(orderID types.OrderID) string {
	return fmt.Sprintf("order-%d", orderID)
}

// Redis publishes to the order's pub/sub channel.
type Redis struct {
	client *redis.Client
}

var _ order.Notifier = (*Redis)(nil)

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Notify(ctx context.Context, orderID types.OrderID, status order.Status, payload map[string]string) error {
	body, err := json.Marshal(Message{OrderID: orderID, Status: status, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, Channel(orderID), body).Err()
}

// Sender is satisfied by *messaging.Client.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCM pushes to the order's topic; the apps of all parties subscribe to it.
type FCM struct {
	sender Sender
}

var _ order.Notifier = (*FCM)(nil)

func NewFCM(sender Sender) *FCM {
	return &FCM{sender: sender}
}

func (f *FCM) Notify(ctx context.Context, orderID types.OrderID, status order.Status, payload map[string]string) error {
	data := make(map[string]string, len(payload)+2)
	for k, v := range payload {
		data[k] = v
	}
	data["order_id"] = fmt.Sprintf("%d", orderID)
	data["status"] = string(status)

	msg := &messaging.Message{
		Topic: Topic(orderID),
		Data:  data,
		Notification: &messaging.Notification{
			Title: "Order update",
			Body:  fmt.Sprintf("Order %d is now %s", orderID, status),
		},
	}
	id, err := f.sender.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	log.L(ctx).Debugf("fcm message %s sent to %s", id, msg.Topic)
	return nil
}

// Multi fans out to every gateway and joins their errors.
type Multi []order.Notifier

func (m Multi) Notify(ctx context.Context, orderID types.OrderID, status order.Status, payload map[string]string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, orderID, status, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
