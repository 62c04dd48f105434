package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const eventsExchange = "sitroom.events"

type RoomEvent struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	TenantID string    `json:"tenant_id"`
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id"`
	At       time.Time `json:"at"`
}

// AMQPPublisher emits room lifecycle events on a topic exchange. Publishing
// is best-effort; callers discard the error.
type AMQPPublisher struct {
	channel *amqp.Channel
}

func NewAMQPPublisher(conn *amqp.Connection) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(eventsExchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &AMQPPublisher{channel: ch}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, tenantID, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	routingKey := key
	if strings.TrimSpace(tenantID) != "" {
		routingKey = tenantID + "." + key
	}
	return p.channel.PublishWithContext(ctx, eventsExchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
}

func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
}

func newEventID() string {
	return uuid.NewString()
}

// uniqueChannelName generates the provider-side channel name. The display
// name shown to users is the room name; this one only has to be unique and
// fit the provider's handle constraints.
func uniqueChannelName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:maxRemoteUsernameLength]
}
