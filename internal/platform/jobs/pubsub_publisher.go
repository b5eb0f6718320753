package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/merchlane/ordercore/internal/services"
)

// PubSubEventPublisher publishes order lifecycle and inventory threshold
// events to their Pub/Sub topics. Either topic may be nil, in which case the
// corresponding events are dropped; the services treat publishing as
// best-effort.
type PubSubEventPublisher struct {
	orderTopic     *pubsub.Topic
	inventoryTopic *pubsub.Topic
	marshal        func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubEventPublisher(orderTopic, inventoryTopic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if orderTopic == nil && inventoryTopic == nil {
		return nil, errors.New("pubsub event publisher: at least one topic is required")
	}
	return &PubSubEventPublisher{
		orderTopic:     orderTopic,
		inventoryTopic: inventoryTopic,
		marshal:        json.Marshal,
	}, nil
}

type orderEventMessage struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type inventoryEventMessage struct {
	Type              string    `json:"type"`
	ProductID         string    `json:"productId"`
	PreviousInventory int       `json:"previousInventory"`
	Inventory         int       `json:"inventory"`
	LowStockThreshold int       `json:"lowStockThreshold"`
	OrderID           string    `json:"orderId,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	OccurredAt        time.Time `json:"occurredAt"`
}

// PublishOrderEvent enqueues an order lifecycle event on the order topic.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.orderTopic == nil {
		return nil
	}

	data, err := p.marshal(orderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		PreviousStatus: string(event.PreviousStatus),
		CurrentStatus:  string(event.CurrentStatus),
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt,
		Metadata:       event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", string(event.CurrentStatus))

	result := p.orderTopic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// PublishInventoryEvent enqueues a stock threshold event on the inventory topic.
func (p *PubSubEventPublisher) PublishInventoryEvent(ctx context.Context, event services.InventoryThresholdEvent) error {
	if p == nil || p.inventoryTopic == nil {
		return nil
	}

	data, err := p.marshal(inventoryEventMessage{
		Type:              event.Type,
		ProductID:         event.ProductID,
		PreviousInventory: event.PreviousInventory,
		Inventory:         event.Inventory,
		LowStockThreshold: event.LowStockThreshold,
		OrderID:           event.OrderID,
		Reason:            event.Reason,
		OccurredAt:        event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal inventory event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "productId", event.ProductID)
	setAttr(attrs, "reason", event.Reason)

	result := p.inventoryTopic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish inventory event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

var (
	_ services.OrderEventPublisher     = (*PubSubEventPublisher)(nil)
	_ services.InventoryEventPublisher = (*PubSubEventPublisher)(nil)
)
