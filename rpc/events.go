package rpc

import (
	"context"

	"github.com/ArnBdev/OneAgent-sub002/logging"
	"github.com/ArnBdev/OneAgent-sub002/message"
	"github.com/ArnBdev/OneAgent-sub002/transport"
)

// EventDelivered is the SSE event name for delivered messages.
const EventDelivered = "message_delivered"

// Delivery is the payload of an EventDelivered event.
type Delivery struct {
	Message  message.Message  `json:"message"`
	Response message.Response `json:"response"`
}

// EventPublisher streams every delivered message to SSE clients. It
// implements protocol.DeliveryObserver.
type EventPublisher struct {
	hub    *transport.Hub
	logger *logging.Logger
}

// NewEventPublisher publishes to hub.
func NewEventPublisher(hub *transport.Hub, logger *logging.Logger) *EventPublisher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &EventPublisher{hub: hub, logger: logger.WithComponent("events")}
}

// OnDelivered implements protocol.DeliveryObserver.
func (p *EventPublisher) OnDelivered(ctx context.Context, msg message.Message, resp message.Response) {
	if err := p.hub.Publish(EventDelivered, Delivery{Message: msg, Response: resp}); err != nil {
		p.logger.Debug("event_publish_failed", map[string]interface{}{"message_id": msg.ID, "error": err.Error()})
	}
}
