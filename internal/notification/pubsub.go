package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
)

const defaultPublishTimeout = 10 * time.Second

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
}

type gcpPublisher struct {
	*pubsub.Publisher
}

func (p gcpPublisher) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}

type payload struct {
	Kind        string            `json:"kind"`
	Destination string            `json:"destination"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// PubSubNotifier publishes notifications as JSON messages on a topic.
type PubSubNotifier struct {
	pub publisher
	now func() time.Time
}

// NewPubSubNotifier wraps a topic publisher.
func NewPubSubNotifier(p *pubsub.Publisher) *PubSubNotifier {
	return &PubSubNotifier{pub: gcpPublisher{p}, now: time.Now}
}

// Send publishes the message and waits for the server acknowledgement.
func (n *PubSubNotifier) Send(ctx context.Context, message Message) error {
	data, err := json.Marshal(payload{
		Kind:        message.Kind,
		Destination: message.Destination,
		Title:       message.Title,
		Body:        message.Body,
		Data:        message.Data,
		OccurredAt:  n.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	result := n.pub.Publish(publishCtx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"kind":        message.Kind,
			"destination": message.Destination,
		},
	})
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish %s notification: %w", message.Kind, err)
	}
	return nil
}
