package infra

import (
	"context"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
)

// NewPubSubClient creates a Pub/Sub client for the given project.
func NewPubSubClient(ctx context.Context, projectID string) (*pubsub.Client, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return client, nil
}

// TopicName expands a topic id into its full resource name.
func TopicName(projectID, topic string) string {
	topic = strings.TrimSpace(topic)
	if strings.HasPrefix(topic, "projects/") && strings.Contains(topic, "/topics/") {
		return topic
	}
	return fmt.Sprintf("projects/%s/topics/%s", strings.TrimSpace(projectID), topic)
}
