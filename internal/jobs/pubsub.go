package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// PubSubDispatcher enqueues jobs by publishing to a Cloud Pub/Sub topic,
// one topic per job type, with the tenant id carried as an ordering key
// so a tenant's jobs of the same type are delivered in publish order
// (grounded on internal/events/pubsub_bus.go's tenant-ordering-key use).
type PubSubDispatcher struct {
	client *pubsub.Client
	topics map[string]*pubsub.Topic
}

func NewPubSubDispatcher(ctx context.Context, projectID string) (*PubSubDispatcher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("jobs: pubsub client: %w", err)
	}
	return &PubSubDispatcher{client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

func (d *PubSubDispatcher) Close() error {
	for _, t := range d.topics {
		t.Stop()
	}
	return d.client.Close()
}

func (d *PubSubDispatcher) topic(topicID string) *pubsub.Topic {
	if t, ok := d.topics[topicID]; ok {
		return t
	}
	t := d.client.Topic(topicID)
	t.EnableMessageOrdering = true
	d.topics[topicID] = t
	return t
}

func (d *PubSubDispatcher) Enqueue(ctx context.Context, topic string, payload []byte, opts Options) error {
	envelope := jobEnvelope{Topic: topic, TenantID: opts.TenantID, JobID: opts.JobID, Payload: payload}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("jobs: marshal envelope: %w", err)
	}

	result := d.topic(topic).Publish(ctx, &pubsub.Message{
		Data:        body,
		OrderingKey: opts.TenantID,
		Attributes: map[string]string{
			"tenant_id": opts.TenantID,
			"topic":     topic,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("jobs: publish: %w", err)
	}
	return nil
}

var _ Dispatcher = (*PubSubDispatcher)(nil)
