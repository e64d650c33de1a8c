package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
)

// CloudTasksDispatcher enqueues jobs onto a Cloud Tasks queue as HTTP
// target tasks, carrying the tenant id as a header so the worker endpoint
// can re-enter the tenant's scope before acting.
type CloudTasksDispatcher struct {
	client      *cloudtasks.Client
	queuePath   string
	workerURL   string
	serviceAcct string
}

// NewCloudTasksDispatcher wires a Dispatcher against an existing Cloud
// Tasks queue. workerURL is the HTTP endpoint the queue delivers to;
// serviceAccountEmail authenticates the queue's push via OIDC.
func NewCloudTasksDispatcher(ctx context.Context, queuePath, workerURL, serviceAccountEmail string) (*CloudTasksDispatcher, error) {
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobs: cloudtasks client: %w", err)
	}
	return &CloudTasksDispatcher{
		client:      client,
		queuePath:   queuePath,
		workerURL:   workerURL,
		serviceAcct: serviceAccountEmail,
	}, nil
}

func (d *CloudTasksDispatcher) Close() error {
	return d.client.Close()
}

func (d *CloudTasksDispatcher) Enqueue(ctx context.Context, topic string, payload []byte, opts Options) error {
	envelope := jobEnvelope{Topic: topic, TenantID: opts.TenantID, JobID: opts.JobID, Payload: payload}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("jobs: marshal envelope: %w", err)
	}

	req := &cloudtaskspb.CreateTaskRequest{
		Parent: d.queuePath,
		Task: &cloudtaskspb.Task{
			MessageType: &cloudtaskspb.Task_HttpRequest{
				HttpRequest: &cloudtaskspb.HttpRequest{
					HttpMethod: cloudtaskspb.HttpMethod_POST,
					Url:        d.workerURL,
					Headers: map[string]string{
						"Content-Type":    "application/json",
						"X-Tenant-ID":     opts.TenantID,
						"X-Job-Topic":     topic,
					},
					Body: body,
					AuthorizationHeader: &cloudtaskspb.HttpRequest_OidcToken{
						OidcToken: &cloudtaskspb.OidcToken{ServiceAccountEmail: d.serviceAcct},
					},
				},
			},
		},
	}

	if _, err := d.client.CreateTask(ctx, req); err != nil {
		return fmt.Errorf("jobs: create task: %w", err)
	}
	return nil
}

type jobEnvelope struct {
	Topic    string `json:"topic"`
	TenantID string `json:"tenant_id"`
	JobID    string `json:"job_id,omitempty"`
	Payload  []byte `json:"payload"`
}

var _ Dispatcher = (*CloudTasksDispatcher)(nil)
