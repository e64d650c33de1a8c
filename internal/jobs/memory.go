package jobs

import (
	"context"
	"sync"
)

// EnqueuedJob records one call into MemoryDispatcher, for test assertions.
type EnqueuedJob struct {
	Topic   string
	Payload []byte
	Options Options
}

// MemoryDispatcher is an in-memory Dispatcher fake for handler and
// ingress tests.
type MemoryDispatcher struct {
	mu   sync.Mutex
	jobs []EnqueuedJob
	fail error
}

func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{}
}

// FailWith makes every subsequent Enqueue call return err, for exercising
// the outbox fallback path.
func (m *MemoryDispatcher) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *MemoryDispatcher) Enqueue(_ context.Context, topic string, payload []byte, opts Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.jobs = append(m.jobs, EnqueuedJob{Topic: topic, Payload: payload, Options: opts})
	return nil
}

func (m *MemoryDispatcher) Jobs() []EnqueuedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EnqueuedJob(nil), m.jobs...)
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
