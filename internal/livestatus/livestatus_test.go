package livestatus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ocx/ingestcore/internal/health"
)

func TestNew_ReturnsHandlerAndCloses(t *testing.T) {
	b := New()
	assert.NotNil(t, b.Handler())
	assert.NoError(t, b.Close())
}

func TestPublishEventOutcome_DoesNotPanicWithNoSubscribers(t *testing.T) {
	b := New()
	defer b.Close()
	assert.NotPanics(t, func() {
		b.PublishEventOutcome("tenant-1", "event-1", "orders.create", "completed")
	})
}

func TestPublishRegistrationStatus_DoesNotPanicWithNoSubscribers(t *testing.T) {
	b := New()
	defer b.Close()
	assert.NotPanics(t, func() {
		b.PublishRegistrationStatus(health.RegistrationStatus{
			Topic:  "orders.create",
			Shop:   "shop-1",
			Status: "active",
		})
	})
}
