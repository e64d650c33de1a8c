package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_NoHandlersIsOK(t *testing.T) {
	r := NewRegistry()
	result := r.Dispatch(context.Background(), "orders/create", "tenant-1", []byte(`{}`), "evt-1")
	assert.True(t, result.OK())
}

func TestDispatch_AllHandlersRunAndSucceed(t *testing.T) {
	r := NewRegistry()
	var calls int32
	for i := 0; i < 3; i++ {
		r.Register("orders/create", "handler", func(ctx context.Context, tenantID string, payload []byte, eventID string) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}

	result := r.Dispatch(context.Background(), "orders/create", "tenant-1", []byte(`{}`), "evt-1")
	require.True(t, result.OK())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDispatch_OneHandlerFailureDoesNotAbortSiblings(t *testing.T) {
	r := NewRegistry()
	var okRan int32

	r.Register("orders/create", "failing", func(ctx context.Context, tenantID string, payload []byte, eventID string) error {
		return errors.New("boom")
	})
	r.Register("orders/create", "ok", func(ctx context.Context, tenantID string, payload []byte, eventID string) error {
		atomic.AddInt32(&okRan, 1)
		return nil
	})

	result := r.Dispatch(context.Background(), "orders/create", "tenant-1", []byte(`{}`), "evt-1")
	assert.False(t, result.OK())
	assert.Equal(t, int32(1), atomic.LoadInt32(&okRan), "sibling handler must still run despite the other's failure")
}

func TestDispatch_FirstFailureIsDeterministicByRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("orders/create", "first", func(ctx context.Context, tenantID string, payload []byte, eventID string) error {
		return errors.New("first failure")
	})
	r.Register("orders/create", "second", func(ctx context.Context, tenantID string, payload []byte, eventID string) error {
		return errors.New("second failure")
	})

	for i := 0; i < 20; i++ {
		result := r.Dispatch(context.Background(), "orders/create", "tenant-1", []byte(`{}`), "evt-1")
		require.Error(t, result.FirstFailure)
		assert.Contains(t, result.FirstFailure.Error(), "first failure", "first-registered handler's error must win regardless of goroutine scheduling")
	}
}

func TestDispatch_ReorderingRegistrationOnlyChangesFirstCapturedError(t *testing.T) {
	resultsFor := func(order []string) Result {
		r := NewRegistry()
		fail := func(msg string) Handler {
			return func(ctx context.Context, tenantID string, payload []byte, eventID string) error {
				return errors.New(msg)
			}
		}
		for _, name := range order {
			r.Register("orders/create", name, fail(name))
		}
		return r.Dispatch(context.Background(), "orders/create", "tenant-1", []byte(`{}`), "evt-1")
	}

	a := resultsFor([]string{"h1", "h2"})
	b := resultsFor([]string{"h2", "h1"})

	assert.Len(t, a.HandlerErrors, 2)
	assert.Len(t, b.HandlerErrors, 2)
	assert.Contains(t, a.FirstFailure.Error(), "h1")
	assert.Contains(t, b.FirstFailure.Error(), "h2")
}

func TestDispatch_HandlersReceiveTenantPayloadAndEventID(t *testing.T) {
	r := NewRegistry()
	var gotTenant, gotEventID string
	var gotPayload []byte

	r.Register("orders/create", "capture", func(ctx context.Context, tenantID string, payload []byte, eventID string) error {
		gotTenant = tenantID
		gotPayload = payload
		gotEventID = eventID
		return nil
	})

	r.Dispatch(context.Background(), "orders/create", "tenant-1", []byte(`{"id":1}`), "evt-1")
	assert.Equal(t, "tenant-1", gotTenant)
	assert.Equal(t, "evt-1", gotEventID)
	assert.JSONEq(t, `{"id":1}`, string(gotPayload))
}

func TestRegistry_TopicsListsRegisteredTopicsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register("orders/create", "h", func(ctx context.Context, tenantID string, payload []byte, eventID string) error { return nil })
	r.Register("customers/update", "h", func(ctx context.Context, tenantID string, payload []byte, eventID string) error { return nil })

	assert.Equal(t, []string{"customers/update", "orders/create"}, r.Topics())
}
