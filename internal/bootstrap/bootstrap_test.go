package bootstrap

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriptionAPI struct {
	failTopic string
}

func (f fakeSubscriptionAPI) Subscribe(_ context.Context, shop, topic, _ string) (string, error) {
	if topic == f.failTopic {
		return "", fmt.Errorf("upstream rejected %s", topic)
	}
	return "sub-" + topic, nil
}

func (f fakeSubscriptionAPI) Unsubscribe(_ context.Context, _, _ string) error { return nil }

func TestRegisterAll_NeverRegistersGDPRTopics(t *testing.T) {
	for _, topic := range skippedGDPRTopics {
		for _, registered := range Topics {
			assert.NotEqual(t, topic, registered, "GDPR topic %s must never be in the registrable set", topic)
		}
	}
}

func TestRegisterAll_RegistersEveryNonGDPRTopicAndContinuesPastOneFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range Topics {
		mock.ExpectExec(`INSERT INTO webhook_registrations`).WillReturnResult(sqlmock.NewResult(0, 1))
	}

	r := &Registrar{DB: db, API: fakeSubscriptionAPI{failTopic: "refunds/create"}, CallbackBaseURL: "https://ingest.example.com"}
	err = r.RegisterAll(context.Background(), "tenant-1", "shop1.myshopify.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refunds/create")
	require.NoError(t, mock.ExpectationsWereMet())
}
