package handlers

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ocx/ingestcore/internal/jobs"
	"github.com/ocx/ingestcore/internal/tenancy"
	"github.com/stretchr/testify/require"
)

// Grounded on test/unit/audit/internal_client_test.go's pattern of
// driving real handler code against a sqlmock-backed *sql.DB instead of
// a mocking framework for the handler interface itself.
func TestOrderCreate_UpsertsOrderReplacesLineItemsAndEnqueuesThreeJobs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT set_config`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO orders`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("order-1"))
	mock.ExpectExec(`DELETE FROM order_line_items`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO order_line_items`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	disp := jobs.NewMemoryDispatcher()
	h := &Handlers{Jobs: disp}
	scope := tenancy.NewScope(db)

	payload := []byte(`{"id": 1001, "name": "#1001", "currency": "USD", "total_price": "25.00", "subtotal_price": "20.00", "total_discounts": "0.00", "total_tax": "5.00", "financial_status": "paid", "fulfillment_status": "", "customer": {"id": 55}, "line_items": [{"id": 1, "title": "Widget", "quantity": 2, "price": "10.00", "sku": "W-1"}]}`)

	err = scope.WithTenant(context.Background(), "tenant-1", func(ctx context.Context) error {
		return h.OrderCreate(ctx, "tenant-1", payload, "event-1")
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	jobsEnqueued := disp.Jobs()
	require.Len(t, jobsEnqueued, 3)
	topics := map[string]bool{}
	for _, j := range jobsEnqueued {
		topics[j.Topic] = true
	}
	require.True(t, topics["orders.attribution"])
	require.True(t, topics["orders.commission"])
	require.True(t, topics["orders.post_create"])
}

func TestMinorUnits_ParsesDecimalDollarStrings(t *testing.T) {
	cases := map[string]int64{
		"19.99":  1999,
		"0.00":   0,
		"5":      500,
		"5.1":    510,
		"-3.50":  -350,
		"":       0,
	}
	for in, want := range cases {
		require.Equal(t, want, minorUnits(in), "input %q", in)
	}
}
