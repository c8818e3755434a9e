package mongodoc

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/marketbay/settlement/internal/domain/order"
)

func TestMoneyRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "0.01", "219.00", "12345.67", "-3.50"} {
		d := decimal.RequireFromString(s)

		got, err := amount(money(d))

		require.NoError(t, err)
		assert.True(t, got.Equal(d), "want %s, got %s", d, got)
	}
}

func TestBuildListFilter(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

	f := buildListFilter(order.Filter{
		Statuses:          []order.Status{order.StatusPending, order.StatusProcessing},
		CustomerID:        "cust-1",
		PaymentMethod:     "card",
		CreatedFrom:       &from,
		CreatedTo:         &to,
		ContainsProductID: "prod-a",
	})

	assert.Equal(t, bson.M{"$in": []string{"PENDING", "PROCESSING"}}, f["status"])
	assert.Equal(t, "cust-1", f["customer_id"])
	assert.Equal(t, "card", f["payment.method"])
	assert.Equal(t, bson.M{"$gte": from, "$lte": to}, f["created_at"])
	assert.Equal(t, "prod-a", f["product_refs"])
}

func TestBuildListFilter_Empty(t *testing.T) {
	assert.Empty(t, buildListFilter(order.Filter{}))
}

func TestPageInMemory(t *testing.T) {
	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	docs := []orderDoc{
		{ID: "b", CreatedAt: base.Add(time.Minute)},
		{ID: "d", CreatedAt: base.Add(3 * time.Minute)},
		{ID: "a", CreatedAt: base},
		{ID: "c", CreatedAt: base.Add(2 * time.Minute)},
	}

	page := pageInMemory(docs, order.Page{Limit: 2, Offset: 0})
	require.Len(t, page, 2)
	assert.Equal(t, "d", page[0].ID)
	assert.Equal(t, "c", page[1].ID)

	page = pageInMemory(docs, order.Page{Limit: 2, Offset: 2})
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].ID)
	assert.Equal(t, "a", page[1].ID)

	assert.Nil(t, pageInMemory(docs, order.Page{Limit: 2, Offset: 10}))
}

func TestIsSortFailure(t *testing.T) {
	assert.True(t, isSortFailure(mongo.CommandError{Code: 292}))
	assert.True(t, isSortFailure(mongo.CommandError{Code: 1, Message: "Sort exceeded memory limit of 104857600 bytes"}))
	assert.False(t, isSortFailure(mongo.CommandError{Code: 11000}))
	assert.False(t, isSortFailure(assert.AnError))
}

func TestConsumeUseFilter(t *testing.T) {
	f := consumeUseFilter("SAVE10")

	assert.Equal(t, "SAVE10", f["_id"])
	assert.Equal(t, "ACTIVE", f["status"])
	assert.Contains(t, f, "$or")
}
