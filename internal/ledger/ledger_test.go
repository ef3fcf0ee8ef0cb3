package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solarstore/shop/internal/ledger"
	"github.com/solarstore/shop/internal/models"
	"github.com/solarstore/shop/internal/testdb"
)

func TestCreateOrderFixedTotal(t *testing.T) {
	db := testdb.Open(t)

	product := models.Product{SellerID: 1, Name: "panel", Price: 10.00, Quantity: 5}
	require.NoError(t, db.Create(&product).Error)

	order, items, err := ledger.CreateOrder(db, 1, []ledger.LineItem{
		{Product: product, Quantity: 2},
	})
	require.NoError(t, err)
	require.Equal(t, 20.00, order.Total)
	require.False(t, order.Paid)
	require.Len(t, items, 1)
	require.Equal(t, 10.00, items[0].Price)
	require.Equal(t, uint(2), items[0].Quantity)

	// A later price change must not touch the captured total or item price.
	require.NoError(t, db.Model(&product).Update("price", 99.99).Error)

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, order.ID).Error)
	require.Equal(t, 20.00, reloaded.Total)

	var item models.OrderItem
	require.NoError(t, db.First(&item, items[0].ID).Error)
	require.Equal(t, 10.00, item.Price)
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	db := testdb.Open(t)

	product := models.Product{SellerID: 1, Name: "inverter", Price: 50.00, Quantity: 1}
	require.NoError(t, db.Create(&product).Error)

	_, _, err := ledger.CreateOrder(db, 1, []ledger.LineItem{
		{Product: product, Quantity: 3},
	})

	var stockErr *ledger.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Contains(t, stockErr.Error(), "inverter")

	var count int64
	require.NoError(t, db.Model(&models.Order{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCreateOrderEmpty(t *testing.T) {
	db := testdb.Open(t)

	_, _, err := ledger.CreateOrder(db, 1, nil)
	require.ErrorIs(t, err, ledger.ErrEmptyOrder)
}

func TestDecrementStock(t *testing.T) {
	db := testdb.Open(t)

	product := models.Product{SellerID: 1, Name: "cable", Price: 5.00, Quantity: 10}
	require.NoError(t, db.Create(&product).Error)

	order, _, err := ledger.CreateOrder(db, 1, []ledger.LineItem{
		{Product: product, Quantity: 4},
	})
	require.NoError(t, err)

	require.NoError(t, ledger.DecrementStock(db, order.ID))

	var reloaded models.Product
	require.NoError(t, db.First(&reloaded, product.ID).Error)
	require.Equal(t, uint(6), reloaded.Quantity)
}

func TestDecrementStockClampsAtZero(t *testing.T) {
	db := testdb.Open(t)

	product := models.Product{SellerID: 1, Name: "battery", Price: 200.00, Quantity: 3}
	require.NoError(t, db.Create(&product).Error)

	order, _, err := ledger.CreateOrder(db, 1, []ledger.LineItem{
		{Product: product, Quantity: 3},
	})
	require.NoError(t, err)

	// Another order already drained the stock meanwhile.
	require.NoError(t, db.Model(&product).Update("quantity", 1).Error)

	require.NoError(t, ledger.DecrementStock(db, order.ID))

	var reloaded models.Product
	require.NoError(t, db.First(&reloaded, product.ID).Error)
	require.Equal(t, uint(0), reloaded.Quantity)
}

func TestDecrementStockSkipsDeletedProduct(t *testing.T) {
	db := testdb.Open(t)

	product := models.Product{SellerID: 1, Name: "mount", Price: 30.00, Quantity: 5}
	require.NoError(t, db.Create(&product).Error)

	order, _, err := ledger.CreateOrder(db, 1, []ledger.LineItem{
		{Product: product, Quantity: 2},
	})
	require.NoError(t, err)

	require.NoError(t, db.Delete(&models.Product{}, product.ID).Error)

	require.NoError(t, ledger.DecrementStock(db, order.ID))
}
