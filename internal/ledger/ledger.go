package ledger

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/solarstore/shop/internal/models"
)

var ErrEmptyOrder = errors.New("order has no items")

// InsufficientStockError reports the first line item whose requested quantity
// exceeds the product's current stock.
type InsufficientStockError struct {
	ProductName string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s", e.ProductName)
}

type LineItem struct {
	Product  models.Product
	Quantity uint
}

// CreateOrder checks stock and writes one Order with its OrderItems on the
// given db handle. Callers wrap it in a transaction together with whatever
// else must commit atomically. Total is fixed here from the unit prices and
// never recomputed afterwards. The stock check is optimistic: stock is only
// decremented later, at payment confirmation.
func CreateOrder(db *gorm.DB, userID uint, items []LineItem) (*models.Order, []models.OrderItem, error) {
	if len(items) == 0 {
		return nil, nil, ErrEmptyOrder
	}

	var total float64
	for _, it := range items {
		if it.Quantity > it.Product.Quantity {
			return nil, nil, &InsufficientStockError{ProductName: it.Product.Name}
		}
		total += it.Product.Price * float64(it.Quantity)
	}

	order := models.Order{
		UserID: userID,
		Total:  total,
	}
	if err := db.Create(&order).Error; err != nil {
		return nil, nil, err
	}

	orderItems := make([]models.OrderItem, 0, len(items))
	for _, it := range items {
		productID := it.Product.ID
		oi := models.OrderItem{
			OrderID:   order.ID,
			ProductID: &productID,
			Quantity:  it.Quantity,
			Price:     it.Product.Price,
		}
		if err := db.Create(&oi).Error; err != nil {
			return nil, nil, err
		}
		orderItems = append(orderItems, oi)
	}

	return &order, orderItems, nil
}

// DecrementStock deducts every item of the order from its product's stock,
// clamped at zero. Products deleted since the order was created are skipped.
// Calling it twice for the same order double-deducts: the reconciliation
// engine's status guard is what keeps this at-most-once.
func DecrementStock(db *gorm.DB, orderID uint) error {
	var items []models.OrderItem
	if err := db.Where("order_id = ?", orderID).Find(&items).Error; err != nil {
		return err
	}

	for _, it := range items {
		if it.ProductID == nil {
			continue
		}

		var product models.Product
		if err := db.First(&product, *it.ProductID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return err
		}

		remaining := uint(0)
		if product.Quantity > it.Quantity {
			remaining = product.Quantity - it.Quantity
		}
		if err := db.Model(&product).Update("quantity", remaining).Error; err != nil {
			return err
		}
	}

	return nil
}
