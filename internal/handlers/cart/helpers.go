package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/solarstore/shop/internal/models"
)

// SnapshotItem is one cart line priced at the catalog's current price.
type SnapshotItem struct {
	Product  models.Product `json:"product"`
	Quantity uint           `json:"quantity"`
	Subtotal float64        `json:"subtotal"`
}

// Snapshot returns the user's cart with live catalog prices. Entries whose
// product no longer exists are silently dropped, not reported.
func Snapshot(db *gorm.DB, userID uint) ([]SnapshotItem, float64, error) {
	var items []models.CartItem
	if err := db.Where("user_id = ?", userID).Find(&items).Error; err != nil {
		return nil, 0, err
	}

	snapshot := make([]SnapshotItem, 0, len(items))
	var total float64
	for _, it := range items {
		var product models.Product
		if err := db.First(&product, it.ProductID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, 0, err
		}
		subtotal := product.Price * float64(it.Quantity)
		snapshot = append(snapshot, SnapshotItem{
			Product:  product,
			Quantity: it.Quantity,
			Subtotal: subtotal,
		})
		total += subtotal
	}

	return snapshot, total, nil
}

// Clear empties the user's cart.
func Clear(db *gorm.DB, userID uint) error {
	return db.Where("user_id = ?", userID).Delete(&models.CartItem{}).Error
}

// CurrentUser reads the identity the auth middleware resolved into context.
func CurrentUser(c echo.Context) (uint, string, error) {
	userID, ok := c.Get("userID").(uint)
	if !ok {
		return 0, "", echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	role, _ := c.Get("role").(string)
	return userID, role, nil
}

func (h *CartHandler) publish(c echo.Context, event map[string]any) {
	if h.Producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "cart_events", fmt.Sprint(event["userID"]), event); err != nil {
		c.Logger().Errorf("Kafka publish error: %v", err)
	}
}
