package cart

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/solarstore/shop/internal/models"
	"github.com/solarstore/shop/internal/mykafka"
)

type CartHandler struct {
	DB       *gorm.DB
	Producer *mykafka.Producer
}

func (h *CartHandler) GetCart(c echo.Context) error {
	userID, _, err := CurrentUser(c)
	if err != nil {
		return err
	}

	items, total, err := Snapshot(h.DB, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

func (h *CartHandler) AddToCart(c echo.Context) error {
	userID, _, err := CurrentUser(c)
	if err != nil {
		return err
	}

	var req struct {
		ProductID uint `json:"product_id"`
		Quantity  uint `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Quantity < 1 {
		req.Quantity = 1
	}

	var product models.Product
	if err := h.DB.First(&product, req.ProductID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "product not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var item models.CartItem
	tx := h.DB.Where("user_id = ? AND product_id = ?", userID, req.ProductID).First(&item)
	if tx.Error == nil {
		item.Quantity += req.Quantity
		if err := h.DB.Save(&item).Error; err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	} else {
		if !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusInternalServerError, tx.Error.Error())
		}
		item = models.CartItem{
			UserID:    userID,
			ProductID: req.ProductID,
			Quantity:  req.Quantity,
		}
		if err := h.DB.Create(&item).Error; err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	h.publish(c, map[string]any{
		"type":      "cart_item_added",
		"userID":    userID,
		"productID": req.ProductID,
		"quantity":  item.Quantity,
	})
	return c.JSON(http.StatusOK, item)
}

// UpdateCart replaces quantities from a product_id -> quantity map. A value
// that does not parse as a positive integer counts as zero and removes the
// entry.
func (h *CartHandler) UpdateCart(c echo.Context) error {
	userID, _, err := CurrentUser(c)
	if err != nil {
		return err
	}

	var req struct {
		Quantities map[string]string `json:"quantities"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	for pidRaw, qtyRaw := range req.Quantities {
		pid, err := strconv.ParseUint(pidRaw, 10, 64)
		if err != nil {
			continue
		}

		qty, err := strconv.Atoi(qtyRaw)
		if err != nil {
			qty = 0
		}

		if qty <= 0 {
			if err := h.DB.Where("user_id = ? AND product_id = ?", userID, pid).
				Delete(&models.CartItem{}).Error; err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
			}
			continue
		}

		if err := h.DB.Model(&models.CartItem{}).
			Where("user_id = ? AND product_id = ?", userID, pid).
			Update("quantity", qty).Error; err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	h.publish(c, map[string]any{
		"type":   "cart_updated",
		"userID": userID,
	})

	items, total, err := Snapshot(h.DB, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items, "total": total})
}

// RemoveFromCart deletes the entry for a product. Removing a product that is
// not in the cart is a no-op.
func (h *CartHandler) RemoveFromCart(c echo.Context) error {
	userID, _, err := CurrentUser(c)
	if err != nil {
		return err
	}

	pid, err := strconv.Atoi(c.Param("product_id"))
	if err != nil || pid <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	if err := h.DB.Where("user_id = ? AND product_id = ?", userID, pid).
		Delete(&models.CartItem{}).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.publish(c, map[string]any{
		"type":      "cart_item_removed",
		"userID":    userID,
		"productID": pid,
	})
	return c.JSON(http.StatusOK, map[string]any{"removed": pid})
}
