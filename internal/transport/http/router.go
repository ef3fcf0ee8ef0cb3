package httpserver

import (
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/solarstore/shop/internal/handlers"
	"github.com/solarstore/shop/internal/handlers/cart"
	"github.com/solarstore/shop/internal/handlers/payment"
	"github.com/solarstore/shop/internal/models"
	"github.com/solarstore/shop/internal/service/token"
)

type Deps struct {
	DB             *gorm.DB
	AuthHandler    *handlers.AuthHandler
	ProductHandler *handlers.ProductHandler
	OrderHandler   *handlers.OrderHandler
	SearchHandler  *handlers.SearchHandler
	CartHandler    *cart.CartHandler
	PaymentHandler *payment.PaymentHandler
	TokenService   *token.TokenService
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	v1 := e.Group("/api/v1")

	v1.POST("/register", d.AuthHandler.Register)
	v1.POST("/login", d.AuthHandler.Login)
	v1.POST("/logout", d.AuthHandler.LogOut)
	v1.GET("/search", d.SearchHandler.Search)

	products := v1.Group("/products")
	products.GET("", d.ProductHandler.GetProducts)
	products.GET("/:id", d.ProductHandler.GetProduct)

	seller := v1.Group("/seller", d.TokenService.RequireRole(models.RoleSeller))
	seller.POST("/products", d.ProductHandler.CreateProduct)
	seller.PATCH("/products/:id", d.ProductHandler.PatchProduct)
	seller.DELETE("/products/:id", d.ProductHandler.DeleteProduct)

	cartGroup := v1.Group("/cart", d.TokenService.AutoRefreshMiddleware)
	cartGroup.GET("", d.CartHandler.GetCart)
	cartGroup.POST("", d.CartHandler.AddToCart)
	cartGroup.POST("/update", d.CartHandler.UpdateCart)
	cartGroup.DELETE("/:product_id", d.CartHandler.RemoveFromCart)

	orders := v1.Group("/orders", d.TokenService.AutoRefreshMiddleware)
	orders.GET("", d.OrderHandler.ListOrders)
	orders.GET("/:id", d.OrderHandler.GetOrder)

	payments := v1.Group("/payments")
	payments.POST("/checkout", d.PaymentHandler.CreateSession, d.TokenService.AutoRefreshMiddleware)
	payments.GET("/success/:order_id", d.PaymentHandler.Success, d.TokenService.AutoRefreshMiddleware)
	payments.GET("/cancel/:order_id", d.PaymentHandler.Cancel, d.TokenService.AutoRefreshMiddleware)
	payments.POST("/webhook", d.PaymentHandler.Webhook)
}
