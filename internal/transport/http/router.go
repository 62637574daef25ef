package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/storefront/internal/transport/http/handler"
)

type Handlers struct {
	Health  *handler.HealthHandler
	Order   *handler.OrderHandler
	Product *handler.ProductHandler
	User    *handler.UserHandler
}

func RegisterRoutes(app *fiber.App, h *Handlers) {
	app.Get("/health", h.Health.Check)

	api := app.Group("/api")

	order := api.Group("/orders")
	order.Post("", h.Order.Create)
	order.Get("/:id", h.Order.FindByID)

	product := api.Group("/products")
	product.Post("", h.Product.Create)
	product.Get("", h.Product.ListProducts)
	product.Get("/:id", h.Product.FindByID)
	product.Patch("/:id", h.Product.Update)

	user := api.Group("/users")
	user.Get("", h.User.List)
	user.Post("/register", h.User.Register)
	user.Get("/search", h.User.Search)
	user.Get("/by-email", h.User.FindByEmail)
	user.Get("/:id", h.User.FindByID)
	user.Put("/:id", h.User.Update)
	user.Delete("/:id", h.User.Delete)
}
