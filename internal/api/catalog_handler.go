package api

import (
	"net/http"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/catalog"
	"github.com/gin-gonic/gin"
)

type ProductDetails struct {
	catalog.Product
	Templates []catalog.Template `json:"templates"`
}

type CatalogHandler struct {
	Catalog *catalog.Catalog
}

func (h *CatalogHandler) RegisterRoutes(r *gin.RouterGroup) {
	products := r.Group("/products")
	{
		products.GET("", h.ListProducts)
		products.GET("/:code", h.GetProduct)
	}
}

func (h *CatalogHandler) ListProducts(c *gin.Context) {
	c.JSON(http.StatusOK, h.Catalog.Products())
}

func (h *CatalogHandler) GetProduct(c *gin.Context) {
	product, err := h.Catalog.Product(c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}

	templates := h.Catalog.Templates(product.Code)
	if templates == nil {
		templates = []catalog.Template{}
	}

	c.JSON(http.StatusOK, ProductDetails{Product: product, Templates: templates})
}
