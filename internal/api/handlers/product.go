package handlers

import (
	"net/http"
	"strconv"

	"catalogsync/internal/api/middleware"
	"catalogsync/internal/database"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type ProductHandler struct {
	catalog   *database.Catalog
	validator *validation.Validator
	logger    *logger.Logger
}

func NewProductHandler(catalog *database.Catalog, validator *validation.Validator, logger *logger.Logger) *ProductHandler {
	return &ProductHandler{
		catalog:   catalog,
		validator: validator,
		logger:    logger,
	}
}

// productRequest is the writable part of a product. Fields missing from an
// update body keep their stored values.
type productRequest struct {
	Title       string               `json:"title" binding:"required"`
	Description *string              `json:"description"`
	Price       decimal.Decimal      `json:"price"`
	Inventory   int                  `json:"inventory" binding:"gte=0"`
	Brand       *string              `json:"brand"`
	Category    *string              `json:"category"`
	Weight      *float64             `json:"weight"`
	Tags        []string             `json:"tags"`
	Images      []string             `json:"images"`
	Status      models.ProductStatus `json:"status"`
}

func requestFrom(p *models.Product) productRequest {
	return productRequest{
		Title:       p.Title,
		Description: p.Description,
		Price:       p.Price,
		Inventory:   p.Inventory,
		Brand:       p.Brand,
		Category:    p.Category,
		Weight:      p.Weight,
		Tags:        p.Tags,
		Images:      p.Images,
		Status:      p.Status,
	}
}

func (r productRequest) apply(p *models.Product) {
	p.Title = r.Title
	p.Description = r.Description
	p.Price = r.Price
	p.Inventory = r.Inventory
	p.Brand = r.Brand
	p.Category = r.Category
	p.Weight = r.Weight
	p.Tags = r.Tags
	p.Images = r.Images
	p.Status = r.Status
}

func (h *ProductHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 20
	}

	products, total, err := h.catalog.ListProducts(c.Request.Context(), middleware.OwnerID(c), database.ProductFilter{
		Status: models.ProductStatus(c.Query("status")),
		Search: c.Query("search"),
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		failWith(c, h.logger, "fetch products", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    products,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

func (h *ProductHandler) Get(c *gin.Context) {
	product, err := h.catalog.GetProduct(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		failWith(c, h.logger, "fetch product", err)
		return
	}
	respond(c, http.StatusOK, product)
}

func (h *ProductHandler) Create(c *gin.Context) {
	var req productRequest
	if !bind(c, &req) {
		return
	}

	product := &models.Product{OwnerID: middleware.OwnerID(c)}
	req.apply(product)
	if err := h.validator.ValidateProduct(product); err != nil {
		failWith(c, h.logger, "create product", err)
		return
	}

	if err := h.catalog.CreateProduct(c.Request.Context(), product); err != nil {
		failWith(c, h.logger, "create product", err)
		return
	}
	respond(c, http.StatusCreated, product)
}

func (h *ProductHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()
	product, err := h.catalog.GetProduct(ctx, middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		failWith(c, h.logger, "fetch product", err)
		return
	}

	req := requestFrom(product)
	if !bind(c, &req) {
		return
	}
	req.apply(product)
	if err := h.validator.ValidateProduct(product); err != nil {
		failWith(c, h.logger, "update product", err)
		return
	}

	if err := h.catalog.UpdateProduct(ctx, product); err != nil {
		failWith(c, h.logger, "update product", err)
		return
	}
	respond(c, http.StatusOK, product)
}

// Delete removes the local product only. Removing it from Shopify is
// DELETE /sync/products/:id.
func (h *ProductHandler) Delete(c *gin.Context) {
	if err := h.catalog.DeleteProduct(c.Request.Context(), middleware.OwnerID(c), c.Param("id")); err != nil {
		failWith(c, h.logger, "delete product", err)
		return
	}
	respond(c, http.StatusOK, gin.H{"id": c.Param("id")})
}
