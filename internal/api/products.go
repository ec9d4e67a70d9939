package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gncyclemart/shop-api/internal/models"
)

// ListProductsHandler handles GET /api/products and /api/products/{page}/{perPage}
func (a *App) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	page, _ := strconv.Atoi(vars["page"])
	perPage, _ := strconv.Atoi(vars["perPage"])

	result, err := a.products.ListProducts(r.Context(), page, perPage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// NewProductsHandler handles GET /api/products/new-products
func (a *App) NewProductsHandler(w http.ResponseWriter, r *http.Request) {
	a.writeProducts(w, r)(a.products.NewProducts(r.Context()))
}

// ProductsByNameHandler handles GET /api/products/name/{name}
func (a *App) ProductsByNameHandler(w http.ResponseWriter, r *http.Request) {
	a.writeProducts(w, r)(a.products.ProductsByName(r.Context(), mux.Vars(r)["name"]))
}

// ProductsByBrandHandler handles GET /api/products/brand/{brand}
func (a *App) ProductsByBrandHandler(w http.ResponseWriter, r *http.Request) {
	a.writeProducts(w, r)(a.products.ProductsByBrand(r.Context(), mux.Vars(r)["brand"]))
}

// ProductsByCategoryHandler handles GET /api/products/category/{category}
func (a *App) ProductsByCategoryHandler(w http.ResponseWriter, r *http.Request) {
	a.writeProducts(w, r)(a.products.ProductsByCategory(r.Context(), mux.Vars(r)["category"]))
}

// SearchProductsHandler handles GET /api/products/search/{key}
func (a *App) SearchProductsHandler(w http.ResponseWriter, r *http.Request) {
	a.writeProducts(w, r)(a.products.Search(r.Context(), mux.Vars(r)["key"]))
}

// OutOfStockHandler handles GET /api/products/out/{stock}
func (a *App) OutOfStockHandler(w http.ResponseWriter, r *http.Request) {
	stock, err := strconv.Atoi(mux.Vars(r)["stock"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "invalid stock value"})
		return
	}
	a.writeProducts(w, r)(a.products.ProductsWithStock(r.Context(), stock))
}

func (a *App) writeProducts(w http.ResponseWriter, r *http.Request) func([]models.Product, error) {
	return func(products []models.Product, err error) {
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, products)
	}
}

// GetProductHandler handles GET /api/products/{id}
func (a *App) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	product, err := a.products.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// CreateProductHandler handles POST /api/products and returns the full catalog
func (a *App) CreateProductHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProductRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := a.products.CreateProduct(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}

	products, err := a.products.AllProducts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, products)
}

// UpdateProductHandler handles PUT /api/products and returns the full catalog
func (a *App) UpdateProductHandler(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateProductRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := a.products.UpdateProduct(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}

	products, err := a.products.AllProducts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// DeleteProductHandler handles DELETE /api/products/{id}
func (a *App) DeleteProductHandler(w http.ResponseWriter, r *http.Request) {
	product, err := a.products.DeleteProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// GetStockHandler handles GET /api/stock/{id}
func (a *App) GetStockHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	stock, err := a.inventory.GetStock(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"_id": id, "stock": stock})
}

// SetStockHandler handles PUT /api/stock/update/{id} and returns the updated product
func (a *App) SetStockHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.SetStockRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := a.inventory.SetStock(r.Context(), id, *req.Stock); err != nil {
		writeError(w, r, err)
		return
	}

	product, err := a.products.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// CategoriesHandler handles GET /api/filters/categories
func (a *App) CategoriesHandler(w http.ResponseWriter, r *http.Request) {
	a.writeStrings(w, r)(a.products.Categories(r.Context()))
}

// BrandsHandler handles GET /api/filters/brands
func (a *App) BrandsHandler(w http.ResponseWriter, r *http.Request) {
	a.writeStrings(w, r)(a.products.Brands(r.Context()))
}

// NamesHandler handles GET /api/filters/names
func (a *App) NamesHandler(w http.ResponseWriter, r *http.Request) {
	a.writeStrings(w, r)(a.products.Names(r.Context()))
}

// ImagesHandler handles GET /api/images
func (a *App) ImagesHandler(w http.ResponseWriter, r *http.Request) {
	a.writeStrings(w, r)(a.products.CarouselImages(r.Context()))
}

func (a *App) writeStrings(w http.ResponseWriter, r *http.Request) func([]string, error) {
	return func(values []string, err error) {
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, values)
	}
}

// AddImageHandler handles POST /api/images
func (a *App) AddImageHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateImageRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	img, err := a.products.AddCarouselImage(r.Context(), req.ImageURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, img)
}
