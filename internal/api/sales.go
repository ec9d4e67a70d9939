package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gncyclemart/shop-api/internal/auth"
	"github.com/gncyclemart/shop-api/internal/models"
)

// CheckoutHandler handles POST /api/sales/confirm-sales. Only product ids and
// quantities are read from the cart; prices and buyer come from the server.
func (a *App) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CheckoutRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sale, err := a.sales.SubmitCheckout(r.Context(), auth.PrincipalFrom(r.Context()), req.SalesItems)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.CheckoutResponse{SaleID: sale.ID})
}

// ListSalesHandler handles GET /api/sales
func (a *App) ListSalesHandler(w http.ResponseWriter, r *http.Request) {
	sales, err := a.sales.ListSales(r.Context(), auth.PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

// GetSaleHandler handles GET /api/sales/{id}
func (a *App) GetSaleHandler(w http.ResponseWriter, r *http.Request) {
	sale, err := a.sales.GetSale(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

// ConfirmSaleHandler handles PUT /api/sales/confirm-sale/{id}
func (a *App) ConfirmSaleHandler(w http.ResponseWriter, r *http.Request) {
	a.writeSale(w, r)(a.sales.ConfirmSale(r.Context(), auth.PrincipalFrom(r.Context()), mux.Vars(r)["id"]))
}

// CancelSaleHandler handles PUT /api/sales/cancel-sale/{id}
func (a *App) CancelSaleHandler(w http.ResponseWriter, r *http.Request) {
	a.writeSale(w, r)(a.sales.CancelSale(r.Context(), auth.PrincipalFrom(r.Context()), mux.Vars(r)["id"]))
}

// DeleteSaleHandler handles DELETE /api/sales/{id}
func (a *App) DeleteSaleHandler(w http.ResponseWriter, r *http.Request) {
	a.writeSale(w, r)(a.sales.DeleteSale(r.Context(), auth.PrincipalFrom(r.Context()), mux.Vars(r)["id"]))
}

func (a *App) writeSale(w http.ResponseWriter, r *http.Request) func(*models.Sale, error) {
	return func(sale *models.Sale, err error) {
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sale)
	}
}
