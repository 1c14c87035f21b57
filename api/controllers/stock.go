package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/avolkov/stockroom-backend/api/responses"
	"github.com/avolkov/stockroom-backend/api/validators"
	"github.com/avolkov/stockroom-backend/internal/stock"
	pkgerrors "github.com/avolkov/stockroom-backend/pkg/errors"
	"github.com/avolkov/stockroom-backend/pkg/logger"
)

type stockAdjustRequest struct {
	Article  string  `json:"article" validate:"required"`
	Location string  `json:"location" validate:"required"`
	Delta    float64 `json:"delta" validate:"required"`
}

// StockAdjust applies a signed delta at one location.
func StockAdjust(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}

		var payload stockAdjustRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithArticle(ctx, payload.Article)
		}

		product, err := svc.ProductByArticle(ctx, payload.Article)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.AdjustSigned(ctx, product.ID, payload.Location, payload.Delta); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		writeBalances(ctx, logg, w, svc, product.ID, payload.Article)
	}
}

type stockMoveRequest struct {
	Article string  `json:"article" validate:"required"`
	From    string  `json:"from" validate:"required"`
	To      string  `json:"to" validate:"required"`
	Qty     float64 `json:"qty" validate:"required,gt=0"`
}

// StockMove transfers quantity between two locations. Moving into the sink
// location writes the quantity off.
func StockMove(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}

		var payload stockMoveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithArticle(ctx, payload.Article)
		}

		product, err := svc.ProductByArticle(ctx, payload.Article)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.Transfer(ctx, product.ID, payload.From, payload.To, payload.Qty); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		writeBalances(ctx, logg, w, svc, product.ID, payload.Article)
	}
}

type stockSetRequest struct {
	Article  string  `json:"article" validate:"required"`
	Location string  `json:"location" validate:"required"`
	Qty      float64 `json:"qty" validate:"gte=0"`
}

// StockSet overwrites the absolute quantity at one location.
func StockSet(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}

		var payload stockSetRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithArticle(ctx, payload.Article)
		}

		product, err := svc.ProductByArticle(ctx, payload.Article)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.SetAbsolute(ctx, product.ID, payload.Location, payload.Qty); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		writeBalances(ctx, logg, w, svc, product.ID, payload.Article)
	}
}

// StockAdjustHub routes a delta through the hub: negative deltas return
// quantity to the hub first, positive ones drain the hub before crediting the
// target location directly.
func StockAdjustHub(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}

		var payload stockAdjustRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithArticle(ctx, payload.Article)
		}

		product, err := svc.ProductByArticle(ctx, payload.Article)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.AdjustHubRouted(ctx, product.ID, payload.Location, payload.Delta); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		writeBalances(ctx, logg, w, svc, product.ID, payload.Article)
	}
}

type stockEntryResponse struct {
	Location string  `json:"location"`
	Qty      float64 `json:"qty"`
}

type stockBalancesResponse struct {
	Article  string               `json:"article"`
	Total    float64              `json:"total"`
	Balances []stockEntryResponse `json:"balances"`
}

// StockBalances reports the per-location holdings for one article.
func StockBalances(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}

		article := chi.URLParam(r, "article")
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithArticle(ctx, article)
		}

		product, err := svc.ProductByArticle(ctx, article)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		writeBalances(ctx, logg, w, svc, product.ID, product.Article)
	}
}

func writeBalances(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, svc stock.Service, productID uint, article string) {
	entries, err := svc.Entries(ctx, productID)
	if err != nil {
		responses.WriteError(ctx, logg, w, err)
		return
	}
	total, err := svc.TotalStock(ctx, productID)
	if err != nil {
		responses.WriteError(ctx, logg, w, err)
		return
	}

	balances := make([]stockEntryResponse, 0, len(entries))
	for _, entry := range entries {
		balances = append(balances, stockEntryResponse{Location: entry.LocationCode, Qty: entry.Qty})
	}
	responses.WriteSuccess(w, stockBalancesResponse{Article: article, Total: total, Balances: balances})
}
