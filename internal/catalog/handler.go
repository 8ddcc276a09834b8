package catalog

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/giftcard-fulfillment/internal/transport"
	"github.com/frahmantamala/giftcard-fulfillment/pkg/logger"
)

type ServiceAPI interface {
	ListBrands(ctx context.Context, enabledOnly bool) ([]BrandView, error)
	ListStores(ctx context.Context, brandCode string) ([]StoreView, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

// ListBrands shows buyers the enabled brands with their effective discount.
func (h *Handler) ListBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := h.Service.ListBrands(r.Context(), true)
	if err != nil {
		h.Logger.Error("ListBrands: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]any{"brands": brands})
}

func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	stores, err := h.Service.ListStores(r.Context(), code)
	if err != nil {
		h.Logger.Error("ListStores: service error", "error", err, "brand_code", code)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]any{"brand_code": code, "stores": stores})
}
