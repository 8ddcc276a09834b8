package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/giftcard-fulfillment/internal"
	"github.com/frahmantamala/giftcard-fulfillment/internal/transport"
	"github.com/frahmantamala/giftcard-fulfillment/pkg/logger"
)

type Handler struct {
	*transport.BaseHandler
	credentials CredentialAPI
	catalog     CatalogAPI
	analytics   AnalyticsAPI
	callLogs    CallLogAPI
	operatorKey string
	location    *time.Location
	now         func() time.Time
}

type Dependencies struct {
	Credentials CredentialAPI
	Catalog     CatalogAPI
	Analytics   AnalyticsAPI
	CallLogs    CallLogAPI
}

// NewHandler builds the operator handler. loc decides month boundaries for
// the default analytics window; nil means UTC.
func NewHandler(deps Dependencies, operatorKey string, loc *time.Location) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		credentials: deps.Credentials,
		catalog:     deps.Catalog,
		analytics:   deps.Analytics,
		callLogs:    deps.CallLogs,
		operatorKey: operatorKey,
		location:    loc,
		now:         time.Now,
	}
}

// Routes mounts the admin endpoints behind the operator key.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.OperatorMiddleware)
	r.Post("/vendor/token/refresh", h.RefreshVendorToken)
	r.Post("/catalog/sync", h.SyncCatalog)
	r.Patch("/brands/{code}/discount", h.SetBrandDiscount)
	r.Get("/analytics", h.Analytics)
	r.Get("/orders/{id}/vendor-logs", h.VendorLogs)
}

func (h *Handler) RefreshVendorToken(w http.ResponseWriter, r *http.Request) {
	if _, err := h.credentials.Get(r.Context(), true); err != nil {
		h.Logger.Error("RefreshVendorToken: refresh failed", "error", err)
		h.handleVendorError(w, "vendor token refresh failed", err)
		return
	}
	remaining, err := h.credentials.Remaining(r.Context())
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, TokenRefreshResponse{
		Refreshed:        true,
		ExpiresAt:        h.now().Add(remaining).UTC().Truncate(time.Second),
		RemainingSeconds: int64(remaining.Seconds()),
	})
}

func (h *Handler) SyncCatalog(w http.ResponseWriter, r *http.Request) {
	res, err := h.catalog.Sync(r.Context())
	if err != nil {
		h.Logger.Error("SyncCatalog: sync failed", "error", err)
		h.handleVendorError(w, "catalog sync failed", err)
		return
	}
	h.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) SetBrandDiscount(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var dto DiscountDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.HandleError(w, internal.NewValidationError("invalid request body", internal.ErrCodeValidationFailed))
		return
	}

	brand, err := h.catalog.SetCustomerDiscount(r.Context(), code, dto.DiscountBps)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.Logger.Info("brand discount updated", "brand_code", code, "discount_bps", dto.DiscountBps)
	h.WriteJSON(w, http.StatusOK, brand)
}

// Analytics reports the [from, to) window. Plain dates are whole days, so
// to=2025-01-31 includes that day. Both default to the current month.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	from, to, appErr := h.window(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	summary, err := h.analytics.Summary(r.Context(), from, to)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) VendorLogs(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.HandleError(w, internal.NewValidationError("limit must be a positive integer", internal.ErrCodeValidationFailed))
			return
		}
		limit = n
	}

	logs, err := h.callLogs.ListByOrder(r.Context(), orderID, limit)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	views := make([]CallLogView, 0, len(logs))
	for _, l := range logs {
		views = append(views, NewCallLogView(l))
	}
	h.WriteJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "logs": views})
}

func (h *Handler) handleVendorError(w http.ResponseWriter, message string, err error) {
	if _, ok := internal.IsAppError(err); ok {
		h.HandleServiceError(w, err)
		return
	}
	h.HandleError(w, internal.NewExternalError(message, internal.ErrCodeVendorFailed, err))
}

func (h *Handler) window(rawFrom, rawTo string) (time.Time, time.Time, *internal.AppError) {
	now := h.now().In(h.location)
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, h.location)
	to := from.AddDate(0, 1, 0)

	if rawFrom != "" {
		t, _, ok := h.parseBound(rawFrom)
		if !ok {
			return time.Time{}, time.Time{}, internal.NewValidationError("from must be RFC3339 or YYYY-MM-DD", internal.ErrCodeInvalidDate)
		}
		from = t
	}
	if rawTo != "" {
		t, dateOnly, ok := h.parseBound(rawTo)
		if !ok {
			return time.Time{}, time.Time{}, internal.NewValidationError("to must be RFC3339 or YYYY-MM-DD", internal.ErrCodeInvalidDate)
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		to = t
	} else if rawFrom != "" {
		to = from.AddDate(0, 1, 0)
	}
	return from, to, nil
}

func (h *Handler) parseBound(raw string) (time.Time, bool, bool) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, false, true
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, h.location); err == nil {
		return t, true, true
	}
	return time.Time{}, false, false
}
