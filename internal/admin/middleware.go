package admin

import (
	"crypto/subtle"
	"net/http"

	"github.com/frahmantamala/giftcard-fulfillment/internal"
)

const OperatorKeyHeader = "X-Operator-Key"

// OperatorMiddleware admits requests whose X-Operator-Key matches the
// configured key. An empty configured key rejects everything.
func (h *Handler) OperatorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(OperatorKeyHeader)
		if h.operatorKey == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.operatorKey)) != 1 {
			h.Logger.Warn("operator key rejected", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			h.HandleError(w, internal.ErrInvalidOperatorKey)
			return
		}
		next.ServeHTTP(w, r)
	})
}
