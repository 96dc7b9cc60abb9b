package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/stockledger/api/responses"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
)

// Recoverer turns a handler panic into a 500 envelope. The log line carries
// the route's order or product id so the panic can be matched to the
// ledger rows the request touched.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err := fmt.Errorf("panic: %v", rec)
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithFields(ctx, panicFields(w, r, rec))
					logg.Error(ctx, "panic.recovered", err)
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func panicFields(w http.ResponseWriter, r *http.Request, rec any) map[string]any {
	fields := map[string]any{
		"panic":  fmt.Sprint(rec),
		"method": r.Method,
		"path":   r.URL.Path,
	}
	if reqID := w.Header().Get(requestIDHeader); reqID != "" {
		fields["request_id"] = reqID
	}
	for param, field := range map[string]string{"orderId": "order_id", "productId": "product_id"} {
		if id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64); err == nil {
			fields[field] = id
		}
	}
	return fields
}
