package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/shinji-kodama/urlshield/internal/model"
)

type clientKey struct{}

// requestLogger logs every request at debug level once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", routePattern(r),
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// requireClient rejects requests without a valid "client" query parameter
// and stores the name in the request context. Names end up in activity log
// lines, so control characters are refused.
func requireClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("client")
		if name == "" {
			writeText(w, http.StatusBadRequest, "Bad request: missing client query parameter")
			return
		}
		if err := model.ValidateClientName(name); err != nil {
			writeText(w, http.StatusBadRequest, "Bad request: "+err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKey{}, name)))
	})
}

// clientName returns the caller name stored by requireClient.
func clientName(r *http.Request) string {
	name, _ := r.Context().Value(clientKey{}).(string)
	return name
}
