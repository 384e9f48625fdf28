package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/julienschmidt/httprouter"

	"github.com/shineum/epub-relay/internal/relay"
)

// relayMethods are dispatched to the relay handler, which answers 405 itself
// for everything but POST and OPTIONS.
var relayMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
	http.MethodTrace,
}

func newRouter(relayPath string, relayHandler http.Handler) http.Handler {
	hr := &httprouter.Router{
		HandleMethodNotAllowed: true,
		NotFound: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]string{"error": "Not found"}, http.StatusNotFound)
		}),
		MethodNotAllowed: http.HandlerFunc(relay.MethodNotAllowed),
	}

	for _, method := range relayMethods {
		hr.Handler(method, relayPath, relayHandler)
	}

	hr.GET("/healthz", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	return recoverer(hr)
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				//nolint:errorlint // sentinel is compared directly by net/http
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				slog.ErrorContext(r.Context(), "panic while serving request",
					"because", rvr,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				writeJSON(w, map[string]string{"error": "Internal server error"}, http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, data any, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("httpapi: failed to encode response", "error", err)
	}
}
