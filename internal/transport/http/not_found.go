package http

import "net/http"

// NotFoundHandler is the fallback route. It keeps unknown paths on the same
// JSON error shape the rest of the API uses.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "no route for "+r.URL.Path)
	})
}
