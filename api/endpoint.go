package api

import "net/http"

// Handle is the single raw Encore endpoint fronting the whole REST
// surface. A raw endpoint is the only way to get the unmediated
// http.ResponseWriter/*http.Request pair component G needs to run its
// own chi router and CORS preflight handling instead of Encore's
// generated per-endpoint routing.
//
//encore:api public raw method=GET,POST,DELETE,OPTIONS path=/api/*path
func Handle(w http.ResponseWriter, req *http.Request) {
	s, err := initService()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "service unavailable")
		return
	}
	s.ServeHTTP(w, req)
}
