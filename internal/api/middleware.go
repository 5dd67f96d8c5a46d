package api

import (
	"fmt"
	"net/http"
)

type errorResponse struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

// errorHandler converts a handler panic into a 500 response instead of
// tearing down the connection with an empty reply.
func (s *Server) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Error().Err(panicError).Str("path", r.URL.Path).Msg("handler panic")
				w.Header().Set("Connection", "close")
				s.writeJson(w, http.StatusInternalServerError, errorResponse{
					StatusCode: http.StatusInternalServerError,
					Message:    "internal server error",
				})
			}
		}()

		next.ServeHTTP(w, r)
	})
}
