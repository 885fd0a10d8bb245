package utils

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// NewRouter constructs the shared router with trailing-slash tolerance and
// request logging.
func NewRouter() *mux.Router {
	r := mux.NewRouter().StrictSlash(true)
	r.Use(requestLogging)
	return r
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		log.Printf("[http] %s %s (%s)", req.Method, req.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}
