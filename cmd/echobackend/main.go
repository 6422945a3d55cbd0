// Command echobackend is a demo backend that describes every request it
// receives, including the headers the gateway adds.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", ":3001", "listen address")
	name := flag.String("name", "echo", "name reported in responses")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		logger.Info("Received request", "method", r.Method, "path", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":         "Hello from " + *name,
			"method":          r.Method,
			"path":            r.URL.RequestURI(),
			"subject":         r.Header.Get("X-Authenticated-Subject"),
			"request_id":      r.Header.Get("X-Request-ID"),
			"forwarded_for":   r.Header.Get("X-Forwarded-For"),
			"forwarded_host":  r.Header.Get("X-Forwarded-Host"),
			"forwarded_proto": r.Header.Get("X-Forwarded-Proto"),
		})
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("Echo backend starting", "addr", *addr, "name", *name)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Echo backend stopped", "error", err)
		os.Exit(1)
	}
}
